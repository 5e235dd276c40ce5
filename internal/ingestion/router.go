package ingestion

import (
	"github.com/codewatch-dev/codewatch/internal/adapter/broker"
	"github.com/codewatch-dev/codewatch/internal/domain"
)

// modeToStream backs the C4 Review-Mode Router (RouteStream): a pure, total
// function from ReviewMode to stream key. Deliberately a 2-entry table — do not let it
// accrete behavior (Design Note §9).
var modeToStream = map[domain.ReviewMode]string{
	domain.ReviewModeDiff:    broker.StreamDiffRequests,
	domain.ReviewModeAgentic: broker.StreamAgenticRequests,
}

// RouteStream returns the target stream key for a review mode. An empty
// mode is normalized to DIFF before lookup.
func RouteStream(mode domain.ReviewMode) string {
	return modeToStream[mode.Normalize()]
}
