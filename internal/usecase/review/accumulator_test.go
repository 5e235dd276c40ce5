package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch-dev/codewatch/internal/adapter/llm"
	"github.com/codewatch-dev/codewatch/internal/domain"
)

type fakeStream struct {
	deltas []string
	pos    int
	err    error
}

func (s *fakeStream) Next() (string, bool, error) {
	if s.pos >= len(s.deltas) {
		return "", false, s.err
	}
	d := s.deltas[s.pos]
	s.pos++
	return d, true, nil
}

func (s *fakeStream) Usage() llm.UsageMetadata { return llm.UsageMetadata{} }
func (s *fakeStream) Close() error             { return nil }

type fakeClient struct {
	stream   *fakeStream
	startErr error
}

func (f *fakeClient) StreamCompletion(ctx context.Context, system, user string) (llm.Stream, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.stream, nil
}

func enrichedFixture() domain.EnrichedDiff {
	return domain.EnrichedDiff{Diff: sampleDiff()}
}

func TestAccumulator_Run_ParsesValidResponse(t *testing.T) {
	client := &fakeClient{stream: &fakeStream{deltas: []string{
		`{"summary":"looks fine","issues":[{"file":"a.go","start_line":3,"severity":"major","title":"t","suggestion":"s","confidenceScore":0.9}],"non_blocking_notes":[]}`,
	}}}
	acc := NewAccumulator(client, "openai", "gpt-4o-mini", time.Second, 0.5)

	result, err := acc.Run(context.Background(), enrichedFixture(), nil)
	require.NoError(t, err)
	assert.Equal(t, "looks fine", result.Summary)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "a.go", result.Issues[0].File)
	assert.Equal(t, "openai", result.LLMProvider)
}

func TestAccumulator_Run_ExtractsFromFencedCodeBlock(t *testing.T) {
	client := &fakeClient{stream: &fakeStream{deltas: []string{
		"```json\n",
		`{"summary":"ok","issues":[],"non_blocking_notes":[]}`,
		"\n```",
	}}}
	acc := NewAccumulator(client, "openai", "gpt-4o-mini", time.Second, 0.5)

	result, err := acc.Run(context.Background(), enrichedFixture(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Summary)
}

func TestAccumulator_Run_RejectsTopLevelArray(t *testing.T) {
	client := &fakeClient{stream: &fakeStream{deltas: []string{`[{"summary":"nope"}]`}}}
	acc := NewAccumulator(client, "openai", "gpt-4o-mini", time.Second, 0.5)

	_, err := acc.Run(context.Background(), enrichedFixture(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestAccumulator_Run_SchemaViolationOnGarbage(t *testing.T) {
	client := &fakeClient{stream: &fakeStream{deltas: []string{"definitely not JSON"}}}
	acc := NewAccumulator(client, "openai", "gpt-4o-mini", time.Second, 0.5)

	_, err := acc.Run(context.Background(), enrichedFixture(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestAccumulator_Run_FiltersLowConfidenceIssues(t *testing.T) {
	client := &fakeClient{stream: &fakeStream{deltas: []string{
		`{"summary":"s","issues":[` +
			`{"file":"a.go","start_line":1,"severity":"minor","title":"t1","suggestion":"s1","confidenceScore":0.9},` +
			`{"file":"b.go","start_line":2,"severity":"minor","title":"t2","suggestion":"s2","confidenceScore":0.2}` +
			`],"non_blocking_notes":[]}`,
	}}}
	acc := NewAccumulator(client, "openai", "gpt-4o-mini", time.Second, 0.5)

	result, err := acc.Run(context.Background(), enrichedFixture(), nil)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "a.go", result.Issues[0].File)
}

func TestAccumulator_Run_DefaultsMissingConfidenceToPointFive(t *testing.T) {
	client := &fakeClient{stream: &fakeStream{deltas: []string{
		`{"summary":"s","issues":[{"file":"a.go","start_line":1,"severity":"minor","title":"t","suggestion":"s"}],"non_blocking_notes":[]}`,
	}}}
	acc := NewAccumulator(client, "openai", "gpt-4o-mini", time.Second, 0.5)

	result, err := acc.Run(context.Background(), enrichedFixture(), nil)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
}

func TestAccumulator_Run_StreamReadError(t *testing.T) {
	client := &fakeClient{stream: &fakeStream{deltas: nil, err: errors.New("connection reset")}}
	acc := NewAccumulator(client, "openai", "gpt-4o-mini", time.Second, 0.5)

	_, err := acc.Run(context.Background(), enrichedFixture(), nil)
	require.Error(t, err)
}

func TestNewAccumulator_FallsBackToDefaults(t *testing.T) {
	acc := NewAccumulator(&fakeClient{}, "openai", "gpt-4o-mini", 0, -1)
	assert.Equal(t, defaultStreamTimeout, acc.streamTimeout)
	assert.Equal(t, defaultConfidenceThreshold, acc.confidenceThreshold)
}
