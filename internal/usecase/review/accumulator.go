package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/codewatch-dev/codewatch/internal/adapter/llm"
	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
	"github.com/codewatch-dev/codewatch/internal/domain"
)

// ErrSchemaViolation is returned when the accumulated buffer parses as JSON
// but does not conform to the review-result schema, or is a top-level
// array. Callers map this to status=FAILED, error="LLM_SCHEMA_VIOLATION".
var ErrSchemaViolation = errors.New("LLM_SCHEMA_VIOLATION")

const defaultStreamTimeout = 60 * time.Second
const defaultConfidenceThreshold = 0.5

// reviewResultSchema is the draft-07 schema spec.md fixes for the review
// result: no additional properties at any level, required start_line/line
// minimums, and the closed severity enum.
const reviewResultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["summary", "issues", "non_blocking_notes"],
  "properties": {
    "summary": {"type": "string"},
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["file", "start_line", "severity", "title", "suggestion"],
        "properties": {
          "file": {"type": "string"},
          "start_line": {"type": "integer", "minimum": 1},
          "severity": {"type": "string", "enum": ["critical", "major", "minor", "info"]},
          "title": {"type": "string"},
          "suggestion": {"type": "string"},
          "confidenceScore": {"type": "number", "minimum": 0, "maximum": 1},
          "confidenceExplanation": {"type": "string"},
          "suggestedFix": {"type": "string"}
        }
      }
    },
    "non_blocking_notes": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["file", "line", "note"],
        "properties": {
          "file": {"type": "string"},
          "line": {"type": "integer", "minimum": 1},
          "note": {"type": "string"}
        }
      }
    }
  }
}`

var compiledSchema = gojsonschema.NewStringLoader(reviewResultSchema)

// wireIssue/wireNote/wireResult mirror the schema's snake_case wire shape;
// Accumulator.parse maps them onto the domain model's camelCase fields.
type wireIssue struct {
	File                  string   `json:"file"`
	StartLine             int      `json:"start_line"`
	Severity              string   `json:"severity"`
	Title                 string   `json:"title"`
	Suggestion            string   `json:"suggestion"`
	ConfidenceScore       *float64 `json:"confidenceScore,omitempty"`
	ConfidenceExplanation string   `json:"confidenceExplanation,omitempty"`
	SuggestedFix          string   `json:"suggestedFix,omitempty"`
}

type wireNote struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Note string `json:"note"`
}

type wireResult struct {
	Summary          string      `json:"summary"`
	Issues           []wireIssue `json:"issues"`
	NonBlockingNotes []wireNote  `json:"non_blocking_notes"`
}

// Accumulator drives a streaming LLM client to completion and turns the
// accumulated buffer into a confidence-filtered ReviewResult.
type Accumulator struct {
	client              llm.StreamClient
	provider            string
	model               string
	streamTimeout       time.Duration
	confidenceThreshold float64
}

// NewAccumulator builds an Accumulator over client. A non-positive
// streamTimeout or an out-of-[0,1] confidenceThreshold falls back to the
// spec defaults (60s, 0.5).
func NewAccumulator(client llm.StreamClient, provider, model string, streamTimeout time.Duration, confidenceThreshold float64) *Accumulator {
	if streamTimeout <= 0 {
		streamTimeout = defaultStreamTimeout
	}
	if confidenceThreshold < 0 || confidenceThreshold > 1 {
		confidenceThreshold = defaultConfidenceThreshold
	}
	return &Accumulator{
		client:              client,
		provider:            provider,
		model:               model,
		streamTimeout:       streamTimeout,
		confidenceThreshold: confidenceThreshold,
	}
}

// Run builds the prompts for enriched, streams the completion under an
// absolute timeout, and parses/validates/filters the result.
func (a *Accumulator) Run(ctx context.Context, enriched domain.EnrichedDiff, userPrompt *string) (domain.ReviewResult, error) {
	system := BuildSystemPrompt()
	user := BuildUserPrompt(enriched, userPrompt)

	ctx, cancel := context.WithTimeout(ctx, a.streamTimeout)
	defer cancel()

	stream, err := a.client.StreamCompletion(ctx, system, user)
	if err != nil {
		return domain.ReviewResult{}, fmt.Errorf("review: stream completion: %w", err)
	}
	defer stream.Close()

	var buf []byte
	for {
		delta, ok, err := stream.Next()
		if err != nil {
			return domain.ReviewResult{}, fmt.Errorf("review: stream read: %w", err)
		}
		if !ok {
			break
		}
		buf = append(buf, delta...)
	}

	raw := string(buf)
	result, err := a.parse(raw)
	if err != nil {
		return domain.ReviewResult{}, err
	}

	result.LLMProvider = a.provider
	result.LLMModel = a.model
	result.RawLLMResponse = raw
	return result, nil
}

// parse extracts the candidate JSON object from raw, validates it against
// the schema, and applies the confidence filter.
func (a *Accumulator) parse(raw string) (domain.ReviewResult, error) {
	candidate := llmhttp.ExtractJSONFromMarkdown(raw)
	obj, ok := llmhttp.ExtractFirstJSONObject(candidate)
	if !ok {
		return domain.ReviewResult{}, ErrSchemaViolation
	}

	docLoader := gojsonschema.NewStringLoader(obj)
	validation, err := gojsonschema.Validate(compiledSchema, docLoader)
	if err != nil || !validation.Valid() {
		return domain.ReviewResult{}, ErrSchemaViolation
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return domain.ReviewResult{}, ErrSchemaViolation
	}

	result := domain.ReviewResult{Summary: wire.Summary}
	for _, n := range wire.NonBlockingNotes {
		result.NonBlockingNotes = append(result.NonBlockingNotes, domain.Note{
			File: n.File,
			Line: n.Line,
			Note: n.Note,
		})
	}

	for _, wi := range wire.Issues {
		sev := domain.Severity(wi.Severity)
		if !sev.Valid() || wi.StartLine < 1 {
			continue
		}
		issue := domain.Issue{
			File:                  wi.File,
			StartLine:             wi.StartLine,
			Severity:              sev,
			Title:                 wi.Title,
			Suggestion:            wi.Suggestion,
			ConfidenceScore:       wi.ConfidenceScore,
			ConfidenceExplanation: wi.ConfidenceExplanation,
			SuggestedFix:          wi.SuggestedFix,
		}
		if issue.EffectiveConfidence() < a.confidenceThreshold {
			continue
		}
		result.Issues = append(result.Issues, issue)
	}

	return result, nil
}
