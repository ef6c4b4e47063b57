package findings

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// DefaultPrompt asks a vision model for findings in the corner shape
const DefaultPrompt = `You are a radiology assistant marking regions of interest on a medical image.

Return JSON only:
{
  "findings": [
    {"id": "string", "label": "string", "confidence": 0.0, "xMin": 0.0, "yMin": 0.0, "xMax": 0.0, "yMax": 0.0}
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels), origin top-left.
- xMin < xMax and yMin < yMax.
- label is a short radiological term (e.g. "nodule", "pleural effusion", "rib fracture").
- confidence is your probability in [0,1].
- If nothing is found return {"findings": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Request is one analysis call
type Request struct {
	Model    string
	Prompt   string
	ImageB64 string
}

// Source produces findings for an image
type Source interface {
	Findings(ctx context.Context, req Request) ([]Finding, error)
}

// Static is a Source returning a fixed list, used for replays and
// pre-computed analyses
type Static []Finding

// Findings returns a copy of the list
func (s Static) Findings(context.Context, Request) ([]Finding, error) {
	out := make([]Finding, len(s))
	copy(out, s)
	return out, nil
}

type envelope struct {
	Findings []Finding `json:"findings"`
}

// ParseResponse extracts findings from a model reply. Both an envelope
// object {"findings": [...]} and a bare array are accepted.
func ParseResponse(raw string) ([]Finding, error) {
	raw = SanitizeModelJSON(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty model response", ErrInvalidFinding)
	}

	if strings.HasPrefix(raw, "[") {
		var list []Finding
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, fmt.Errorf("failed to parse findings array: %w", err)
		}
		return list, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("failed to parse findings: %w", err)
	}
	return env.Findings, nil
}

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// SanitizeModelJSON strips code fences, comments and trailing commas, and
// keeps only the outermost JSON object or array
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	obj := strings.Index(raw, "{")
	arr := strings.Index(raw, "[")
	switch {
	case arr >= 0 && (obj < 0 || arr < obj):
		if end := strings.LastIndex(raw, "]"); end > arr {
			raw = raw[arr : end+1]
		}
	case obj >= 0:
		if end := strings.LastIndex(raw, "}"); end > obj {
			raw = raw[obj : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
