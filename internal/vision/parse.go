package vision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vbonduro/minerallens/internal/domain"
)

// DecodeAnalysis parses the model's JSON reply into a MineralAnalysis.
// Cardinalities are not checked here; see ValidateAnalysis.
func DecodeAnalysis(raw string) (*domain.MineralAnalysis, error) {
	data := stripFences(raw)
	if len(data) == 0 {
		return nil, ErrEmptyResponse
	}

	var analysis domain.MineralAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &analysis, nil
}

// DecodeValidatedAnalysis is DecodeAnalysis followed by a schema check, for
// backends that cannot constrain generation to the schema themselves.
func DecodeValidatedAnalysis(raw string) (*domain.MineralAnalysis, error) {
	data := stripFences(raw)
	if len(data) == 0 {
		return nil, ErrEmptyResponse
	}
	if err := ValidateAnalysis(data); err != nil {
		return nil, err
	}
	return DecodeAnalysis(string(data))
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(raw string) []byte {
	b := bytes.TrimSpace([]byte(raw))
	if !bytes.HasPrefix(b, []byte("```")) {
		return b
	}
	b = bytes.TrimPrefix(b, []byte("```json"))
	b = bytes.TrimPrefix(b, []byte("```"))
	b = bytes.TrimSuffix(b, []byte("```"))
	return bytes.TrimSpace(b)
}

// CandidateConflicts returns the alternative candidates whose confidence is
// not strictly below the primary confidence.
func CandidateConflicts(a *domain.MineralAnalysis) []domain.Candidate {
	var out []domain.Candidate
	for _, c := range a.OtherCandidates {
		if c.Confidence >= a.ConfidenceLevel {
			out = append(out, c)
		}
	}
	return out
}

// SchemaPrompt renders the analysis schema for backends that take it as text.
func SchemaPrompt() string {
	data, err := json.MarshalIndent(AnalysisSchema(), "", "  ")
	if err != nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Respond with a single JSON object and nothing else. It must validate against this JSON schema:\n")
	sb.Write(data)
	return sb.String()
}
