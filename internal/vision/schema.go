package vision

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

const (
	minStories    = 2
	maxStories    = 3
	numCandidates = 3
)

// requiredFields lists every top-level analysis field; all are mandatory.
var requiredFields = []string{
	"nameChinese", "nameEnglish", "chemicalFormula", "confidenceLevel",
	"description", "historicalStories", "socialMediaTopics",
	"identificationReasons", "otherCandidates", "references",
}

// AnalysisSchema returns the JSON schema of domain.MineralAnalysis.
func AnalysisSchema() *jsonschema.Schema {
	str := func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "string", Description: desc}
	}
	strList := func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}, Description: desc}
	}

	stories := strList("2 to 3 interesting historical stories, myths, or trivia related to this mineral in Traditional Chinese (繁體中文)")
	stories.MinItems = intPtr(minStories)
	stories.MaxItems = intPtr(maxStories)

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"nameChinese":     str("Name of the mineral in Traditional Chinese (繁體中文)"),
			"nameEnglish":     str("Name of the mineral in English"),
			"chemicalFormula": str("Chemical formula of the mineral"),
			"confidenceLevel": {
				Type:        "integer",
				Description: "Confidence score between 0 and 100",
				Minimum:     floatPtr(0),
				Maximum:     floatPtr(100),
			},
			"description":       str("Detailed scientific description of the mineral in Traditional Chinese (繁體中文)"),
			"historicalStories": stories,
			"socialMediaTopics": strList("Popular discussion topics, memes, or myths found on social media (Threads, Reddit, Instagram) about this mineral in Traditional Chinese (繁體中文)"),
			"identificationReasons": strList(
				"Visual reasons why this mineral was identified, ordered by importance, in Traditional Chinese (繁體中文)"),
			"otherCandidates": {
				Type:        "array",
				Description: "Exactly 3 other possible minerals with their confidence levels",
				MinItems:    intPtr(numCandidates),
				MaxItems:    intPtr(numCandidates),
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"name": str("Name of the alternative mineral in Traditional Chinese (繁體中文)"),
						"confidence": {
							Type:        "integer",
							Description: "Confidence score for this alternative (must be lower than main confidence)",
						},
					},
					Required: []string{"name", "confidence"},
				},
			},
			"references": {
				Type:        "array",
				Description: "Real, valid reference websites for this mineral",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"url":         {Type: "string"},
						"title":       {Type: "string"},
						"description": str("Short description of the website in Traditional Chinese (繁體中文)"),
					},
					Required: []string{"url", "title", "description"},
				},
			},
		},
		Required: requiredFields,
	}
}

// ValidateAnalysis checks a raw JSON document against AnalysisSchema.
func ValidateAnalysis(data []byte) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	resolved, err := AnalysisSchema().Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve analysis schema: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
