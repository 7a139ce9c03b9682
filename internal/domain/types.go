package domain

import "encoding/base64"

// EncodedImage is an uploaded photo in transport form: base64 text plus the
// media type the client declared for it.
type EncodedImage struct {
	Data      string
	MediaType string
}

// Bytes decodes the base64 payload.
func (e *EncodedImage) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.Data)
}

type Candidate struct {
	Name       string `json:"name"`
	Confidence int    `json:"confidence"`
}

type Reference struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// MineralAnalysis is the structured identification returned by the model.
// IdentificationReasons is ordered by importance, most important first.
type MineralAnalysis struct {
	NameChinese           string      `json:"nameChinese"`
	NameEnglish           string      `json:"nameEnglish"`
	ChemicalFormula       string      `json:"chemicalFormula"`
	ConfidenceLevel       int         `json:"confidenceLevel"`
	Description           string      `json:"description"`
	HistoricalStories     []string    `json:"historicalStories"`
	SocialMediaTopics     []string    `json:"socialMediaTopics"`
	IdentificationReasons []string    `json:"identificationReasons"`
	OtherCandidates       []Candidate `json:"otherCandidates"`
	References            []Reference `json:"references"`
}

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type ChatMessage struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

type ViewState string

const (
	ViewUpload    ViewState = "upload"
	ViewAnalyzing ViewState = "analyzing"
	ViewResult    ViewState = "result"
)
