package identify

import (
	"github.com/vbonduro/minerallens/internal/chat"
	"github.com/vbonduro/minerallens/internal/domain"
)

// State is one of Upload, Analyzing or Result.
type State interface {
	View() domain.ViewState
}

type Upload struct{}

// Analyzing holds the image while the analysis call is outstanding.
type Analyzing struct {
	Image *domain.EncodedImage
}

// Result is the only state carrying an analysis and its chat; both appear and
// disappear together.
type Result struct {
	Image    *domain.EncodedImage
	Analysis *domain.MineralAnalysis
	Chat     *chat.Session
}

func (Upload) View() domain.ViewState    { return domain.ViewUpload }
func (Analyzing) View() domain.ViewState { return domain.ViewAnalyzing }
func (Result) View() domain.ViewState    { return domain.ViewResult }

// Snapshot is the serializable view model of a controller.
type Snapshot struct {
	State          domain.ViewState        `json:"state"`
	HasImage       bool                    `json:"hasImage"`
	ImageMediaType string                  `json:"imageMediaType,omitempty"`
	Analysis       *domain.MineralAnalysis `json:"analysis,omitempty"`
	Messages       []domain.ChatMessage    `json:"messages"`
	ChatBusy       bool                    `json:"chatBusy"`
}
