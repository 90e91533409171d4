package workflow

import (
	"errors"
	"time"
)

// State is the controller's position in the upload/generate cycle.
type State int

const (
	Empty State = iota
	Selected
	Generating
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Selected:
		return "selected"
	case Generating:
		return "generating"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrNoImageSelected  = errors.New("no image selected")
	ErrSubmitInProgress = errors.New("a generation is already in progress")
	ErrNothingToCopy    = errors.New("no generated prompt to copy")
)

// User-facing messages. Diagnostic detail goes to the log, never here.
const (
	NoImageMessage = "Please upload an image first."
	FailureMessage = "Failed to generate prompt. Please try again."
)

// DefaultCopiedTTL is how long the "copied" indicator stays raised.
const DefaultCopiedTTL = 2 * time.Second

// Selection describes the current image. The bytes live in the preview
// store under PreviewKey.
type Selection struct {
	Name       string
	MediaType  string
	Size       int64
	PreviewKey string
}

// View is an immutable snapshot for the display surface.
type View struct {
	State     State
	Loading   bool
	Selection *Selection
	Result    string
	Error     string
	Copied    bool
}

func (v View) HasImage() bool {
	return v.Selection != nil
}
