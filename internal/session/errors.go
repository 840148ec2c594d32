package session

import (
	"fmt"

	"github.com/tonimelisma/abide/internal/drive"
)

// Upload steps, in execution order.
const (
	StepFolder  = "folder"
	StepUpload  = "upload"
	StepPublic  = "public"
	StepTags    = "tags"
	StepRefresh = "refresh"
)

// StepError reports which step of an upload action failed. ID is set when
// the file was already created before the failure. ActionID matches the
// action_id attribute of the action's log lines.
type StepError struct {
	Step     string
	ID       drive.MediaID
	ActionID string
	Err      error
}

func (e *StepError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s step failed after upload of %s: %v", e.Step, e.ID, e.Err)
	}

	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
