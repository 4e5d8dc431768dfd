package transfer

import (
	"errors"
	"fmt"

	"github.com/hbomb79/Muse/internal/naming"
	"github.com/hbomb79/Muse/internal/submission"
	"github.com/hbomb79/Muse/internal/vault"
)

type (
	TroubleType int

	// Trouble is a typed per-record failure. A trouble halts the record
	// it belongs to - leaving it's commit flag untouched so the record is
	// retried on the next run - but never the surrounding run.
	Trouble struct {
		error
		tType    TroubleType
		failedAt PipelineStage
	}
)

const (
	MALFORMED_ROW TroubleType = iota
	NAMING_FAILURE
	TRANSFER_FAILURE
	CLEANUP_FAILURE
	COMMIT_FAILURE
	GENERIC_FAILURE
)

// newTrouble wraps a pipeline error with the stage it occurred at,
// classifying it by the well-known error kinds of the collaborators.
func newTrouble(stage PipelineStage, err error) Trouble {
	var malformed submission.MalformedRowError
	switch {
	case errors.As(err, &malformed):
		return Trouble{error: err, tType: MALFORMED_ROW, failedAt: stage}
	case errors.Is(err, naming.ErrInvalidName):
		return Trouble{error: err, tType: NAMING_FAILURE, failedAt: stage}
	case errors.Is(err, vault.ErrUnableToClean):
		return Trouble{error: err, tType: CLEANUP_FAILURE, failedAt: stage}
	}

	switch stage {
	case SourceCleaned:
		return Trouble{error: err, tType: CLEANUP_FAILURE, failedAt: stage}
	case Committed:
		return Trouble{error: err, tType: COMMIT_FAILURE, failedAt: stage}
	case NamespaceResolved, Downloaded, VersionResolved, Uploaded:
		return Trouble{error: err, tType: TRANSFER_FAILURE, failedAt: stage}
	}

	return Trouble{error: err, tType: GENERIC_FAILURE, failedAt: stage}
}

func (t *Trouble) Type() TroubleType { return t.tType }

// FailedAt reports the pipeline stage whose transition raised this trouble.
func (t *Trouble) FailedAt() PipelineStage { return t.failedAt }

func (t *Trouble) String() string {
	return fmt.Sprintf("Trouble{type=%s at=%s}: %s", t.tType, t.failedAt, t.error.Error())
}

func (t TroubleType) String() string {
	switch t {
	case MALFORMED_ROW:
		return fmt.Sprintf("MALFORMED_ROW[%d]", t)
	case NAMING_FAILURE:
		return fmt.Sprintf("NAMING_FAILURE[%d]", t)
	case TRANSFER_FAILURE:
		return fmt.Sprintf("TRANSFER_FAILURE[%d]", t)
	case CLEANUP_FAILURE:
		return fmt.Sprintf("CLEANUP_FAILURE[%d]", t)
	case COMMIT_FAILURE:
		return fmt.Sprintf("COMMIT_FAILURE[%d]", t)
	default:
		return fmt.Sprintf("GENERIC_FAILURE[%d]", t)
	}
}
