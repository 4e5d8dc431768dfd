package vault

import (
	"errors"
	"fmt"

	"github.com/hbomb79/Muse/pkg/logger"
)

var cleanupLogger = logger.Get("Cleanup")

// ErrUnableToClean indicates every cleanup tier was exhausted without the
// source object being removed from circulation.
var ErrUnableToClean = errors.New("unable to delete, trash or quarantine object")

// DefaultQuarantineName is the container lazily created at the vault root
// to hold originals which could neither be deleted nor trashed.
const DefaultQuarantineName = "Muse_ProcessedOriginals"

type (
	Outcome int

	// CleanupResult is the terminal outcome of a cleanup attempt. A source
	// object receives at most one terminal outcome per pipeline run; once
	// any outcome is reached no further tiers are attempted.
	CleanupResult struct {
		Outcome Outcome

		// QuarantineID holds the id of the quarantine container when
		// Outcome is Quarantined.
		QuarantineID string
	}

	// Cleaner removes a source object using a tiered sequence of
	// increasingly conservative operations: hard delete, then trash, then
	// a move in to a dedicated quarantine container.
	Cleaner struct {
		vault          Vault
		quarantineName string
	}
)

const (
	Deleted Outcome = iota
	Trashed
	Quarantined
)

func (outcome Outcome) String() string {
	switch outcome {
	case Deleted:
		return fmt.Sprintf("DELETED[%d]", outcome)
	case Trashed:
		return fmt.Sprintf("TRASHED[%d]", outcome)
	case Quarantined:
		return fmt.Sprintf("QUARANTINED[%d]", outcome)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", outcome)
	}
}

func NewCleaner(vault Vault, quarantineName string) *Cleaner {
	if quarantineName == "" {
		quarantineName = DefaultQuarantineName
	}

	return &Cleaner{vault: vault, quarantineName: quarantineName}
}

// Clean removes the given object from circulation. Tiers are attempted in
// order (hard delete, trash, quarantine move), each only if the backends
// reported capabilities allow it. When the backend reports that BOTH delete
// and trash are disallowed, the first two tiers are skipped outright to
// avoid two guaranteed-failing round trips; if capability information is
// unavailable, both tiers are attempted anyway.
//
// The final tier moves the object in to a lazily-created quarantine
// container, detaching it from it's current parent container(s) so it does
// not reappear in the intake listing. If that also fails, ErrUnableToClean
// is returned.
func (cleaner *Cleaner) Clean(objectID string, intakeContainerID string) (*CleanupResult, error) {
	canDelete, canTrash := true, true
	if caps, err := cleaner.vault.Capabilities(objectID); err != nil {
		cleanupLogger.Emit(logger.DEBUG, "Failed to read capabilities for object %s (%v); will attempt delete/trash anyway\n", objectID, err)
	} else {
		canDelete, canTrash = caps.CanDelete, caps.CanTrash
	}

	if !canDelete && !canTrash {
		cleanupLogger.Emit(logger.INFO, "Skipping delete/trash tiers for object %s due to reported capabilities\n", objectID)
	}

	if canDelete || canTrash {
		if err := cleaner.vault.HardDelete(objectID); err == nil {
			return &CleanupResult{Outcome: Deleted}, nil
		} else {
			cleanupLogger.Emit(logger.WARNING, "Hard delete of object %s failed: %v\n", objectID, err)
		}

		if err := cleaner.vault.Trash(objectID); err == nil {
			return &CleanupResult{Outcome: Trashed}, nil
		} else {
			cleanupLogger.Emit(logger.WARNING, "Trash of object %s failed: %v\n", objectID, err)
		}
	}

	quarantineID, err := cleaner.vault.EnsureContainer(RootContainer, cleaner.quarantineName)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve quarantine container: %v", ErrUnableToClean, err)
	}

	parents, err := cleaner.vault.Parents(objectID)
	if err != nil {
		cleanupLogger.Emit(logger.WARNING, "Failed to fetch parents of object %s before quarantine move: %v\n", objectID, err)
		parents = nil
	}

	// Prefer detaching only the intake container when it is a known parent;
	// fall back to detaching all current parents.
	removeParents := parents
	for _, parent := range parents {
		if parent == intakeContainerID {
			removeParents = []string{intakeContainerID}
			break
		}
	}

	if err := cleaner.vault.Move(objectID, removeParents, quarantineID); err != nil {
		return nil, fmt.Errorf("%w: quarantine move failed: %v", ErrUnableToClean, err)
	}

	cleanupLogger.Emit(logger.REMOVE, "Moved object %s to quarantine container %s\n", objectID, quarantineID)
	return &CleanupResult{Outcome: Quarantined, QuarantineID: quarantineID}, nil
}
