// Package vault defines the object storage collaborator the transfer
// pipeline depends on, along with the tiered cleanup routine used to
// remove source objects from the intake container.
package vault

import "errors"

// RootContainer addresses the drivers top-level container (the meaning
// of "root" is driver specific: bucket root, base directory, ...).
const RootContainer = ""

var ErrObjectNotFound = errors.New("object does not exist in this vault")

type (
	// Object is a fully-downloaded source object: identity, display
	// name (including extension), reported mime type and raw content.
	Object struct {
		ID       string
		Name     string
		MimeType string
		Data     []byte
	}

	// Capabilities reports which destructive operations the backend will
	// permit for a given object. Backends which cannot answer should
	// return an error from Capabilities() rather than guessing.
	Capabilities struct {
		CanDelete bool
		CanTrash  bool
	}

	// Vault is the abstract object storage collaborator. Implementations
	// own retries, timeouts and pagination; in particular ListNames MUST
	// return the complete listing even when the backend pages results.
	Vault interface {
		// ResolveObjectID extracts an object id from a user-supplied
		// reference (URL or opaque id). An empty return means no id was
		// extractable; this is an expected condition, not an error.
		ResolveObjectID(reference string) string

		// EnsureContainer finds or creates a child container of parentID
		// with the given name, returning it's id.
		EnsureContainer(parentID string, name string) (string, error)

		// ListNames returns the names of every object in the container
		// whose name starts with the given prefix.
		ListNames(containerID string, prefix string) ([]string, error)

		Download(objectID string) (*Object, error)
		Upload(containerID string, name string, data []byte, mimeType string) (string, error)

		Capabilities(objectID string) (Capabilities, error)
		HardDelete(objectID string) error
		Trash(objectID string) error

		// Parents lists the container(s) currently holding the object.
		Parents(objectID string) ([]string, error)

		// Move attaches the object to addParent and detaches it from each
		// of removeParents.
		Move(objectID string, removeParents []string, addParent string) error
	}
)
