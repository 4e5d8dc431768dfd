// Package disk implements the vault collaborator on top of a local
// filesystem tree. Containers are directories below a configured base
// directory, and object ids are base-relative file paths.
package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hbomb79/Muse/internal/vault"
)

// TrashDirName is the directory (below the base) which receives
// trashed objects. Files inside it are recoverable by hand.
const TrashDirName = ".trash"

type Driver struct {
	base string
}

// New constructs a disk driver rooted at the given base directory. The
// directory is created if it's missing; a base path pointing at an
// existing file is an error.
func New(base string) (*Driver, error) {
	if info, err := os.Stat(base); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("vault base path '%s' is not a directory", base)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(base, os.ModeDir|os.ModePerm); err != nil {
			return nil, fmt.Errorf("vault base path '%s' could not be created: %w", base, err)
		}
	} else {
		return nil, fmt.Errorf("vault base path '%s' could not be accessed: %w", base, err)
	}

	return &Driver{base: base}, nil
}

// ResolveObjectID accepts a 'file://' URL or a plain path, relative to the
// vault base or absolute-but-below-it. Anything that does not name an
// existing regular file resolves to nothing.
func (driver *Driver) ResolveObjectID(reference string) string {
	ref := strings.TrimSpace(reference)
	ref = strings.TrimPrefix(ref, "file://")
	if ref == "" {
		return ""
	}

	if filepath.IsAbs(ref) {
		rel, err := filepath.Rel(driver.base, ref)
		if err != nil || strings.HasPrefix(rel, "..") {
			return ""
		}
		ref = rel
	}

	ref = filepath.Clean(ref)
	if info, err := os.Stat(driver.abs(ref)); err != nil || info.IsDir() {
		return ""
	}

	return ref
}

func (driver *Driver) EnsureContainer(parentID string, name string) (string, error) {
	id := filepath.Join(parentID, name)
	if err := os.MkdirAll(driver.abs(id), os.ModeDir|os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to ensure container '%s': %w", id, err)
	}

	return id, nil
}

func (driver *Driver) ListNames(containerID string, prefix string) ([]string, error) {
	entries, err := os.ReadDir(driver.abs(containerID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to list container '%s': %w", containerID, err)
	}

	prefixLower := strings.ToLower(prefix)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if strings.HasPrefix(strings.ToLower(entry.Name()), prefixLower) {
			names = append(names, entry.Name())
		}
	}

	return names, nil
}

func (driver *Driver) Download(objectID string) (*vault.Object, error) {
	data, err := os.ReadFile(driver.abs(objectID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, vault.ErrObjectNotFound
		}

		return nil, fmt.Errorf("failed to download object '%s': %w", objectID, err)
	}

	return &vault.Object{
		ID:       objectID,
		Name:     filepath.Base(objectID),
		MimeType: mimetype.Detect(data).String(),
		Data:     data,
	}, nil
}

func (driver *Driver) Upload(containerID string, name string, data []byte, mimeType string) (string, error) {
	id := filepath.Join(containerID, name)
	if err := os.WriteFile(driver.abs(id), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to upload object '%s': %w", id, err)
	}

	return id, nil
}

// Capabilities reports deletability based on the write bits of the
// objects parent directory; an unwritable parent means neither unlinking
// nor renaming out of it will succeed.
func (driver *Driver) Capabilities(objectID string) (vault.Capabilities, error) {
	info, err := os.Stat(filepath.Dir(driver.abs(objectID)))
	if err != nil {
		return vault.Capabilities{}, fmt.Errorf("failed to inspect parent of object '%s': %w", objectID, err)
	}

	writable := info.Mode().Perm()&0o200 != 0
	return vault.Capabilities{CanDelete: writable, CanTrash: writable}, nil
}

func (driver *Driver) HardDelete(objectID string) error {
	if err := os.Remove(driver.abs(objectID)); err != nil {
		return fmt.Errorf("failed to delete object '%s': %w", objectID, err)
	}

	return nil
}

// Trash moves the object in to the drivers trash directory. The
// original name is preserved, prefixed with a timestamp to avoid
// collisions between repeated trashings of same-named files.
func (driver *Driver) Trash(objectID string) error {
	trashID, err := driver.EnsureContainer(vault.RootContainer, TrashDirName)
	if err != nil {
		return err
	}

	trashName := fmt.Sprintf("%d_%s", time.Now().UnixNano(), filepath.Base(objectID))
	if err := os.Rename(driver.abs(objectID), driver.abs(filepath.Join(trashID, trashName))); err != nil {
		return fmt.Errorf("failed to trash object '%s': %w", objectID, err)
	}

	return nil
}

func (driver *Driver) Parents(objectID string) ([]string, error) {
	parent := filepath.Dir(objectID)
	if parent == "." {
		parent = vault.RootContainer
	}

	return []string{parent}, nil
}

// Move relocates the object in to addParent. A file has exactly one
// parent on disk, so removeParents is implied by the rename and only
// validated for emptiness.
func (driver *Driver) Move(objectID string, _ []string, addParent string) error {
	dest := filepath.Join(addParent, filepath.Base(objectID))
	if err := os.Rename(driver.abs(objectID), driver.abs(dest)); err != nil {
		return fmt.Errorf("failed to move object '%s' to '%s': %w", objectID, addParent, err)
	}

	return nil
}

func (driver *Driver) abs(id string) string {
	return filepath.Join(driver.base, id)
}
