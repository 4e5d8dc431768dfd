// Package naming derives deterministic archive identifiers from submission
// records, and resolves them to collision-free versioned names against an
// existing destination namespace.
package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hbomb79/Muse/internal/submission"
)

// ErrInvalidName indicates a caller handed ResolveVersion a desired name
// without the mandatory '_vN' suffix; the resolver never guesses a version.
var ErrInvalidName = errors.New("desired name must include a '_vN' suffix before the extension (e.g. '_v1')")

var (
	versionSuffixPattern = regexp.MustCompile(`_v(\d+)$`)
	segmentSplitPattern  = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// timestampLayout matches form-submission timestamps such as "5/19/2025 23:16:40".
const timestampLayout = "1/2/2006 15:04:05"

// NamespaceLister is the single slice of the object storage collaborator
// this package depends on. Implementations MUST paginate internally; the
// resolver assumes the returned listing is complete regardless of how
// large the namespace is.
type NamespaceLister interface {
	ListNames(containerID string, prefix string) ([]string, error)
}

// Sanitize normalizes a user-entered field for filename use:
// trim, treat underscores as separators, split on whitespace and any
// non-alphanumeric run, TitleCase each segment, join with no separator.
// Characters immediately following separators (e.g. '/', '-') therefore
// keep their capitalisation in the result.
func Sanitize(value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return ""
	}

	raw = strings.ReplaceAll(raw, "_", " ")

	pieces := make([]string, 0)
	for _, word := range strings.Fields(raw) {
		for _, segment := range segmentSplitPattern.Split(word, -1) {
			if segment == "" {
				continue
			}

			pieces = append(pieces, strings.ToUpper(segment[:1])+strings.ToLower(segment[1:]))
		}
	}

	return strings.Join(pieces, "")
}

// Season computes the season label for a submission timestamp: the calendar
// year, rolled over to the next year when the month falls in the final two
// months of the calendar year.
func Season(timestamp string) (string, error) {
	parsed, err := time.Parse(timestampLayout, strings.TrimSpace(timestamp))
	if err != nil {
		return "", fmt.Errorf("failed to parse submission timestamp '%s': %w", timestamp, err)
	}

	year := parsed.Year()
	if parsed.Month() >= time.November {
		year++
	}

	return strconv.Itoa(year), nil
}

// BuildKey derives the deterministic base identifier (no version, no
// extension) for a record, along with the season it was computed from. Two
// records with identical identifying fields and timestamps in the same
// season always produce the same key.
func BuildKey(record *submission.Record) (key string, season string, err error) {
	season, err = Season(record.Timestamp)
	if err != nil {
		return "", "", err
	}

	leader := Sanitize(record.LeaderFirst) + Sanitize(record.LeaderLast)
	follower := Sanitize(record.FollowerFirst) + Sanitize(record.FollowerLast)

	parts := []string{leader, follower, Sanitize(record.Division), season}
	if routine := Sanitize(record.RoutineName); routine != "" {
		parts = append(parts, routine)
	}
	if descriptor := Sanitize(record.Descriptor); descriptor != "" {
		parts = append(parts, descriptor)
	}

	return strings.Join(parts, "_"), season, nil
}

// ResolveVersion resolves the desired name (which must carry a '_vN'
// suffix before it's extension) to the first available versioned name
// inside the given namespace. The resolved version is the smallest integer
// >= N that is not already used as a '_vN' suffix by an existing name
// sharing the same stem and extension (both compared case-insensitively).
func ResolveVersion(lister NamespaceLister, containerID string, desired string) (string, int, error) {
	base, ext := splitExtension(desired)

	match := versionSuffixPattern.FindStringSubmatch(base)
	if match == nil {
		return "", 0, ErrInvalidName
	}

	baseRoot := base[:len(base)-len(match[0])]
	startVersion, _ := strconv.Atoi(match[1])

	names, err := lister.ListNames(containerID, baseRoot+"_v")
	if err != nil {
		return "", 0, fmt.Errorf("failed to list destination namespace: %w", err)
	}

	baseRootLower := strings.ToLower(baseRoot)
	extLower := strings.ToLower(ext)

	used := make(map[int]bool)
	for _, name := range names {
		nameLower := strings.ToLower(name)

		if extLower != "" && !strings.HasSuffix(nameLower, extLower) {
			continue
		}

		stem := nameLower
		if extLower != "" {
			stem = nameLower[:len(nameLower)-len(extLower)]
		}
		if !strings.HasPrefix(stem, baseRootLower) {
			continue
		}

		if m := versionSuffixPattern.FindStringSubmatch(stem); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				used[v] = true
			}
		}
	}

	version := startVersion
	for used[version] {
		version++
	}

	return fmt.Sprintf("%s_v%d%s", baseRoot, version, ext), version, nil
}

// splitExtension splits "name.mp3" in to ("name", ".mp3"). Names without
// a dot return an empty extension.
func splitExtension(name string) (string, string) {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[:idx], name[idx:]
	}

	return name, ""
}
