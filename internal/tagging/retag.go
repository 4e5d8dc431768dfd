package tagging

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/hbomb79/Muse/internal/vault"
	"github.com/hbomb79/Muse/pkg/logger"
)

var retagLogger = logger.Get("Retag")

// audioExtensions restricts the retag pass to files we can plausibly
// carry tags for.
var audioExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".m4a": true, ".mp4": true,
	".ogg": true, ".opus": true, ".wav": true, ".aiff": true, ".aif": true,
}

var (
	lowerUpperBoundary = regexp.MustCompile(`([a-z])([A-Z])`)
	acronymBoundary    = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	letterDigit        = regexp.MustCompile(`([A-Za-z])(\d)`)
	digitLetter        = regexp.MustCompile(`(\d)([A-Za-z])`)
	multiSpace         = regexp.MustCompile(`\s+`)
)

type (
	// retagVault is the slice of the vault this maintenance pass needs.
	retagVault interface {
		ListNames(containerID string, prefix string) ([]string, error)
		Download(objectID string) (*vault.Object, error)
		Upload(containerID string, name string, data []byte, mimeType string) (string, error)
	}

	// ObjectResolver maps a (container, name) pair back to an object id.
	// The mapping is driver specific, so the wiring layer supplies it.
	ObjectResolver func(containerID string, name string) string

	ReportRow struct {
		Name      string
		OldTitle  string
		NewTitle  string
		NewArtist string
		Status    string
	}

	// Retagger is a maintenance pass which re-derives Title/Artist tags for
	// every audio object in a container from a compact source string (the
	// existing title tag, falling back to the filename stem).
	Retagger struct {
		vault     retagVault
		resolve   ObjectResolver
		annotator *Annotator
	}
)

func NewRetagger(v retagVault, resolve ObjectResolver, annotator *Annotator) *Retagger {
	return &Retagger{vault: v, resolve: resolve, annotator: annotator}
}

// SplitCamel turns compact strings like 'CasesLikeThis', 'SamCooke' or
// '2AM' in to spaced words.
func SplitCamel(value string) string {
	s := strings.TrimSpace(value)
	if s == "" {
		return ""
	}

	s = lowerUpperBoundary.ReplaceAllString(s, "$1 $2")
	s = acronymBoundary.ReplaceAllString(s, "$1 $2")
	s = letterDigit.ReplaceAllString(s, "$1 $2")
	s = digitLetter.ReplaceAllString(s, "$1 $2")

	return strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
}

// ParseCompactString parses the compact tag structure
// '<baseTitle> <extra...> <artist> <bpm>': the last part is a BPM
// (discarded), the part before it the artist, the first part the base
// title, and anything in between becomes parenthesised extras on the
// title. Requires at least three parts.
func ParseCompactString(value string) (title string, artist string, ok bool) {
	normalized := strings.TrimSpace(strings.ReplaceAll(value, "_", " "))

	parts := strings.Fields(normalized)
	if len(parts) < 3 {
		return "", "", false
	}

	baseTitle := parts[0]
	artistPart := parts[len(parts)-2]
	bpm := parts[len(parts)-1]
	extras := parts[1 : len(parts)-2]

	// The BPM digits are sometimes glued on to the base title token;
	// strip them when they mirror the trailing BPM part.
	if isDigits(bpm) && strings.HasSuffix(baseTitle, bpm) && len(baseTitle) > len(bpm) {
		baseTitle = baseTitle[:len(baseTitle)-len(bpm)]
	}

	title = SplitCamel(baseTitle)
	for _, extra := range extras {
		title += fmt.Sprintf(" (%s)", SplitCamel(extra))
	}

	return strings.TrimSpace(title), SplitCamel(artistPart), true
}

// Run retags every audio object in the given container, returning a
// report row per object describing what (if anything) was changed.
// Objects whose source string cannot be parsed are left untouched.
func (retagger *Retagger) Run(containerID string) ([]ReportRow, error) {
	names, err := retagger.vault.ListNames(containerID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list container for retagging: %w", err)
	}

	report := make([]ReportRow, 0, len(names))
	for _, name := range names {
		if !audioExtensions[strings.ToLower(extensionOf(name))] {
			continue
		}

		report = append(report, retagger.retagObject(containerID, name))
	}

	return report, nil
}

func (retagger *Retagger) retagObject(containerID string, name string) ReportRow {
	row := ReportRow{Name: name}

	object, err := retagger.vault.Download(retagger.resolve(containerID, name))
	if err != nil {
		row.Status = fmt.Sprintf("download failed: %v", err)
		return row
	}

	source, _ := retagger.annotator.ReadTags(object.Data)
	row.OldTitle = source
	if source == "" {
		source = stemOf(name)
	}

	title, artist, ok := ParseCompactString(source)
	if !ok {
		row.Status = "skipped: source string not parseable"
		return row
	}

	row.NewTitle, row.NewArtist = title, artist

	tagged := retagger.annotator.ApplyTags(object.Data, object.MimeType, name, title, artist)
	if bytes.Equal(tagged, object.Data) {
		row.Status = "unchanged"
		return row
	}

	if _, err := retagger.vault.Upload(containerID, name, tagged, object.MimeType); err != nil {
		row.Status = fmt.Sprintf("upload failed: %v", err)
		return row
	}

	retagLogger.Emit(logger.SUCCESS, "Retagged '%s': title=%q artist=%q\n", name, title, artist)
	row.Status = "retagged"
	return row
}

// WriteReport renders the report rows as CSV.
func WriteReport(w io.Writer, rows []ReportRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"name", "old_title", "new_title", "new_artist", "status"}); err != nil {
		return err
	}

	for _, row := range rows {
		if err := writer.Write([]string{row.Name, row.OldTitle, row.NewTitle, row.NewArtist, row.Status}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func extensionOf(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx:]
	}

	return ""
}

func stemOf(name string) string {
	if ext := extensionOf(name); ext != "" {
		return name[:len(name)-len(ext)]
	}

	return name
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}

	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
