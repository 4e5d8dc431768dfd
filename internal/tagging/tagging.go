// Package tagging annotates audio content with derived metadata. The
// annotation is a pure bytes-to-bytes transform and is strictly
// best-effort: unsupported formats and malformed tag data fall back to
// returning the input unchanged, never an error. Annotation must not be
// able to block a transfer.
package tagging

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/hbomb79/Muse/pkg/logger"
)

var log = logger.Get("Tagging")

type Annotator struct{}

func NewAnnotator() *Annotator {
	return &Annotator{}
}

// BuildTagTitle builds the partnership title written to the tag:
// 'LeaderFirstLeaderLast & FollowerFirstFollowerLast'. Caller supplies
// already-sanitized parts.
func BuildTagTitle(leaderFirst string, leaderLast string, followerFirst string, followerLast string) string {
	leader := leaderFirst + leaderLast
	follower := followerFirst + followerLast

	return strings.TrimSpace(fmt.Sprintf("%s & %s", leader, follower))
}

// BuildTagArtist builds the artist written to the tag: 'Division Season'
// followed by comma-separated routine and descriptor when present.
func BuildTagArtist(division string, season string, routineName string, descriptor string) string {
	parts := []string{strings.TrimSpace(fmt.Sprintf("%s %s", division, season))}
	if routineName != "" {
		parts = append(parts, routineName)
	}
	if descriptor != "" {
		parts = append(parts, descriptor)
	}

	return strings.Join(parts, ", ")
}

// ApplyTags rewrites the title and artist tags of the given audio bytes.
// Any tags already present are preserved inside the comment frame using a
// stable, parseable 'prev[title,artist,album,comment]' format so the
// submitters own metadata survives the rename.
//
// Only MP3/ID3v2 content is rewritten; anything else is returned
// unchanged, as is the input on any tagging failure.
func (annotator *Annotator) ApplyTags(data []byte, mimeType string, filename string, title string, artist string) []byte {
	if !isMp3(mimeType, filename) {
		log.Emit(logger.DEBUG, "Skipping annotation of '%s': unsupported type %s\n", filename, mimeType)
		return data
	}

	tag, err := id3v2.ParseReader(bytes.NewReader(data), id3v2.Options{Parse: true})
	if err != nil {
		log.Emit(logger.DEBUG, "Annotation of '%s' failed during tag parse (%v); returning original bytes\n", filename, err)
		return data
	}

	prev := previousTagSummary(tag)

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(title)
	tag.SetArtist(artist)
	if prev != "" {
		tag.DeleteFrames(tag.CommonID("Comments"))
		tag.AddCommentFrame(id3v2.CommentFrame{
			Encoding: id3v2.EncodingUTF8,
			Language: "eng",
			Text:     prev,
		})
	}

	var rewritten bytes.Buffer
	if _, err := tag.WriteTo(&rewritten); err != nil {
		log.Emit(logger.DEBUG, "Annotation of '%s' failed during tag write (%v); returning original bytes\n", filename, err)
		return data
	}

	// The music data follows the original tag block verbatim.
	audioStart := int(tag.Size())
	if audioStart > len(data) {
		return data
	}
	rewritten.Write(data[audioStart:])

	return rewritten.Bytes()
}

// ReadTags extracts the title and artist tags from MP3 content.
// Untagged or non-MP3 content yields empty strings.
func (annotator *Annotator) ReadTags(data []byte) (title string, artist string) {
	tag, err := id3v2.ParseReader(bytes.NewReader(data), id3v2.Options{Parse: true})
	if err != nil {
		return "", ""
	}

	return strings.TrimSpace(tag.Title()), strings.TrimSpace(tag.Artist())
}

// previousTagSummary collapses the existing title/artist/album/comment
// in to the stable 'prev[...]' format, or an empty string when the file
// carried no tags worth preserving.
func previousTagSummary(tag *id3v2.Tag) string {
	title := strings.TrimSpace(tag.Title())
	artist := strings.TrimSpace(tag.Artist())
	album := strings.TrimSpace(tag.Album())

	comment := ""
	for _, framer := range tag.GetFrames(tag.CommonID("Comments")) {
		if frame, ok := framer.(id3v2.CommentFrame); ok {
			comment = strings.TrimSpace(frame.Text)
			break
		}
	}

	if title == "" && artist == "" && album == "" && comment == "" {
		return ""
	}

	return fmt.Sprintf("prev[%s,%s,%s,%s]", title, artist, album, comment)
}

func isMp3(mimeType string, filename string) bool {
	if strings.EqualFold(mimeType, "audio/mpeg") || strings.EqualFold(mimeType, "audio/mp3") {
		return true
	}

	return strings.HasSuffix(strings.ToLower(filename), ".mp3")
}
