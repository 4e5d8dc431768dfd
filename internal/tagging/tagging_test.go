package tagging_test

import (
	"bytes"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/hbomb79/Muse/internal/tagging"
	"github.com/hbomb79/Muse/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func init() {
	logger.SetMinLoggingLevel(logger.FATAL.Level())
}

// taggedMp3 renders a minimal ID3v2 tag block followed by fake audio
// payload bytes.
func taggedMp3(t *testing.T, title string, artist string) []byte {
	tag := id3v2.NewEmptyTag()
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	if title != "" {
		tag.SetTitle(title)
	}
	if artist != "" {
		tag.SetArtist(artist)
	}
	if title == "" && artist == "" {
		// WriteTo needs at least one frame to produce a tag block.
		tag.SetAlbum("Seed")
	}

	var buf bytes.Buffer
	_, err := tag.WriteTo(&buf)
	assert.NoError(t, err)

	buf.WriteString("FAKEAUDIOPAYLOAD")
	return buf.Bytes()
}

func Test_BuildTagTitle(t *testing.T) {
	assert.Equal(t, "AliceSmith & BobJones", tagging.BuildTagTitle("Alice", "Smith", "Bob", "Jones"))
	assert.Equal(t, "Alice & Bob", tagging.BuildTagTitle("Alice", "", "Bob", ""))
}

func Test_BuildTagArtist(t *testing.T) {
	tests := []struct {
		summary     string
		routineName string
		descriptor  string
		expected    string
	}{
		{"division and season only", "", "", "Open 2025"},
		{"routine appended", "Moonlight", "", "Open 2025, Moonlight"},
		{"descriptor appended", "", "Finals", "Open 2025, Finals"},
		{"both appended in order", "Moonlight", "Finals", "Open 2025, Moonlight, Finals"},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			assert.Equal(t, tt.expected, tagging.BuildTagArtist("Open", "2025", tt.routineName, tt.descriptor))
		})
	}
}

func Test_ApplyTags(t *testing.T) {
	annotator := tagging.NewAnnotator()

	t.Run("rewrites title and artist of mp3", func(t *testing.T) {
		input := taggedMp3(t, "", "")
		output := annotator.ApplyTags(input, "audio/mpeg", "song.mp3", "Alice & Bob", "Open 2025")

		title, artist := annotator.ReadTags(output)
		assert.Equal(t, "Alice & Bob", title)
		assert.Equal(t, "Open 2025", artist)
		assert.True(t, bytes.HasSuffix(output, []byte("FAKEAUDIOPAYLOAD")))
	})

	t.Run("previous tags preserved in comment", func(t *testing.T) {
		input := taggedMp3(t, "Original Title", "Original Artist")
		output := annotator.ApplyTags(input, "audio/mpeg", "song.mp3", "New Title", "New Artist")

		tag, err := id3v2.ParseReader(bytes.NewReader(output), id3v2.Options{Parse: true})
		assert.NoError(t, err)

		comment := ""
		for _, framer := range tag.GetFrames(tag.CommonID("Comments")) {
			if frame, ok := framer.(id3v2.CommentFrame); ok {
				comment = frame.Text
				break
			}
		}
		assert.Equal(t, "prev[Original Title,Original Artist,,]", comment)
	})

	t.Run("non-mp3 content untouched", func(t *testing.T) {
		input := []byte("RIFFWAVEDATA")
		output := annotator.ApplyTags(input, "audio/wav", "song.wav", "T", "A")
		assert.Equal(t, input, output)
	})

	t.Run("extension gates when mime unknown", func(t *testing.T) {
		input := taggedMp3(t, "", "")
		output := annotator.ApplyTags(input, "application/octet-stream", "song.MP3", "T", "A")

		title, _ := annotator.ReadTags(output)
		assert.Equal(t, "T", title)
	})
}

func Test_SplitCamel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"CasesLikeThis", "Cases Like This"},
		{"SamCooke", "Sam Cooke"},
		{"ABBAGold", "ABBA Gold"},
		{"Track2Fast", "Track 2 Fast"},
		{"2AM", "2 AM"},
		{"already spaced", "already spaced"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, tagging.SplitCamel(tt.input))
		})
	}
}

func Test_ParseCompactString(t *testing.T) {
	t.Run("base artist bpm", func(t *testing.T) {
		title, artist, ok := tagging.ParseCompactString("MyWay FrankSinatra 120")
		assert.True(t, ok)
		assert.Equal(t, "My Way", title)
		assert.Equal(t, "Frank Sinatra", artist)
	})

	t.Run("extras become parenthesised", func(t *testing.T) {
		title, artist, ok := tagging.ParseCompactString("MyWay Remix FrankSinatra 120")
		assert.True(t, ok)
		assert.Equal(t, "My Way (Remix)", title)
		assert.Equal(t, "Frank Sinatra", artist)
	})

	t.Run("underscores treated as spaces", func(t *testing.T) {
		title, artist, ok := tagging.ParseCompactString("MyWay_FrankSinatra_120")
		assert.True(t, ok)
		assert.Equal(t, "My Way", title)
		assert.Equal(t, "Frank Sinatra", artist)
	})

	t.Run("glued bpm stripped from base", func(t *testing.T) {
		title, _, ok := tagging.ParseCompactString("MyWay120 FrankSinatra 120")
		assert.True(t, ok)
		assert.Equal(t, "My Way", title)
	})

	t.Run("too few parts rejected", func(t *testing.T) {
		_, _, ok := tagging.ParseCompactString("MyWay FrankSinatra")
		assert.False(t, ok)
	})
}
