package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dhowden/tag"

	"github.com/Aman-CERP/searchme/internal/scanner"
)

// AudioExtractor indexes tag metadata (ID3, MP4, FLAC, Ogg). No
// transcription is attempted.
type AudioExtractor struct{}

func (AudioExtractor) Types() []scanner.FileType { return []scanner.FileType{scanner.TypeAudio} }

func (AudioExtractor) Extract(_ context.Context, src Source) (*Content, error) {
	m, err := tag.ReadFrom(src.Reader)
	if err == tag.ErrNoTagsFound {
		return &Content{
			Sections:   []Section{{Text: "Audio " + src.Name}},
			Attributes: map[string]string{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}

	attrs := map[string]string{
		"title":     strings.TrimSpace(m.Title()),
		"artist":    strings.TrimSpace(m.Artist()),
		"album":     strings.TrimSpace(m.Album()),
		"genre":     strings.TrimSpace(m.Genre()),
		"format":    string(m.Format()),
		"file_type": string(m.FileType()),
	}
	if y := m.Year(); y > 0 {
		attrs["year"] = strconv.Itoa(y)
	}
	if n, total := m.Track(); n > 0 {
		attrs["track"] = strconv.Itoa(n)
		if total > 0 {
			attrs["track"] += "/" + strconv.Itoa(total)
		}
	}

	lines := []string{"Audio " + src.Name}
	for _, f := range []struct{ label, key string }{
		{"Title", "title"}, {"Artist", "artist"}, {"Album", "album"},
		{"Year", "year"}, {"Genre", "genre"},
	} {
		if v := attrs[f.key]; v != "" {
			lines = append(lines, f.label+": "+v)
		}
	}
	if c := strings.TrimSpace(m.Comment()); c != "" {
		lines = append(lines, "Comment: "+c)
	}
	if l := strings.TrimSpace(m.Lyrics()); l != "" {
		lines = append(lines, "", l)
	}

	return &Content{
		Sections:   []Section{{Text: strings.Join(lines, "\n")}},
		Attributes: attrs,
	}, nil
}
