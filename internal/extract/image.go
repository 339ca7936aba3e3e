package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/Aman-CERP/searchme/internal/scanner"
)

// ImageExtractor indexes what an image says about itself: format,
// dimensions and, for PNG, its tEXt/iTXt metadata. There is no OCR.
type ImageExtractor struct{}

func (ImageExtractor) Types() []scanner.FileType { return []scanner.FileType{scanner.TypeImage} }

func (ImageExtractor) Extract(_ context.Context, src Source) (*Content, error) {
	cfg, format, err := image.DecodeConfig(src.Reader)
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}

	attrs := map[string]string{
		"format": format,
		"width":  strconv.Itoa(cfg.Width),
		"height": strconv.Itoa(cfg.Height),
	}

	lines := []string{fmt.Sprintf("Image %s: %s, %dx%d pixels", src.Name, format, cfg.Width, cfg.Height)}

	if format == "png" {
		if _, err := src.Reader.Seek(0, io.SeekStart); err == nil {
			meta := pngText(src.Reader)
			keys := make([]string, 0, len(meta))
			for k := range meta {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				lines = append(lines, k+": "+meta[k])
				attrs[strings.ToLower(k)] = meta[k]
			}
		}
	}

	return &Content{
		Sections:   []Section{{Text: strings.Join(lines, "\n")}},
		Attributes: attrs,
	}, nil
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// pngText collects uncompressed tEXt and iTXt chunks. It stops quietly at
// the first malformed chunk.
func pngText(r io.Reader) map[string]string {
	out := map[string]string{}
	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(r, sig); err != nil || !bytes.Equal(sig, pngSignature) {
		return out
	}

	var hdr [8]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return out
		}
		n := binary.BigEndian.Uint32(hdr[:4])
		typ := string(hdr[4:8])
		if typ == "IEND" {
			return out
		}
		if typ != "tEXt" && typ != "iTXt" {
			if _, err := io.CopyN(io.Discard, r, int64(n)+4); err != nil {
				return out
			}
			continue
		}
		if n > 1<<20 {
			return out
		}
		data := make([]byte, int(n)+4) // payload + CRC
		if _, err := io.ReadFull(r, data); err != nil {
			return out
		}
		data = data[:n]

		switch typ {
		case "tEXt":
			if k, v, ok := bytes.Cut(data, []byte{0}); ok && len(k) > 0 {
				out[string(k)] = strings.TrimSpace(string(v))
			}
		case "iTXt":
			// keyword\0 compression-flag compression-method lang\0 translated\0 text
			k, rest, ok := bytes.Cut(data, []byte{0})
			if !ok || len(rest) < 2 || rest[0] != 0 {
				continue
			}
			parts := bytes.SplitN(rest[2:], []byte{0}, 3)
			if len(parts) == 3 && len(k) > 0 {
				out[string(k)] = strings.TrimSpace(string(parts[2]))
			}
		}
	}
}
