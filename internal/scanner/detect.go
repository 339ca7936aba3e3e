package scanner

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
)

// sniffLen covers the zip directory entries that distinguish OOXML formats.
const sniffLen = 3072

var mimeTypes = map[string]FileType{
	"application/pdf": TypePDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": TypeDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       TypeXLSX,
	"text/html":     TypeHTML,
	"image/svg+xml": TypeSVG,
	"image/png":     TypeImage,
	"image/jpeg":    TypeImage,
	"image/gif":     TypeImage,
	"audio/mpeg":    TypeAudio,
	"audio/flac":    TypeAudio,
	"audio/ogg":     TypeAudio,
	"audio/x-m4a":   TypeAudio,
	"audio/mp4":     TypeAudio,
}

// extTypes break ties when sniffing is inconclusive, such as an OOXML file
// whose distinguishing entry lies past the sniffed prefix.
var extTypes = map[string]FileType{
	".pdf":  TypePDF,
	".docx": TypeDOCX,
	".xlsx": TypeXLSX,
	".html": TypeHTML,
	".htm":  TypeHTML,
	".svg":  TypeSVG,
	".mp3":  TypeAudio,
	".flac": TypeAudio,
	".m4a":  TypeAudio,
	".ogg":  TypeAudio,
}

// Detect fills Type and MIME from the file's content. It does nothing when
// Type is already set.
func (fi *FileInfo) Detect() error {
	if fi.Type != "" {
		return nil
	}
	ft, mimeType, err := DetectFile(fi.AbsPath)
	if err != nil {
		code := serrors.ErrCodeExtraction
		if os.IsPermission(err) {
			code = serrors.ErrCodePermission
		}
		return serrors.New(code, err.Error(), err).WithDetail("path", fi.Path)
	}
	fi.Type, fi.MIME = ft, mimeType
	return nil
}

// DetectFile sniffs the head of path.
func DetectFile(path string) (FileType, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return TypeUnknown, "", err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return TypeUnknown, "", fmt.Errorf("read %s: %w", path, err)
	}
	t, m := Detect(path, head[:n])
	return t, m, nil
}

// Detect classifies content by its leading bytes, using the file name's
// extension only where the content is ambiguous. A PDF named notes.txt is
// a PDF.
func Detect(name string, head []byte) (FileType, string) {
	ext := strings.ToLower(filepath.Ext(name))
	if len(bytes.TrimSpace(head)) == 0 {
		return TypeText, "text/plain"
	}

	mt := mimetype.Detect(head)
	base, _, err := mime.ParseMediaType(mt.String())
	if err != nil {
		base = mt.String()
	}

	if t, ok := mimeTypes[base]; ok {
		return t, base
	}

	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			if t, ok := extTypes[ext]; ok && (t == TypeHTML || t == TypeSVG) {
				return t, base
			}
			return TypeText, base
		}
	}

	if base == "application/zip" || base == "application/octet-stream" {
		if t, ok := extTypes[ext]; ok && t != TypeHTML {
			return t, base
		}
	}
	return TypeUnknown, base
}
