// Package extract turns files into text chunks and attributes.
//
// Each supported file type has an Extractor registered in a Registry. The
// registry opens the file, dispatches on the sniffed scanner.FileType,
// recovers extractor panics and chunks the text the extractor produced.
package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/scanner"
)

// Source is the raw file handed to an extractor. *os.File and
// *bytes.Reader both satisfy Reader.
type Source struct {
	Name   string // base name, used in synthetic descriptions
	Reader Reader
	Size   int64
}

// Reader is the random-access view most format libraries need.
type Reader interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// Section is a labelled block of extracted text, e.g. one PDF page.
type Section struct {
	Label string
	Text  string
}

// Content is what an extractor produces before chunking.
type Content struct {
	Sections   []Section
	Attributes map[string]string
}

// Document is the chunked result for one file.
type Document struct {
	Path       string
	Type       scanner.FileType
	Chunks     []Chunk
	Attributes map[string]string
}

// Extractor produces text and attributes for one or more file types.
type Extractor interface {
	Types() []scanner.FileType
	Extract(ctx context.Context, src Source) (*Content, error)
}

// Registry dispatches extraction by file type.
type Registry struct {
	mu         sync.RWMutex
	extractors map[scanner.FileType]Extractor
	chunker    Chunker
}

// NewRegistry creates an empty registry that chunks with c.
func NewRegistry(c Chunker) *Registry {
	return &Registry{
		extractors: make(map[scanner.FileType]Extractor),
		chunker:    c,
	}
}

// DefaultRegistry registers every built-in extractor.
func DefaultRegistry(c Chunker) *Registry {
	r := NewRegistry(c)
	r.Register(TextExtractor{})
	r.Register(PDFExtractor{})
	r.Register(DOCXExtractor{})
	r.Register(XLSXExtractor{})
	r.Register(HTMLExtractor{})
	r.Register(ImageExtractor{})
	r.Register(AudioExtractor{})
	return r
}

// Register installs e for each of its types, replacing earlier entries.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range e.Types() {
		r.extractors[t] = e
	}
}

// Supports reports whether t has an extractor.
func (r *Registry) Supports(t scanner.FileType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.extractors[t]
	return ok
}

// Types lists the registered file types in sorted order.
func (r *Registry) Types() []scanner.FileType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]scanner.FileType, 0, len(r.extractors))
	for t := range r.extractors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Extract opens fi and runs the matching extractor. Every failure is a
// *errors.SearchError in the extraction category: ERR_202 for types with
// no extractor, ERR_204 for unreadable files, ERR_201 otherwise.
func (r *Registry) Extract(ctx context.Context, fi *scanner.FileInfo) (*Document, error) {
	r.mu.RLock()
	ex, ok := r.extractors[fi.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, serrors.New(serrors.ErrCodeUnsupportedType,
			fmt.Sprintf("no extractor for %s files", fi.Type), nil).
			WithDetail("path", fi.Path).
			WithDetail("mime", fi.MIME)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(fi.AbsPath)
	if err != nil {
		code := serrors.ErrCodeExtraction
		if os.IsPermission(err) {
			code = serrors.ErrCodePermission
		}
		return nil, serrors.New(code, "open file", err).WithDetail("path", fi.Path)
	}
	defer f.Close()

	content, err := run(ctx, ex, Source{Name: baseName(fi.Path), Reader: f, Size: fi.Size})
	if err != nil {
		if se, ok := serrors.As(err); ok && serrors.IsExtraction(se) {
			if _, has := se.Details["path"]; !has {
				se.WithDetail("path", fi.Path)
			}
			return nil, se
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, serrors.ExtractionError(fi.Path, fmt.Sprintf("extract %s", fi.Type), err)
	}

	return r.assemble(fi, content), nil
}

// run calls the extractor, converting a panic into an error.
func run(ctx context.Context, ex Extractor, src Source) (content *Content, err error) {
	defer func() {
		if p := recover(); p != nil {
			content = nil
			err = fmt.Errorf("extractor panic: %v", p)
		}
	}()
	return ex.Extract(ctx, src)
}

func (r *Registry) assemble(fi *scanner.FileInfo, content *Content) *Document {
	doc := &Document{
		Path:       fi.Path,
		Type:       fi.Type,
		Attributes: map[string]string{},
	}
	if content == nil {
		return doc
	}
	for k, v := range content.Attributes {
		if v != "" {
			doc.Attributes[k] = v
		}
	}
	for _, s := range content.Sections {
		for _, text := range r.chunker.Split(s.Text) {
			doc.Chunks = append(doc.Chunks, Chunk{
				Ordinal: len(doc.Chunks),
				Section: s.Label,
				Text:    text,
			})
		}
	}
	return doc
}

func baseName(rel string) string {
	for i := len(rel) - 1; i >= 0; i-- {
		if rel[i] == '/' {
			return rel[i+1:]
		}
	}
	return rel
}
