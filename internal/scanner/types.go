// Package scanner walks an index root and yields the files to index.
// It applies exclusion policy, size and depth limits, and sniffs each
// file's content to decide which extractor handles it.
package scanner

import (
	"time"

	"github.com/Aman-CERP/searchme/internal/exclude"
)

// FileType is the extraction strategy a file dispatches to.
type FileType string

const (
	TypeText    FileType = "text"
	TypePDF     FileType = "pdf"
	TypeDOCX    FileType = "docx"
	TypeXLSX    FileType = "xlsx"
	TypeHTML    FileType = "html"
	TypeImage   FileType = "image"
	TypeAudio   FileType = "audio"
	TypeSVG     FileType = "svg"
	TypeUnknown FileType = "unknown"
)

// FileInfo describes one candidate file. It is immutable once yielded.
type FileInfo struct {
	Path    string    // relative to the root, slash-separated
	AbsPath string    // absolute path
	Size    int64     // bytes
	ModTime time.Time // last modification time
	Type    FileType  // sniffed extraction type; empty until Detect
	MIME    string    // sniffed MIME type, parameters stripped
}

// ScanOptions configures a walk.
type ScanOptions struct {
	// RootDir is the directory to walk.
	RootDir string

	// Matcher decides exclusions. If nil one is built from Policy.
	Matcher *exclude.Matcher
	Policy  exclude.Policy

	// MaxFileSize skips larger files (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// MaxDepth limits directory nesting below the root (0 = unlimited).
	// MaxDepth 1 yields only files directly in the root.
	MaxDepth int

	// FollowSymlinks yields symlinks that resolve to regular files.
	// Directory symlinks are never followed.
	FollowSymlinks bool

	// DeferDetect leaves Type and MIME empty so that callers can skip
	// unchanged files without reading them. Call FileInfo.Detect before use.
	DeferDetect bool

	// BufferSize is the capacity of the result channel (0 = 64).
	BufferSize int

	// OnSkip is called for each excluded or oversized file.
	OnSkip func(rel string, reason string)
}

// ScanResult is either a file or a per-entry error; never both.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is used when ScanOptions.MaxFileSize is unset.
const DefaultMaxFileSize = 50 * 1024 * 1024
