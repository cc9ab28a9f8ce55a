// Package export renders smell study sheets as PDF and DOCX files.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for an export operation
type Request struct {
	SmellID string
	Version string // "latest" or commit hash
	Format  Format
}

// SmellInfo holds the catalog metadata for the exported smell
type SmellInfo struct {
	ID         string
	Title      string
	Category   string
	Difficulty string
	Tags       string
	Problem    string
	Solution   string
	Testing    string
	Examples   string
	References string
	UpdatedAt  time.Time
}

// ContentInfo holds the versioned content for the exported smell
type ContentInfo struct {
	Title       string
	Description string
	BadCode     string
	GoodCode    string
	TestHint    string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates smell content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
