package export

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetSmell(ctx context.Context, id string) (SmellInfo, error)
	GetSmellContent(ctx context.Context, id, version string) (ContentInfo, error)
}

// Service provides smell study sheet export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates a study sheet in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	info, err := s.store.GetSmell(ctx, req.SmellID)
	if err != nil {
		return nil, fmt.Errorf("get smell: %w", err)
	}

	content, err := s.store.GetSmellContent(ctx, req.SmellID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("get smell content: %w", err)
	}

	data := buildSheet(info, content)

	html, err := RenderSheetHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, data.Title)
	case FormatDOCX:
		return exportDOCX(html, data.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// buildSheet merges catalog metadata with versioned content. The versioned
// content wins for the fields it tracks so hash exports reflect that revision.
func buildSheet(info SmellInfo, content ContentInfo) SheetData {
	data := SheetData{
		Title:       content.Title,
		Category:    info.Category,
		Difficulty:  info.Difficulty,
		Tags:        splitTags(info.Tags),
		Description: content.Description,
		Problem:     info.Problem,
		Solution:    info.Solution,
		BadCode:     content.BadCode,
		GoodCode:    content.GoodCode,
		TestHint:    content.TestHint,
		Testing:     info.Testing,
		Examples:    info.Examples,
		References:  info.References,
		ExportedAt:  time.Now(),
	}
	if data.Title == "" {
		data.Title = info.Title
	}
	return data
}

func splitTags(tags string) []string {
	parts := strings.Split(tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
