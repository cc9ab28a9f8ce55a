package app

import (
	"context"

	"refactory/api/internal/export"
	"refactory/api/internal/revision"
	"refactory/api/internal/store"
)

// ExportStore adapts the catalog store and revision history to the export
// service's data interface.
type ExportStore struct {
	Store     *store.PostgresStore
	Revisions *revision.Service
}

func (e ExportStore) GetSmell(ctx context.Context, id string) (export.SmellInfo, error) {
	item, err := e.Store.GetSmell(ctx, id)
	if err != nil {
		return export.SmellInfo{}, err
	}
	return export.SmellInfo{
		ID:         item.ID,
		Title:      item.Title,
		Category:   item.Category,
		Difficulty: item.Difficulty,
		Tags:       item.Tags,
		Problem:    item.Problem,
		Solution:   item.Solution,
		Testing:    item.Testing,
		Examples:   item.Examples,
		References: item.References,
		UpdatedAt:  item.UpdatedAt,
	}, nil
}

func (e ExportStore) GetSmellContent(ctx context.Context, id, version string) (export.ContentInfo, error) {
	var content revision.Content
	var err error
	if version == "" || version == "latest" {
		content, _, err = e.Revisions.HeadContent(id)
	} else {
		content, err = e.Revisions.ContentByHash(id, version)
	}
	if err != nil {
		return export.ContentInfo{}, err
	}
	return export.ContentInfo{
		Title:       content.Title,
		Description: content.Description,
		BadCode:     content.BadCode,
		GoodCode:    content.GoodCode,
		TestHint:    content.TestHint,
	}, nil
}
