package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"refactory/api/internal/export"
	"refactory/api/internal/rbac"
	"refactory/api/internal/revision"
	"refactory/api/internal/search"
	"refactory/api/internal/store"
	"refactory/api/internal/util"
)

var allowedCategories = map[string]struct{}{
	"NAMING":      {},
	"DUPLICATION": {},
	"COMPLEXITY":  {},
	"STRUCTURE":   {},
	"COUPLING":    {},
	"TESTING":     {},
}

// difficultyRank orders the difficulty enum; lexical order would be wrong.
var difficultyRank = map[string]int{
	"BEGINNER": 0,
	"EASY":     1,
	"MEDIUM":   2,
	"HARD":     3,
	"EXPERT":   4,
}

var allowedStatuses = map[string]struct{}{
	"published": {},
	"draft":     {},
	"all":       {},
}

var allowedSortFields = map[string]struct{}{
	"title":      {},
	"createdAt":  {},
	"updatedAt":  {},
	"category":   {},
	"difficulty": {},
	"popularity": {},
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type ListSmellsInput struct {
	Search       string
	Categories   []string
	Difficulties []string
	Status       string
	SortBy       string
	SortOrder    string
	Limit        int
	Offset       int
}

type SmellInput struct {
	Title       *string `json:"title"`
	Category    *string `json:"category"`
	Description *string `json:"description"`
	BadCode     *string `json:"badCode"`
	GoodCode    *string `json:"goodCode"`
	TestHint    *string `json:"testHint"`
	Difficulty  *string `json:"difficulty"`
	Tags        *string `json:"tags"`
	IsPublished *bool   `json:"isPublished"`
	Problem     *string `json:"problem"`
	Solution    *string `json:"solution"`
	Testing     *string `json:"testing"`
	Examples    *string `json:"examples"`
	References  *string `json:"references"`
}

type BulkSmellInput struct {
	Action   string            `json:"action"`
	SmellIDs []string          `json:"smellIds"`
	Data     map[string]string `json:"data"`
}

func smellPayload(item store.Smell) map[string]any {
	return map[string]any{
		"id":             item.ID,
		"title":          item.Title,
		"category":       item.Category,
		"description":    item.Description,
		"badCode":        item.BadCode,
		"goodCode":       item.GoodCode,
		"testHint":       item.TestHint,
		"difficulty":     item.Difficulty,
		"tags":           item.Tags,
		"isPublished":    item.IsPublished,
		"problem":        item.Problem,
		"solution":       item.Solution,
		"testing":        item.Testing,
		"examples":       item.Examples,
		"references":     item.References,
		"favoritesCount": item.FavoritesCount,
		"progressCount":  item.ProgressCount,
		"createdAt":      item.CreatedAt,
		"updatedAt":      item.UpdatedAt,
	}
}

func smellRecord(item store.Smell) search.SmellRecord {
	return search.SmellRecord{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Tags:        item.Tags,
		Category:    item.Category,
		Difficulty:  item.Difficulty,
		IsPublished: item.IsPublished,
	}
}

func validationError(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, map[string]any{"field": field})
}

func (s *Service) ListSmells(ctx context.Context, input ListSmellsInput, viewerRole string) (map[string]any, error) {
	sortBy := input.SortBy
	if sortBy == "" {
		sortBy = "createdAt"
	}
	if _, ok := allowedSortFields[sortBy]; !ok {
		return nil, validationError("sortBy", fmt.Sprintf("invalid sort field %q", sortBy))
	}
	sortOrder := input.SortOrder
	if sortOrder == "" {
		sortOrder = "desc"
	}
	if sortOrder != "asc" && sortOrder != "desc" {
		return nil, validationError("sortOrder", "sortOrder must be asc or desc")
	}
	for _, category := range input.Categories {
		if _, ok := allowedCategories[category]; !ok {
			return nil, validationError("category", fmt.Sprintf("invalid category %q", category))
		}
	}
	for _, difficulty := range input.Difficulties {
		if _, ok := difficultyRank[difficulty]; !ok {
			return nil, validationError("difficulty", fmt.Sprintf("invalid difficulty %q", difficulty))
		}
	}

	// Only moderators see drafts; everyone else is pinned to published.
	status := input.Status
	if s.Can(viewerRole, rbac.ActionWriteContent) {
		if status == "" {
			status = "all"
		}
		if _, ok := allowedStatuses[status]; !ok {
			return nil, validationError("status", fmt.Sprintf("invalid status %q", status))
		}
	} else {
		status = "published"
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	filter := store.SmellFilter{
		Search:       input.Search,
		Categories:   input.Categories,
		Difficulties: input.Difficulties,
		Status:       status,
	}

	var items []store.Smell
	var total int
	var err error

	switch sortBy {
	case "popularity", "difficulty":
		// Not store columns; fetch the filtered set, sort here, slice.
		items, err = s.store.ListSmells(ctx, filter)
		if err != nil {
			return nil, err
		}
		total = len(items)
		sortSmellsInMemory(items, sortBy, sortOrder)
		items = slicePage(items, limit, offset)
	default:
		filter.SortBy = sortBy
		filter.SortOrder = sortOrder
		filter.Limit = limit
		filter.Offset = offset
		items, err = s.store.ListSmells(ctx, filter)
		if err != nil {
			return nil, err
		}
		total, err = s.store.CountSmells(ctx, filter)
		if err != nil {
			return nil, err
		}
	}

	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, smellPayload(item))
	}
	return map[string]any{
		"smells": payload,
		"total":  total,
		"page":   offset/limit + 1,
		"limit":  limit,
	}, nil
}

func sortSmellsInMemory(items []store.Smell, sortBy, sortOrder string) {
	less := func(a, b store.Smell) bool { return a.Title < b.Title }
	switch sortBy {
	case "popularity":
		less = func(a, b store.Smell) bool {
			if a.FavoritesCount != b.FavoritesCount {
				return a.FavoritesCount < b.FavoritesCount
			}
			return a.Title < b.Title
		}
	case "difficulty":
		less = func(a, b store.Smell) bool {
			if difficultyRank[a.Difficulty] != difficultyRank[b.Difficulty] {
				return difficultyRank[a.Difficulty] < difficultyRank[b.Difficulty]
			}
			return a.Title < b.Title
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if sortOrder == "desc" {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

func slicePage(items []store.Smell, limit, offset int) []store.Smell {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (s *Service) GetSmell(ctx context.Context, smellID, viewerRole string) (map[string]any, error) {
	item, err := s.store.GetSmell(ctx, smellID)
	if err != nil {
		return nil, err
	}
	if !item.IsPublished && !s.Can(viewerRole, rbac.ActionWriteContent) {
		return nil, sql.ErrNoRows
	}
	return smellPayload(item), nil
}

func (s *Service) CreateSmell(ctx context.Context, input SmellInput, session Session) (map[string]any, error) {
	title := strings.TrimSpace(stringValue(input.Title))
	if title == "" {
		return nil, validationError("title", "title is required")
	}
	if len(title) > 100 {
		return nil, validationError("title", "title must be 100 characters or fewer")
	}
	category := stringValue(input.Category)
	if _, ok := allowedCategories[category]; !ok {
		return nil, validationError("category", fmt.Sprintf("invalid category %q", category))
	}
	difficulty := stringValue(input.Difficulty)
	if _, ok := difficultyRank[difficulty]; !ok {
		return nil, validationError("difficulty", fmt.Sprintf("invalid difficulty %q", difficulty))
	}
	if strings.TrimSpace(stringValue(input.Description)) == "" {
		return nil, validationError("description", "description is required")
	}

	exists, err := s.store.TitleExists(ctx, title, "")
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domainError(http.StatusConflict, "CONFLICT", "a smell with this title already exists", map[string]any{"field": "title"})
	}

	item := store.Smell{
		ID:          util.NewID("sml"),
		Title:       title,
		Category:    category,
		Description: stringValue(input.Description),
		BadCode:     stringValue(input.BadCode),
		GoodCode:    stringValue(input.GoodCode),
		TestHint:    stringValue(input.TestHint),
		Difficulty:  difficulty,
		Tags:        stringValue(input.Tags),
		IsPublished: input.IsPublished != nil && *input.IsPublished,
		Problem:     stringValue(input.Problem),
		Solution:    stringValue(input.Solution),
		Testing:     stringValue(input.Testing),
		Examples:    stringValue(input.Examples),
		References:  stringValue(input.References),
	}

	if err := s.store.InsertSmell(ctx, item); err != nil {
		// Constraint backstop for the race between the pre-check and insert.
		if store.IsUniqueViolation(err) {
			return nil, domainError(http.StatusConflict, "CONFLICT", "a smell with this title already exists", map[string]any{"field": "title"})
		}
		return nil, err
	}

	if s.revisions != nil {
		if err := s.revisions.EnsureRepo(item.ID, contentFromSmell(item), session.UserName); err != nil {
			return nil, err
		}
	}
	if s.search != nil {
		s.search.IndexSmell(smellRecord(item))
	}
	s.recordActivity(ctx, session.UserID, "smell_created", item.ID, "smell")

	created, err := s.store.GetSmell(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return smellPayload(created), nil
}

func (s *Service) UpdateSmell(ctx context.Context, smellID string, input SmellInput, session Session) (map[string]any, error) {
	patch := store.SmellPatch{
		Description: input.Description,
		BadCode:     input.BadCode,
		GoodCode:    input.GoodCode,
		TestHint:    input.TestHint,
		Tags:        input.Tags,
		IsPublished: input.IsPublished,
		Problem:     input.Problem,
		Solution:    input.Solution,
		Testing:     input.Testing,
		Examples:    input.Examples,
		References:  input.References,
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, validationError("title", "title is required")
		}
		if len(title) > 100 {
			return nil, validationError("title", "title must be 100 characters or fewer")
		}
		exists, err := s.store.TitleExists(ctx, title, smellID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, domainError(http.StatusConflict, "CONFLICT", "a smell with this title already exists", map[string]any{"field": "title"})
		}
		patch.Title = &title
	}
	if input.Category != nil {
		if _, ok := allowedCategories[*input.Category]; !ok {
			return nil, validationError("category", fmt.Sprintf("invalid category %q", *input.Category))
		}
		patch.Category = input.Category
	}
	if input.Difficulty != nil {
		if _, ok := difficultyRank[*input.Difficulty]; !ok {
			return nil, validationError("difficulty", fmt.Sprintf("invalid difficulty %q", *input.Difficulty))
		}
		patch.Difficulty = input.Difficulty
	}

	updated, err := s.store.UpdateSmell(ctx, smellID, patch)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, domainError(http.StatusConflict, "CONFLICT", "a smell with this title already exists", map[string]any{"field": "title"})
		}
		return nil, err
	}

	if contentFieldsChanged(input) && s.revisions != nil {
		if _, err := s.revisions.Commit(smellID, contentFromSmell(updated), session.UserName, "Update smell content"); err != nil {
			return nil, err
		}
	}
	if s.search != nil {
		s.search.IndexSmell(smellRecord(updated))
	}
	s.recordActivity(ctx, session.UserID, "smell_updated", smellID, "smell")

	return smellPayload(updated), nil
}

func (s *Service) DeleteSmell(ctx context.Context, smellID string, session Session) (map[string]any, error) {
	found, err := s.store.DeleteSmell(ctx, smellID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, sql.ErrNoRows
	}
	if s.search != nil {
		s.search.DeleteSmell(smellID)
	}
	if s.revisions != nil {
		// Best effort; an orphaned repo is harmless and recreated on reuse.
		_ = s.revisions.Remove(smellID)
	}
	s.recordActivity(ctx, session.UserID, "smell_deleted", smellID, "smell")
	return map[string]any{"success": true}, nil
}

func (s *Service) BulkSmellAction(ctx context.Context, input BulkSmellInput, session Session) (map[string]any, error) {
	if len(input.SmellIDs) == 0 {
		return nil, validationError("smellIds", "smellIds must not be empty")
	}

	var affected int
	var err error
	switch input.Action {
	case "publish":
		affected, err = s.store.BulkSetPublished(ctx, input.SmellIDs, true)
	case "unpublish":
		affected, err = s.store.BulkSetPublished(ctx, input.SmellIDs, false)
	case "delete":
		affected, err = s.store.BulkDeleteSmells(ctx, input.SmellIDs)
		if err == nil && s.search != nil {
			s.search.DeleteSmells(input.SmellIDs)
		}
		if err == nil && s.revisions != nil {
			for _, id := range input.SmellIDs {
				_ = s.revisions.Remove(id)
			}
		}
	case "changeCategory":
		category := input.Data["category"]
		if _, ok := allowedCategories[category]; !ok {
			return nil, validationError("data.category", "changeCategory requires a valid target category")
		}
		affected, err = s.store.BulkChangeCategory(ctx, input.SmellIDs, category)
	default:
		return nil, validationError("action", fmt.Sprintf("invalid bulk action %q", input.Action))
	}
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, session.UserID, "smell_bulk_"+input.Action, "", "smell")
	return map[string]any{
		"success":       true,
		"affectedCount": affected,
		"action":        input.Action,
	}, nil
}

func (s *Service) SmellHistory(ctx context.Context, smellID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetSmell(ctx, smellID); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return map[string]any{"commits": []any{}}, nil
	}
	commits, err := s.revisions.History(smellID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   strings.TrimSpace(commit.Message),
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return map[string]any{"commits": items}, nil
}

func (s *Service) ExportSmell(ctx context.Context, smellID, format, version string) (*export.Result, error) {
	if format != string(export.FormatPDF) && format != string(export.FormatDOCX) {
		return nil, validationError("format", fmt.Sprintf("invalid export format %q", format))
	}
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "export service not configured", nil)
	}
	if version == "" {
		version = "latest"
	}
	return s.export.Export(ctx, export.Request{
		SmellID: smellID,
		Version: version,
		Format:  export.Format(format),
	})
}

func contentFromSmell(item store.Smell) revision.Content {
	return revision.Content{
		Title:       item.Title,
		Description: item.Description,
		BadCode:     item.BadCode,
		GoodCode:    item.GoodCode,
		TestHint:    item.TestHint,
	}
}

func contentFieldsChanged(input SmellInput) bool {
	return input.Title != nil || input.Description != nil || input.BadCode != nil ||
		input.GoodCode != nil || input.TestHint != nil
}

func (s *Service) recordActivity(ctx context.Context, userID, action, resourceID, resourceType string) {
	if userID == "" {
		return
	}
	_ = s.store.InsertActivity(ctx, store.Activity{
		UserID:       userID,
		Action:       action,
		ResourceID:   resourceID,
		ResourceType: resourceType,
	})
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
