package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgLike implements Searcher using case-insensitive substring matching in
// PostgreSQL as a fallback when Meilisearch is unreachable.
type PgLike struct {
	db *sql.DB
}

// NewPgLike creates a PostgreSQL fallback searcher.
func NewPgLike(db *sql.DB) *PgLike {
	return &PgLike{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgLike) Healthy() bool {
	return true
}

// Search runs an ILIKE query over title, description, and tags, ranking
// title matches above body matches.
func (p *PgLike) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + strings.TrimSpace(q.Text) + "%"
	where := "(title ILIKE $1 OR description ILIKE $1 OR tags ILIKE $1)"
	args := []any{pattern}

	if q.Category != "" {
		args = append(args, q.Category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if q.PublishedOnly {
		where += " AND is_published = TRUE"
	}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM smells WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pglike count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id, title, LEFT(description, 200), category, difficulty, is_published
		FROM smells
		WHERE %s
		ORDER BY (title ILIKE $1) DESC, created_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pglike query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Category, &r.Difficulty, &r.IsPublished); err != nil {
			return nil, 0, fmt.Errorf("pglike scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all smells for full reindexing.
func (p *PgLike) LoadAllRecords(ctx context.Context) ([]SmellRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, tags, category, difficulty, is_published
		FROM smells
	`)
	if err != nil {
		return nil, fmt.Errorf("load smells: %w", err)
	}
	defer rows.Close()

	records := make([]SmellRecord, 0)
	for rows.Next() {
		var record SmellRecord
		if err := rows.Scan(&record.ID, &record.Title, &record.Description, &record.Tags, &record.Category, &record.Difficulty, &record.IsPublished); err != nil {
			return nil, fmt.Errorf("scan smell: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate smells: %w", err)
	}

	return records, nil
}
