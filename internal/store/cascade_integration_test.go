package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// getTestDatabaseURL returns the database URL for integration tests, or
// skips the test when TEST_DATABASE_URL is not set.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	}
	return url
}

func openTestDB(t *testing.T, ctx context.Context) *sql.DB {
	t.Helper()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

func countRows(t *testing.T, ctx context.Context, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var count int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	return count
}

// TestDeleteUserCascadesOwnedRows verifies the ON DELETE CASCADE foreign keys
// clean up everything a user owns when the user row is deleted.
func TestDeleteUserCascadesOwnedRows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := openTestDB(t, ctx)
	s := NewPostgresStore(db)

	email := fmt.Sprintf("cascade-user-%d@example.com", time.Now().UnixNano())
	user, err := s.EnsureUserByEmail(ctx, email, "Cascade User", "")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	smellID := fmt.Sprintf("sml-cascade-%d", time.Now().UnixNano())
	if err := s.InsertSmell(ctx, Smell{
		ID:          smellID,
		Title:       "Cascade Fixture " + smellID,
		Category:    "NAMING",
		Difficulty:  "BEGINNER",
		Description: "fixture",
		IsPublished: true,
	}); err != nil {
		t.Fatalf("insert smell: %v", err)
	}
	defer func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM smells WHERE id=$1`, smellID)
	}()

	if err := s.AddRelation(ctx, RelationFavorite, user.ID, smellID); err != nil {
		t.Fatalf("add favorite: %v", err)
	}
	if err := s.AddRelation(ctx, RelationProgress, user.ID, smellID); err != nil {
		t.Fatalf("add progress: %v", err)
	}
	if err := s.PutPreferences(ctx, Preferences{
		UserID:            user.ID,
		EmailUpdates:      true,
		ProfileVisibility: "PUBLIC",
		Theme:             "system",
	}); err != nil {
		t.Fatalf("put preferences: %v", err)
	}
	if err := s.InsertActivity(ctx, Activity{
		UserID:       user.ID,
		Action:       "favorite_added",
		ResourceID:   smellID,
		ResourceType: "smell",
	}); err != nil {
		t.Fatalf("insert activity: %v", err)
	}

	found, err := s.DeleteUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if !found {
		t.Fatal("expected delete to find the user")
	}

	for _, table := range []string{"favorites", "progress", "user_preferences", "user_activity"} {
		if n := countRows(t, ctx, db, `SELECT COUNT(*) FROM `+table+` WHERE user_id=$1`, user.ID); n != 0 {
			t.Errorf("expected 0 %s rows after user delete, got %d", table, n)
		}
	}
	if n := countRows(t, ctx, db, `SELECT COUNT(*) FROM smells WHERE id=$1`, smellID); n != 1 {
		t.Errorf("expected smell row to survive user delete, got %d", n)
	}
}

// TestDeleteSmellCascadesRelations verifies that deleting a smell removes its
// favorite and progress rows while the owning user survives.
func TestDeleteSmellCascadesRelations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := openTestDB(t, ctx)
	s := NewPostgresStore(db)

	email := fmt.Sprintf("cascade-smell-%d@example.com", time.Now().UnixNano())
	user, err := s.EnsureUserByEmail(ctx, email, "Cascade User", "")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	defer func() {
		_, _ = s.DeleteUser(ctx, user.ID)
	}()

	smellID := fmt.Sprintf("sml-cascade-%d", time.Now().UnixNano())
	if err := s.InsertSmell(ctx, Smell{
		ID:          smellID,
		Title:       "Cascade Fixture " + smellID,
		Category:    "STRUCTURE",
		Difficulty:  "MEDIUM",
		Description: "fixture",
		IsPublished: true,
	}); err != nil {
		t.Fatalf("insert smell: %v", err)
	}

	if err := s.AddRelation(ctx, RelationFavorite, user.ID, smellID); err != nil {
		t.Fatalf("add favorite: %v", err)
	}
	if err := s.AddRelation(ctx, RelationProgress, user.ID, smellID); err != nil {
		t.Fatalf("add progress: %v", err)
	}

	found, err := s.DeleteSmell(ctx, smellID)
	if err != nil {
		t.Fatalf("delete smell: %v", err)
	}
	if !found {
		t.Fatal("expected delete to find the smell")
	}

	for _, table := range []string{"favorites", "progress"} {
		if n := countRows(t, ctx, db, `SELECT COUNT(*) FROM `+table+` WHERE smell_id=$1`, smellID); n != 0 {
			t.Errorf("expected 0 %s rows after smell delete, got %d", table, n)
		}
	}
	if n := countRows(t, ctx, db, `SELECT COUNT(*) FROM users WHERE id=$1`, user.ID); n != 1 {
		t.Errorf("expected user row to survive smell delete, got %d", n)
	}
}
