package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"refactory/api/internal/config"
	"refactory/api/internal/revision"
	"refactory/api/internal/store"
)

// fakeStore implements dataStore with overridable function fields so each
// test only wires the calls it cares about.
type fakeStore struct {
	pingFn                      func(context.Context) error
	ensureUserByEmailFn         func(context.Context, string, string, string) (store.User, error)
	getUserByIDFn               func(context.Context, string) (store.User, error)
	setGithubURLFn              func(context.Context, string, string) (bool, error)
	setUserImageFn              func(context.Context, string, string) error
	updateProfileFn             func(context.Context, string, store.ProfilePatch) (store.User, error)
	deleteUserFn                func(context.Context, string) (bool, error)
	revokeAccessTokenFn         func(context.Context, string, time.Time) error
	isAccessTokenRevokedFn      func(context.Context, string) (bool, error)
	listSmellsFn                func(context.Context, store.SmellFilter) ([]store.Smell, error)
	countSmellsFn               func(context.Context, store.SmellFilter) (int, error)
	getSmellFn                  func(context.Context, string) (store.Smell, error)
	titleExistsFn               func(context.Context, string, string) (bool, error)
	insertSmellFn               func(context.Context, store.Smell) error
	updateSmellFn               func(context.Context, string, store.SmellPatch) (store.Smell, error)
	deleteSmellFn               func(context.Context, string) (bool, error)
	bulkSetPublishedFn          func(context.Context, []string, bool) (int, error)
	bulkDeleteSmellsFn          func(context.Context, []string) (int, error)
	bulkChangeCategoryFn        func(context.Context, []string, string) (int, error)
	addRelationFn               func(context.Context, string, string, string) error
	removeRelationFn            func(context.Context, string, string, string) (bool, error)
	hasRelationFn               func(context.Context, string, string, string) (bool, error)
	listRelationSmellsFn        func(context.Context, string, string) ([]store.Smell, error)
	userRelationCountsFn        func(context.Context, string) (store.RelationCounts, error)
	countRelationsFn            func(context.Context, string) (int, error)
	insertActivityFn            func(context.Context, store.Activity) error
	lastActivityAtFn            func(context.Context, string) (*time.Time, error)
	countActivityBetweenFn      func(context.Context, time.Time, time.Time) (int, error)
	getPreferencesFn            func(context.Context, string) (store.Preferences, bool, error)
	putPreferencesFn            func(context.Context, store.Preferences) error
	getSettingsFn               func(context.Context, string) (map[string]string, error)
	putSettingsFn               func(context.Context, map[string]string) error
	listUsersFn                 func(context.Context) ([]store.AdminUser, error)
	getAdminUserFn              func(context.Context, string) (store.AdminUser, error)
	updateUserAdminFn           func(context.Context, string, *string, *string) (store.User, error)
	bulkDeleteUsersFn           func(context.Context, []string) (int, error)
	bulkChangeRoleFn            func(context.Context, []string, string) (int, error)
	countUsersFn                func(context.Context) (int, error)
	countActiveUsersFn          func(context.Context, time.Time) (int, error)
	countUsersCreatedBetweenFn  func(context.Context, time.Time, time.Time) (int, error)
	countSmellsCreatedBetweenFn func(context.Context, time.Time, time.Time) (int, error)
	smellsByCategoryFn          func(context.Context) ([]store.GroupCount, error)
	smellsByDifficultyFn        func(context.Context) ([]store.GroupCount, error)
	usersByRoleFn               func(context.Context) ([]store.GroupCount, error)
	popularSmellsFn             func(context.Context, int) ([]store.PopularSmell, error)
	topUsersByActivityFn        func(context.Context, int) ([]store.ActiveUser, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) EnsureUserByEmail(ctx context.Context, email, name, image string) (store.User, error) {
	if f.ensureUserByEmailFn != nil {
		return f.ensureUserByEmailFn(ctx, email, name, image)
	}
	return store.User{ID: "user-1", Email: email, Name: name, Image: image, Role: "USER"}, nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id, Name: "Test User", Email: "test@example.com", Role: "USER"}, nil
}

func (f *fakeStore) SetGithubURL(ctx context.Context, email, url string) (bool, error) {
	if f.setGithubURLFn != nil {
		return f.setGithubURLFn(ctx, email, url)
	}
	return true, nil
}

func (f *fakeStore) SetUserImage(ctx context.Context, userID, imageURL string) error {
	if f.setUserImageFn != nil {
		return f.setUserImageFn(ctx, userID, imageURL)
	}
	return nil
}

func (f *fakeStore) UpdateProfile(ctx context.Context, userID string, patch store.ProfilePatch) (store.User, error) {
	if f.updateProfileFn != nil {
		return f.updateProfileFn(ctx, userID, patch)
	}
	return store.User{ID: userID, Role: "USER"}, nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, userID string) (bool, error) {
	if f.deleteUserFn != nil {
		return f.deleteUserFn(ctx, userID)
	}
	return true, nil
}

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, jti, expiresAt)
	}
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}

func (f *fakeStore) ListSmells(ctx context.Context, filter store.SmellFilter) ([]store.Smell, error) {
	if f.listSmellsFn != nil {
		return f.listSmellsFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeStore) CountSmells(ctx context.Context, filter store.SmellFilter) (int, error) {
	if f.countSmellsFn != nil {
		return f.countSmellsFn(ctx, filter)
	}
	return 0, nil
}

func (f *fakeStore) GetSmell(ctx context.Context, id string) (store.Smell, error) {
	if f.getSmellFn != nil {
		return f.getSmellFn(ctx, id)
	}
	return store.Smell{}, sql.ErrNoRows
}

func (f *fakeStore) TitleExists(ctx context.Context, title, excludeID string) (bool, error) {
	if f.titleExistsFn != nil {
		return f.titleExistsFn(ctx, title, excludeID)
	}
	return false, nil
}

func (f *fakeStore) InsertSmell(ctx context.Context, item store.Smell) error {
	if f.insertSmellFn != nil {
		return f.insertSmellFn(ctx, item)
	}
	return nil
}

func (f *fakeStore) UpdateSmell(ctx context.Context, id string, patch store.SmellPatch) (store.Smell, error) {
	if f.updateSmellFn != nil {
		return f.updateSmellFn(ctx, id, patch)
	}
	return store.Smell{ID: id}, nil
}

func (f *fakeStore) DeleteSmell(ctx context.Context, id string) (bool, error) {
	if f.deleteSmellFn != nil {
		return f.deleteSmellFn(ctx, id)
	}
	return true, nil
}

func (f *fakeStore) BulkSetPublished(ctx context.Context, ids []string, published bool) (int, error) {
	if f.bulkSetPublishedFn != nil {
		return f.bulkSetPublishedFn(ctx, ids, published)
	}
	return len(ids), nil
}

func (f *fakeStore) BulkDeleteSmells(ctx context.Context, ids []string) (int, error) {
	if f.bulkDeleteSmellsFn != nil {
		return f.bulkDeleteSmellsFn(ctx, ids)
	}
	return len(ids), nil
}

func (f *fakeStore) BulkChangeCategory(ctx context.Context, ids []string, category string) (int, error) {
	if f.bulkChangeCategoryFn != nil {
		return f.bulkChangeCategoryFn(ctx, ids, category)
	}
	return len(ids), nil
}

func (f *fakeStore) AddRelation(ctx context.Context, kind, userID, smellID string) error {
	if f.addRelationFn != nil {
		return f.addRelationFn(ctx, kind, userID, smellID)
	}
	return nil
}

func (f *fakeStore) RemoveRelation(ctx context.Context, kind, userID, smellID string) (bool, error) {
	if f.removeRelationFn != nil {
		return f.removeRelationFn(ctx, kind, userID, smellID)
	}
	return true, nil
}

func (f *fakeStore) HasRelation(ctx context.Context, kind, userID, smellID string) (bool, error) {
	if f.hasRelationFn != nil {
		return f.hasRelationFn(ctx, kind, userID, smellID)
	}
	return false, nil
}

func (f *fakeStore) ListRelationSmells(ctx context.Context, kind, userID string) ([]store.Smell, error) {
	if f.listRelationSmellsFn != nil {
		return f.listRelationSmellsFn(ctx, kind, userID)
	}
	return nil, nil
}

func (f *fakeStore) UserRelationCounts(ctx context.Context, userID string) (store.RelationCounts, error) {
	if f.userRelationCountsFn != nil {
		return f.userRelationCountsFn(ctx, userID)
	}
	return store.RelationCounts{}, nil
}

func (f *fakeStore) CountRelations(ctx context.Context, kind string) (int, error) {
	if f.countRelationsFn != nil {
		return f.countRelationsFn(ctx, kind)
	}
	return 0, nil
}

func (f *fakeStore) InsertActivity(ctx context.Context, activity store.Activity) error {
	if f.insertActivityFn != nil {
		return f.insertActivityFn(ctx, activity)
	}
	return nil
}

func (f *fakeStore) LastActivityAt(ctx context.Context, userID string) (*time.Time, error) {
	if f.lastActivityAtFn != nil {
		return f.lastActivityAtFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) CountActivityBetween(ctx context.Context, from, to time.Time) (int, error) {
	if f.countActivityBetweenFn != nil {
		return f.countActivityBetweenFn(ctx, from, to)
	}
	return 0, nil
}

func (f *fakeStore) GetPreferences(ctx context.Context, userID string) (store.Preferences, bool, error) {
	if f.getPreferencesFn != nil {
		return f.getPreferencesFn(ctx, userID)
	}
	return store.Preferences{}, false, nil
}

func (f *fakeStore) PutPreferences(ctx context.Context, prefs store.Preferences) error {
	if f.putPreferencesFn != nil {
		return f.putPreferencesFn(ctx, prefs)
	}
	return nil
}

func (f *fakeStore) GetSettings(ctx context.Context, section string) (map[string]string, error) {
	if f.getSettingsFn != nil {
		return f.getSettingsFn(ctx, section)
	}
	return map[string]string{}, nil
}

func (f *fakeStore) PutSettings(ctx context.Context, values map[string]string) error {
	if f.putSettingsFn != nil {
		return f.putSettingsFn(ctx, values)
	}
	return nil
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]store.AdminUser, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) GetAdminUser(ctx context.Context, userID string) (store.AdminUser, error) {
	if f.getAdminUserFn != nil {
		return f.getAdminUserFn(ctx, userID)
	}
	return store.AdminUser{User: store.User{ID: userID, Role: "USER"}}, nil
}

func (f *fakeStore) UpdateUserAdmin(ctx context.Context, userID string, name, role *string) (store.User, error) {
	if f.updateUserAdminFn != nil {
		return f.updateUserAdminFn(ctx, userID, name, role)
	}
	return store.User{ID: userID}, nil
}

func (f *fakeStore) BulkDeleteUsers(ctx context.Context, ids []string) (int, error) {
	if f.bulkDeleteUsersFn != nil {
		return f.bulkDeleteUsersFn(ctx, ids)
	}
	return len(ids), nil
}

func (f *fakeStore) BulkChangeRole(ctx context.Context, ids []string, role string) (int, error) {
	if f.bulkChangeRoleFn != nil {
		return f.bulkChangeRoleFn(ctx, ids, role)
	}
	return len(ids), nil
}

func (f *fakeStore) CountUsers(ctx context.Context) (int, error) {
	if f.countUsersFn != nil {
		return f.countUsersFn(ctx)
	}
	return 0, nil
}

func (f *fakeStore) CountActiveUsers(ctx context.Context, since time.Time) (int, error) {
	if f.countActiveUsersFn != nil {
		return f.countActiveUsersFn(ctx, since)
	}
	return 0, nil
}

func (f *fakeStore) CountUsersCreatedBetween(ctx context.Context, from, to time.Time) (int, error) {
	if f.countUsersCreatedBetweenFn != nil {
		return f.countUsersCreatedBetweenFn(ctx, from, to)
	}
	return 0, nil
}

func (f *fakeStore) CountSmellsCreatedBetween(ctx context.Context, from, to time.Time) (int, error) {
	if f.countSmellsCreatedBetweenFn != nil {
		return f.countSmellsCreatedBetweenFn(ctx, from, to)
	}
	return 0, nil
}

func (f *fakeStore) SmellsByCategory(ctx context.Context) ([]store.GroupCount, error) {
	if f.smellsByCategoryFn != nil {
		return f.smellsByCategoryFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) SmellsByDifficulty(ctx context.Context) ([]store.GroupCount, error) {
	if f.smellsByDifficultyFn != nil {
		return f.smellsByDifficultyFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) UsersByRole(ctx context.Context) ([]store.GroupCount, error) {
	if f.usersByRoleFn != nil {
		return f.usersByRoleFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) PopularSmells(ctx context.Context, limit int) ([]store.PopularSmell, error) {
	if f.popularSmellsFn != nil {
		return f.popularSmellsFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeStore) TopUsersByActivity(ctx context.Context, limit int) ([]store.ActiveUser, error) {
	if f.topUsersByActivityFn != nil {
		return f.topUsersByActivityFn(ctx, limit)
	}
	return nil, nil
}

// fakeSessions is an in-memory refresh token store.
type fakeSessions struct {
	byHash map[string]fakeRefresh
}

type fakeRefresh struct {
	userID    string
	expiresAt time.Time
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byHash: make(map[string]fakeRefresh)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.byHash[tokenHash] = fakeRefresh{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	record, ok := f.byHash[tokenHash]
	if !ok || time.Now().After(record.expiresAt) {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: record.userID}, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.byHash, tokenHash)
	return nil
}

// fakeRevisions records calls without touching disk.
type fakeRevisions struct {
	ensured  []string
	commits  []string
	removed  []string
	head     revision.Content
	headInfo revision.CommitInfo
	history  []revision.CommitInfo
}

func (f *fakeRevisions) EnsureRepo(smellID string, _ revision.Content, _ string) error {
	f.ensured = append(f.ensured, smellID)
	return nil
}

func (f *fakeRevisions) Commit(smellID string, content revision.Content, _ string, message string) (revision.CommitInfo, error) {
	f.commits = append(f.commits, smellID+":"+message)
	f.head = content
	return revision.CommitInfo{Hash: "abc1234", Message: message, CreatedAt: time.Now()}, nil
}

func (f *fakeRevisions) HeadContent(string) (revision.Content, revision.CommitInfo, error) {
	return f.head, f.headInfo, nil
}

func (f *fakeRevisions) History(string, int) ([]revision.CommitInfo, error) {
	return f.history, nil
}

func (f *fakeRevisions) ContentByHash(string, string) (revision.Content, error) {
	return f.head, nil
}

func (f *fakeRevisions) Remove(smellID string) error {
	f.removed = append(f.removed, smellID)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			SyncToken:  "sync-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		store:     fs,
		sessions:  newFakeSessions(),
		revisions: &fakeRevisions{},
	}
}

func catalogFixture() []store.Smell {
	return []store.Smell{
		{ID: "sml-1", Title: "Magic Numbers", Category: "NAMING", Difficulty: "BEGINNER", IsPublished: true, FavoritesCount: 2},
		{ID: "sml-2", Title: "Duplicate Logic", Category: "DUPLICATION", Difficulty: "MEDIUM", IsPublished: true, FavoritesCount: 5},
		{ID: "sml-3", Title: "God Function", Category: "COMPLEXITY", Difficulty: "HARD", IsPublished: true, FavoritesCount: 5},
	}
}

func TestListSmellsDifficultySortPagesInMemory(t *testing.T) {
	var captured store.SmellFilter
	fs := &fakeStore{
		listSmellsFn: func(_ context.Context, filter store.SmellFilter) ([]store.Smell, error) {
			captured = filter
			return catalogFixture(), nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ListSmells(context.Background(), ListSmellsInput{
		SortBy:    "difficulty",
		SortOrder: "asc",
		Limit:     2,
	}, "USER")
	if err != nil {
		t.Fatalf("ListSmells: %v", err)
	}

	if captured.Limit != 0 {
		t.Errorf("expected fetch-all filter (limit 0), got %d", captured.Limit)
	}
	if payload["total"] != 3 {
		t.Errorf("expected total 3, got %v", payload["total"])
	}

	smells := payload["smells"].([]map[string]any)
	if len(smells) != 2 {
		t.Fatalf("expected 2 smells, got %d", len(smells))
	}
	if smells[0]["title"] != "Magic Numbers" || smells[1]["title"] != "Duplicate Logic" {
		t.Errorf("unexpected order: %v, %v", smells[0]["title"], smells[1]["title"])
	}
}

func TestListSmellsPopularitySortDesc(t *testing.T) {
	fs := &fakeStore{
		listSmellsFn: func(context.Context, store.SmellFilter) ([]store.Smell, error) {
			return catalogFixture(), nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ListSmells(context.Background(), ListSmellsInput{
		SortBy:    "popularity",
		SortOrder: "desc",
	}, "USER")
	if err != nil {
		t.Fatalf("ListSmells: %v", err)
	}

	smells := payload["smells"].([]map[string]any)
	if len(smells) != 3 {
		t.Fatalf("expected 3 smells, got %d", len(smells))
	}
	// Duplicate Logic and God Function tie on favorites; title breaks the tie.
	if smells[0]["title"] != "Duplicate Logic" || smells[1]["title"] != "God Function" {
		t.Errorf("unexpected order: %v, %v", smells[0]["title"], smells[1]["title"])
	}
}

func TestListSmellsReadersOnlySeePublished(t *testing.T) {
	var captured store.SmellFilter
	fs := &fakeStore{
		listSmellsFn: func(_ context.Context, filter store.SmellFilter) ([]store.Smell, error) {
			captured = filter
			return nil, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.ListSmells(context.Background(), ListSmellsInput{Status: "all"}, "USER"); err != nil {
		t.Fatalf("ListSmells: %v", err)
	}
	if captured.Status != "published" {
		t.Errorf("expected status pinned to published for readers, got %q", captured.Status)
	}

	if _, err := svc.ListSmells(context.Background(), ListSmellsInput{Status: "all"}, "ADMIN"); err != nil {
		t.Fatalf("ListSmells: %v", err)
	}
	if captured.Status != "all" {
		t.Errorf("expected admins to query status all, got %q", captured.Status)
	}
}

func TestListSmellsRejectsUnknownSortField(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.ListSmells(context.Background(), ListSmellsInput{SortBy: "rating"}, "USER")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 validation error, got %v", err)
	}
}

func TestCreateSmellDuplicateTitleConflicts(t *testing.T) {
	fs := &fakeStore{
		titleExistsFn: func(context.Context, string, string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	title := "Magic Numbers"
	category := "NAMING"
	difficulty := "BEGINNER"
	description := "dup"
	_, err := svc.CreateSmell(context.Background(), SmellInput{
		Title:       &title,
		Category:    &category,
		Difficulty:  &difficulty,
		Description: &description,
	}, Session{UserID: "user-1", Role: "ADMIN"})

	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Status != 409 || domainErr.Code != "CONFLICT" {
		t.Fatalf("expected 409 CONFLICT, got %v", err)
	}
}

func TestDeleteSmellRemovesRevisionRepo(t *testing.T) {
	fs := &fakeStore{
		deleteSmellFn: func(context.Context, string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.DeleteSmell(context.Background(), "sml-1", Session{UserID: "user-1", Role: "ADMIN"}); err != nil {
		t.Fatalf("DeleteSmell: %v", err)
	}

	removed := svc.revisions.(*fakeRevisions).removed
	if len(removed) != 1 || removed[0] != "sml-1" {
		t.Fatalf("expected revision repo sml-1 removed, got %v", removed)
	}
}

func TestBulkDeleteRemovesRevisionRepos(t *testing.T) {
	fs := &fakeStore{
		bulkDeleteSmellsFn: func(_ context.Context, ids []string) (int, error) {
			return len(ids), nil
		},
	}
	svc := newTestService(fs)

	input := BulkSmellInput{SmellIDs: []string{"sml-1", "sml-2"}, Action: "delete"}
	if _, err := svc.BulkSmellAction(context.Background(), input, Session{UserID: "user-1", Role: "ADMIN"}); err != nil {
		t.Fatalf("BulkSmellAction: %v", err)
	}

	removed := svc.revisions.(*fakeRevisions).removed
	if len(removed) != 2 || removed[0] != "sml-1" || removed[1] != "sml-2" {
		t.Fatalf("expected both revision repos removed, got %v", removed)
	}
}

func TestToggleFavoriteAddAndConflict(t *testing.T) {
	added := 0
	fs := &fakeStore{
		getSmellFn: func(_ context.Context, id string) (store.Smell, error) {
			return store.Smell{ID: id, Title: "Magic Numbers", IsPublished: true}, nil
		},
		addRelationFn: func(context.Context, string, string, string) error {
			added++
			if added > 1 {
				return &pgconn.PgError{Code: "23505"}
			}
			return nil
		},
	}
	svc := newTestService(fs)
	session := Session{UserID: "user-1", Role: "USER"}

	payload, err := svc.ToggleRelation(context.Background(), session, store.RelationFavorite, RelationToggleInput{SmellID: "sml-1", Action: "add"})
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	if payload["success"] != true {
		t.Errorf("expected success true, got %v", payload["success"])
	}

	_, err = svc.ToggleRelation(context.Background(), session, store.RelationFavorite, RelationToggleInput{SmellID: "sml-1", Action: "add"})
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Status != 409 {
		t.Fatalf("expected 409 on duplicate add, got %v", err)
	}
}

func TestToggleFavoriteExistingRowConflictsWithoutInsert(t *testing.T) {
	inserts := 0
	fs := &fakeStore{
		getSmellFn: func(_ context.Context, id string) (store.Smell, error) {
			return store.Smell{ID: id, Title: "Magic Numbers", IsPublished: true}, nil
		},
		hasRelationFn: func(_ context.Context, kind, userID, smellID string) (bool, error) {
			if kind != store.RelationFavorite || userID != "user-1" || smellID != "sml-1" {
				t.Errorf("unexpected lookup: %q %q %q", kind, userID, smellID)
			}
			return true, nil
		},
		addRelationFn: func(context.Context, string, string, string) error {
			inserts++
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ToggleRelation(context.Background(), Session{UserID: "user-1", Role: "USER"}, store.RelationFavorite, RelationToggleInput{SmellID: "sml-1", Action: "add"})
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Status != 409 {
		t.Fatalf("expected 409 for existing favorite, got %v", err)
	}
	if inserts != 0 {
		t.Errorf("expected no insert attempt, got %d", inserts)
	}
}

func TestToggleFavoriteRemoveIsIdempotent(t *testing.T) {
	fs := &fakeStore{
		removeRelationFn: func(context.Context, string, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ToggleRelation(context.Background(), Session{UserID: "user-1"}, store.RelationFavorite, RelationToggleInput{SmellID: "sml-404", Action: "remove"})
	if err != nil {
		t.Fatalf("remove of missing relation should succeed, got %v", err)
	}
	if payload["success"] != true {
		t.Errorf("expected success true, got %v", payload["success"])
	}
}

func TestPreferencesDefaultsWhenUnset(t *testing.T) {
	svc := newTestService(&fakeStore{})

	payload, err := svc.GetPreferences(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}

	expectations := map[string]any{
		"emailUpdates":      true,
		"progressReminders": false,
		"newSmells":         true,
		"weeklyDigest":      true,
		"profileVisibility": "PUBLIC",
		"showProgress":      true,
		"allowAnalytics":    false,
		"theme":             "system",
	}
	for key, want := range expectations {
		if payload[key] != want {
			t.Errorf("%s: expected %v, got %v", key, want, payload[key])
		}
	}
}

func TestUpdatePreferencesCreatesRowWithDefaults(t *testing.T) {
	var saved store.Preferences
	fs := &fakeStore{
		putPreferencesFn: func(_ context.Context, prefs store.Preferences) error {
			saved = prefs
			return nil
		},
	}
	svc := newTestService(fs)

	weeklyDigest := false
	if _, err := svc.UpdatePreferences(context.Background(), "user-1", PreferencesInput{WeeklyDigest: &weeklyDigest}); err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}

	if saved.WeeklyDigest != false {
		t.Errorf("expected weeklyDigest false")
	}
	if !saved.EmailUpdates || !saved.NewSmells || saved.ProfileVisibility != "PUBLIC" || saved.Theme != "system" {
		t.Errorf("expected untouched fields to keep defaults, got %+v", saved)
	}
}

func TestUpdatePreferencesRejectsBadVisibility(t *testing.T) {
	svc := newTestService(&fakeStore{})
	visibility := "FRIENDS"
	_, err := svc.UpdatePreferences(context.Background(), "user-1", PreferencesInput{ProfileVisibility: &visibility})
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422, got %v", err)
	}
}

func TestBulkSmellActionReportsActualAffectedCount(t *testing.T) {
	fs := &fakeStore{
		bulkSetPublishedFn: func(_ context.Context, ids []string, published bool) (int, error) {
			if !published {
				t.Errorf("expected unpublish")
			}
			return 2, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.BulkSmellAction(context.Background(), BulkSmellInput{
		Action:   "unpublish",
		SmellIDs: []string{"sml-1", "sml-2", "sml-missing"},
	}, Session{UserID: "admin-1", Role: "ADMIN"})
	if err != nil {
		t.Fatalf("BulkSmellAction: %v", err)
	}
	if payload["affectedCount"] != 2 {
		t.Errorf("expected affectedCount 2, got %v", payload["affectedCount"])
	}
}

func TestUpdateProfileRejectsGithubURL(t *testing.T) {
	svc := newTestService(&fakeStore{})
	githubURL := "https://github.com/someone"
	_, err := svc.UpdateProfile(context.Background(), "user-1", ProfileInput{GithubURL: &githubURL})
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for githubUrl write, got %v", err)
	}
}

func TestUpdateProfileValidatesWebsite(t *testing.T) {
	svc := newTestService(&fakeStore{})
	website := "not-a-url"
	_, err := svc.UpdateProfile(context.Background(), "user-1", ProfileInput{Website: &website})
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for invalid website, got %v", err)
	}

	empty := ""
	if _, err := svc.UpdateProfile(context.Background(), "user-1", ProfileInput{Website: &empty}); err != nil {
		t.Fatalf("clearing website should be allowed, got %v", err)
	}
}

func TestRefreshRotatesTokenAndRereadsRole(t *testing.T) {
	role := "USER"
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return store.User{ID: id, Name: "Avery", Role: role}, nil
		},
	}
	svc := newTestService(fs)

	first, err := svc.CreateSession(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	role = "MODERATOR"
	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.Role != "MODERATOR" {
		t.Errorf("expected refreshed role MODERATOR, got %q", second.Role)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Errorf("expected refresh token rotation")
	}

	if _, err := svc.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Errorf("expected old refresh token to be revoked")
	}
}

func TestSettingsFlattenHydrateRoundTrip(t *testing.T) {
	settings := GeneralSettings{
		SiteName:        "Refactory",
		SiteDescription: "Learn to spot code smells",
		SupportEmail:    "support@refactory.dev",
		MaintenanceMode: true,
	}

	flat, err := flattenSettings("general", settings)
	if err != nil {
		t.Fatalf("flattenSettings: %v", err)
	}
	if flat["general.siteName"] != `"Refactory"` {
		t.Errorf("expected JSON-encoded value, got %q", flat["general.siteName"])
	}
	if flat["general.maintenanceMode"] != "true" {
		t.Errorf("expected true, got %q", flat["general.maintenanceMode"])
	}

	var restored GeneralSettings
	if err := hydrateSettings("general", flat, &restored); err != nil {
		t.Fatalf("hydrateSettings: %v", err)
	}
	if restored != settings {
		t.Errorf("round trip mismatch: %+v vs %+v", restored, settings)
	}
}

func asDomainError(err error, target **DomainError) bool {
	if err == nil {
		return false
	}
	de, ok := err.(*DomainError)
	if !ok {
		return false
	}
	*target = de
	return true
}
