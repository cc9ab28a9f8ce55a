package app

import (
	"context"
	"io"
	"strings"
	"time"

	"refactory/api/internal/auth"
	"refactory/api/internal/authpw"
	"refactory/api/internal/config"
	"refactory/api/internal/email"
	"refactory/api/internal/export"
	"refactory/api/internal/rbac"
	"refactory/api/internal/revision"
	"refactory/api/internal/search"
	"refactory/api/internal/store"
	"refactory/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(context.Context) error
	EnsureUserByEmail(context.Context, string, string, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	SetGithubURL(context.Context, string, string) (bool, error)
	SetUserImage(context.Context, string, string) error
	UpdateProfile(context.Context, string, store.ProfilePatch) (store.User, error)
	DeleteUser(context.Context, string) (bool, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	ListSmells(context.Context, store.SmellFilter) ([]store.Smell, error)
	CountSmells(context.Context, store.SmellFilter) (int, error)
	GetSmell(context.Context, string) (store.Smell, error)
	TitleExists(context.Context, string, string) (bool, error)
	InsertSmell(context.Context, store.Smell) error
	UpdateSmell(context.Context, string, store.SmellPatch) (store.Smell, error)
	DeleteSmell(context.Context, string) (bool, error)
	BulkSetPublished(context.Context, []string, bool) (int, error)
	BulkDeleteSmells(context.Context, []string) (int, error)
	BulkChangeCategory(context.Context, []string, string) (int, error)
	AddRelation(context.Context, string, string, string) error
	RemoveRelation(context.Context, string, string, string) (bool, error)
	HasRelation(context.Context, string, string, string) (bool, error)
	ListRelationSmells(context.Context, string, string) ([]store.Smell, error)
	UserRelationCounts(context.Context, string) (store.RelationCounts, error)
	CountRelations(context.Context, string) (int, error)
	InsertActivity(context.Context, store.Activity) error
	LastActivityAt(context.Context, string) (*time.Time, error)
	CountActivityBetween(context.Context, time.Time, time.Time) (int, error)
	GetPreferences(context.Context, string) (store.Preferences, bool, error)
	PutPreferences(context.Context, store.Preferences) error
	GetSettings(context.Context, string) (map[string]string, error)
	PutSettings(context.Context, map[string]string) error
	ListUsers(context.Context) ([]store.AdminUser, error)
	GetAdminUser(context.Context, string) (store.AdminUser, error)
	UpdateUserAdmin(context.Context, string, *string, *string) (store.User, error)
	BulkDeleteUsers(context.Context, []string) (int, error)
	BulkChangeRole(context.Context, []string, string) (int, error)
	CountUsers(context.Context) (int, error)
	CountActiveUsers(context.Context, time.Time) (int, error)
	CountUsersCreatedBetween(context.Context, time.Time, time.Time) (int, error)
	CountSmellsCreatedBetween(context.Context, time.Time, time.Time) (int, error)
	SmellsByCategory(context.Context) ([]store.GroupCount, error)
	SmellsByDifficulty(context.Context) ([]store.GroupCount, error)
	UsersByRole(context.Context) ([]store.GroupCount, error)
	PopularSmells(context.Context, int) ([]store.PopularSmell, error)
	TopUsersByActivity(context.Context, int) ([]store.ActiveUser, error)
}

// sessionStore holds refresh tokens. Redis when configured, the
// refresh_sessions table otherwise.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type revisionService interface {
	EnsureRepo(string, revision.Content, string) error
	Commit(string, revision.Content, string, string) (revision.CommitInfo, error)
	HeadContent(string) (revision.Content, revision.CommitInfo, error)
	History(string, int) ([]revision.CommitInfo, error)
	ContentByHash(string, string) (revision.Content, error)
	Remove(string) error
}

type searchService interface {
	Search(search.Query) search.Response
	IndexSmell(search.SmellRecord)
	DeleteSmell(string)
	DeleteSmells([]string)
	ReindexAllFromPG(context.Context)
}

type exportService interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

type mediaService interface {
	UploadAvatar(context.Context, string, string, io.Reader, int64) (string, error)
	RemoveAvatar(context.Context, string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	revisions revisionService
	search    searchService
	export    exportService
	media     mediaService
	authpw    *authpw.Service
	email     *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, revisions *revision.Service) *Service {
	return NewWithSessionStore(cfg, dataStore, revisions, dataStore)
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, revisions *revision.Service, sessions sessionStore) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		revisions: revisions,
	}
}

func (s *Service) SetSearch(svc searchService)         { s.search = svc }
func (s *Service) SetExport(svc exportService)         { s.export = svc }
func (s *Service) SetMedia(svc mediaService)           { s.media = svc }
func (s *Service) SetAuthPassword(svc *authpw.Service) { s.authpw = svc }
func (s *Service) SetEmail(svc *email.Service)         { s.email = svc }

func (s *Service) AuthPasswordService() *authpw.Service { return s.authpw }

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) SyncToken() string { return s.cfg.SyncToken }

func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// SearchSmells runs a catalog search. With no search backend wired the
// endpoint degrades to an empty result set instead of erroring.
func (s *Service) SearchSmells(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Total: 0, Query: q.Text}
	}
	return s.search.Search(q)
}

type seedSmell struct {
	Title       string
	Category    string
	Difficulty  string
	Tags        string
	Description string
	BadCode     string
	GoodCode    string
	TestHint    string
	Problem     string
	Solution    string
}

var seedCatalog = []seedSmell{
	{
		Title:       "Magic Numbers",
		Category:    "NAMING",
		Difficulty:  "BEGINNER",
		Tags:        "constants, readability",
		Description: "Unexplained numeric literals scattered through the code.",
		BadCode:     "if user.failedLogins > 3 {\n\tlockAccount(user, 1800)\n}",
		GoodCode:    "const maxFailedLogins = 3\nconst lockoutSeconds = 30 * 60\n\nif user.failedLogins > maxFailedLogins {\n\tlockAccount(user, lockoutSeconds)\n}",
		TestHint:    "Name the constant after the business rule it encodes, then assert against the name.",
		Problem:     "Readers cannot tell whether 1800 is seconds, milliseconds, or a count. Changing the rule means hunting every occurrence.",
		Solution:    "Extract each literal into a named constant next to the rule it implements.",
	},
	{
		Title:       "Duplicate Logic",
		Category:    "DUPLICATION",
		Difficulty:  "MEDIUM",
		Tags:        "dry, extraction",
		Description: "The same branch of business logic copy-pasted into several call sites.",
		BadCode:     "total := price * qty\nif customer.IsVIP {\n\ttotal = total * 0.9\n}\n// ...same block repeated in invoice.go and cart.go",
		GoodCode:    "func applyDiscount(total float64, c Customer) float64 {\n\tif c.IsVIP {\n\t\treturn total * 0.9\n\t}\n\treturn total\n}",
		TestHint:    "Write one table test against the extracted function instead of three copies.",
		Problem:     "Fixing a bug in one copy leaves the others wrong. The copies drift apart silently.",
		Solution:    "Extract the shared branch into a single function and call it from every site.",
	},
	{
		Title:       "God Function",
		Category:    "COMPLEXITY",
		Difficulty:  "HARD",
		Tags:        "decomposition, single-responsibility",
		Description: "One function that validates, transforms, persists, and notifies in a single 300-line body.",
		BadCode:     "func ProcessOrder(o Order) error {\n\t// 300 lines: validation, pricing,\n\t// inventory, persistence, email\n}",
		GoodCode:    "func ProcessOrder(o Order) error {\n\tif err := validate(o); err != nil {\n\t\treturn err\n\t}\n\tpriced := price(o)\n\tif err := persist(priced); err != nil {\n\t\treturn err\n\t}\n\treturn notify(priced)\n}",
		TestHint:    "Each extracted step gets its own focused test; the orchestrator only needs a happy-path check.",
		Problem:     "Every change risks every responsibility. Nothing can be tested in isolation.",
		Solution:    "Split the body along its responsibilities and keep the original as a thin orchestrator.",
	},
}

// Bootstrap seeds the starter catalog and an admin account on first boot.
func (s *Service) Bootstrap(ctx context.Context) error {
	total, err := s.store.CountSmells(ctx, store.SmellFilter{Status: "all"})
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}

	admin, err := s.store.EnsureUserByEmail(ctx, "admin@refactory.dev", "Refactory Admin", "")
	if err != nil {
		return err
	}
	if admin.Role != string(rbac.RoleAdmin) {
		adminRole := string(rbac.RoleAdmin)
		if _, err := s.store.UpdateUserAdmin(ctx, admin.ID, nil, &adminRole); err != nil {
			return err
		}
	}

	for _, seed := range seedCatalog {
		item := store.Smell{
			ID:          util.NewID("sml"),
			Title:       seed.Title,
			Category:    seed.Category,
			Difficulty:  seed.Difficulty,
			Tags:        seed.Tags,
			Description: seed.Description,
			BadCode:     seed.BadCode,
			GoodCode:    seed.GoodCode,
			TestHint:    seed.TestHint,
			Problem:     seed.Problem,
			Solution:    seed.Solution,
			IsPublished: true,
		}
		if err := s.store.InsertSmell(ctx, item); err != nil {
			return err
		}
		if s.revisions != nil {
			if err := s.revisions.EnsureRepo(item.ID, revision.Content{
				Title:       item.Title,
				Description: item.Description,
				BadCode:     item.BadCode,
				GoodCode:    item.GoodCode,
				TestHint:    item.TestHint,
			}, admin.Name); err != nil {
				return err
			}
		}
	}

	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

// Login provisions the user on first sign-in and issues a session. The
// identity assertion (email, name, image) is resolved by the caller at the
// API boundary.
func (s *Service) Login(ctx context.Context, emailAddr, name, image string) (Session, error) {
	emailAddr = strings.TrimSpace(strings.ToLower(emailAddr))
	if emailAddr == "" {
		return Session{}, domainError(422, "VALIDATION_ERROR", "email is required", map[string]any{"field": "email"})
	}

	user, err := s.store.EnsureUserByEmail(ctx, emailAddr, strings.TrimSpace(name), strings.TrimSpace(image))
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

// CreateSession issues a session for an already-authenticated user id
// (email/password sign-in path).
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	stored, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}

	// Re-read the user so role changes take effect on rotation.
	user, err := s.store.GetUserByID(ctx, stored.ID)
	if err != nil {
		return Session{}, err
	}

	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}
