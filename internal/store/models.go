package store

import "time"

type User struct {
	ID                    string
	Name                  string
	Email                 string
	Image                 string
	Role                  string
	Bio                   string
	Location              string
	Website               string
	LinkedinURL           string
	TwitterURL            string
	GithubURL             string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Smell struct {
	ID          string
	Title       string
	Category    string
	Description string
	BadCode     string
	GoodCode    string
	TestHint    string
	Difficulty  string
	Tags        string
	IsPublished bool
	Problem     string
	Solution    string
	Testing     string
	Examples    string
	References  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Counts joined in for list/detail responses
	FavoritesCount int
	ProgressCount  int
}

// SmellFilter narrows ListSmells / CountSmells. Limit 0 means no LIMIT clause
// (used when the page is sliced in memory after sorting).
type SmellFilter struct {
	Search       string
	Categories   []string
	Difficulties []string
	Status       string // published, draft, all
	SortBy       string // title, createdAt, updatedAt, category
	SortOrder    string // asc, desc
	Limit        int
	Offset       int
}

type SmellPatch struct {
	Title       *string
	Category    *string
	Description *string
	BadCode     *string
	GoodCode    *string
	TestHint    *string
	Difficulty  *string
	Tags        *string
	IsPublished *bool
	Problem     *string
	Solution    *string
	Testing     *string
	Examples    *string
	References  *string
}

type ProfilePatch struct {
	Name        *string
	Bio         *string
	Location    *string
	Website     *string
	LinkedinURL *string
	TwitterURL  *string
}

type Preferences struct {
	UserID            string
	EmailUpdates      bool
	ProgressReminders bool
	NewSmells         bool
	WeeklyDigest      bool
	ProfileVisibility string
	ShowProgress      bool
	AllowAnalytics    bool
	Theme             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Activity struct {
	ID           int64
	UserID       string
	Action       string
	ResourceID   string
	ResourceType string
	Metadata     string
	CreatedAt    time.Time
}

type RelationCounts struct {
	Favorites int
	Progress  int
}

type AdminUser struct {
	User
	FavoritesCount int
	ProgressCount  int
	LastActivityAt *time.Time
}

type GroupCount struct {
	Key   string
	Count int
}

type PopularSmell struct {
	ID             string
	Title          string
	Category       string
	Difficulty     string
	FavoritesCount int
	ProgressCount  int
}

type ActiveUser struct {
	ID             string
	Name           string
	Email          string
	Role           string
	ActivityCount  int
	FavoritesCount int
	ProgressCount  int
	LastActivityAt *time.Time
}
