package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"refactory/api/internal/util"
)

const (
	RelationFavorite = "favorite"
	RelationProgress = "progress"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IsUniqueViolation reports whether err is a Postgres unique constraint error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const userColumns = `id, email, name, image, role, bio, location, website, linkedin_url, twitter_url, github_url, password_hash, is_email_verified, verification_token, verification_expires_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Image,
		&user.Role,
		&user.Bio,
		&user.Location,
		&user.Website,
		&user.LinkedinURL,
		&user.TwitterURL,
		&user.GithubURL,
		&user.PasswordHash,
		&user.IsEmailVerified,
		&user.VerificationToken,
		&user.VerificationExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

// EnsureUserByEmail provisions a user on first sign-in and returns the
// existing row on subsequent calls. Name and image refresh on every login.
func (s *PostgresStore) EnsureUserByEmail(ctx context.Context, email, name, image string) (User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		if (name != "" && name != user.Name) || (image != "" && image != user.Image) {
			_, updateErr := s.db.ExecContext(ctx, `
				UPDATE users
				SET name = COALESCE(NULLIF($2, ''), name),
					image = COALESCE(NULLIF($3, ''), image),
					updated_at = NOW()
				WHERE id = $1
			`, user.ID, name, image)
			if updateErr != nil {
				return User{}, fmt.Errorf("refresh user identity: %w", updateErr)
			}
			return s.GetUserByID(ctx, user.ID)
		}
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	user = User{
		ID:              util.NewID("usr"),
		Email:           email,
		Name:            name,
		Image:           image,
		Role:            "USER",
		IsEmailVerified: true,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return User{}, err
	}
	return s.GetUserByID(ctx, user.ID)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	role := user.Role
	if role == "" {
		role = "USER"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, image, role, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Email, user.Name, user.Image, role, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_token <> '' AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, used_at=NULL
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// SetGithubURL is the single writer of users.github_url; it is keyed by email
// because the sync caller does not know internal user IDs.
func (s *PostgresStore) SetGithubURL(ctx context.Context, email, githubURL string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET github_url=$2, updated_at=NOW() WHERE LOWER(email)=LOWER($1)
	`, email, githubURL)
	if err != nil {
		return false, fmt.Errorf("set github url: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set github url affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (User, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{userID}
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	add("name", patch.Name)
	add("bio", patch.Bio)
	add("location", patch.Location)
	add("website", patch.Website)
	add("linkedin_url", patch.LinkedinURL)
	add("twitter_url", patch.TwitterURL)

	result, err := s.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return User{}, fmt.Errorf("update profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return User{}, fmt.Errorf("update profile affected: %w", err)
	}
	if affected == 0 {
		return User{}, sql.ErrNoRows
	}
	return s.GetUserByID(ctx, userID)
}

// SetUserImage records the avatar object URL after an upload.
func (s *PostgresStore) SetUserImage(ctx context.Context, userID, imageURL string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET image=$2, updated_at=NOW() WHERE id=$1
	`, userID, imageURL)
	if err != nil {
		return fmt.Errorf("set user image: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user image affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete user affected: %w", err)
	}
	return affected > 0, nil
}

// ---- refresh sessions / revoked access tokens (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = (
			SELECT user_id FROM refresh_sessions
			WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
		)
	`
	row := s.db.QueryRowContext(ctx, query, tokenHash)
	return scanUser(row)
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- smells ----

const smellColumns = `s.id, s.title, s.category, s.description, s.bad_code, s.good_code, s.test_hint, s.difficulty, s.tags, s.is_published, s.problem, s.solution, s.testing, s.examples, s.reference_links, s.created_at, s.updated_at,
	(SELECT COUNT(*) FROM favorites f WHERE f.smell_id = s.id),
	(SELECT COUNT(*) FROM progress p WHERE p.smell_id = s.id)`

func scanSmell(row interface{ Scan(...any) error }) (Smell, error) {
	var item Smell
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Category,
		&item.Description,
		&item.BadCode,
		&item.GoodCode,
		&item.TestHint,
		&item.Difficulty,
		&item.Tags,
		&item.IsPublished,
		&item.Problem,
		&item.Solution,
		&item.Testing,
		&item.Examples,
		&item.References,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.FavoritesCount,
		&item.ProgressCount,
	)
	return item, err
}

var smellSortColumns = map[string]string{
	"title":     "s.title",
	"createdAt": "s.created_at",
	"updatedAt": "s.updated_at",
	"category":  "s.category",
}

func buildSmellWhere(filter SmellFilter) (string, []any) {
	var conditions []string
	var args []any

	switch filter.Status {
	case "published":
		conditions = append(conditions, "s.is_published = TRUE")
	case "draft":
		conditions = append(conditions, "s.is_published = FALSE")
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(s.title ILIKE $%d OR s.description ILIKE $%d OR s.tags ILIKE $%d)", n, n, n))
	}
	if len(filter.Categories) > 0 {
		marks := make([]string, 0, len(filter.Categories))
		for _, category := range filter.Categories {
			args = append(args, category)
			marks = append(marks, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, "s.category IN ("+strings.Join(marks, ", ")+")")
	}
	if len(filter.Difficulties) > 0 {
		marks := make([]string, 0, len(filter.Difficulties))
		for _, difficulty := range filter.Difficulties {
			args = append(args, difficulty)
			marks = append(marks, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, "s.difficulty IN ("+strings.Join(marks, ", ")+")")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (s *PostgresStore) ListSmells(ctx context.Context, filter SmellFilter) ([]Smell, error) {
	where, args := buildSmellWhere(filter)

	sortColumn := smellSortColumns[filter.SortBy]
	if sortColumn == "" {
		sortColumn = "s.created_at"
	}
	direction := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		direction = "ASC"
	}

	query := `SELECT ` + smellColumns + ` FROM smells s` + where +
		fmt.Sprintf(" ORDER BY %s %s, s.id ASC", sortColumn, direction)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list smells: %w", err)
	}
	defer rows.Close()

	items := make([]Smell, 0)
	for rows.Next() {
		item, err := scanSmell(rows)
		if err != nil {
			return nil, fmt.Errorf("scan smell: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate smells: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountSmells(ctx context.Context, filter SmellFilter) (int, error) {
	where, args := buildSmellWhere(filter)
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM smells s`+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count smells: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) GetSmell(ctx context.Context, smellID string) (Smell, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+smellColumns+` FROM smells s WHERE s.id=$1`, smellID)
	return scanSmell(row)
}

func (s *PostgresStore) TitleExists(ctx context.Context, title, excludeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM smells WHERE LOWER(title)=LOWER($1) AND id <> $2)
	`, title, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check title: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertSmell(ctx context.Context, item Smell) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO smells (id, title, category, description, bad_code, good_code, test_hint, difficulty, tags, is_published, problem, solution, testing, examples, reference_links)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		item.ID, item.Title, item.Category, item.Description, item.BadCode, item.GoodCode,
		item.TestHint, item.Difficulty, item.Tags, item.IsPublished,
		item.Problem, item.Solution, item.Testing, item.Examples, item.References,
	)
	if err != nil {
		return fmt.Errorf("insert smell: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSmell(ctx context.Context, smellID string, patch SmellPatch) (Smell, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{smellID}
	addString := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	addString("title", patch.Title)
	addString("category", patch.Category)
	addString("description", patch.Description)
	addString("bad_code", patch.BadCode)
	addString("good_code", patch.GoodCode)
	addString("test_hint", patch.TestHint)
	addString("difficulty", patch.Difficulty)
	addString("tags", patch.Tags)
	addString("problem", patch.Problem)
	addString("solution", patch.Solution)
	addString("testing", patch.Testing)
	addString("examples", patch.Examples)
	addString("reference_links", patch.References)
	if patch.IsPublished != nil {
		args = append(args, *patch.IsPublished)
		sets = append(sets, fmt.Sprintf("is_published=$%d", len(args)))
	}

	result, err := s.db.ExecContext(ctx, `UPDATE smells SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return Smell{}, fmt.Errorf("update smell: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Smell{}, fmt.Errorf("update smell affected: %w", err)
	}
	if affected == 0 {
		return Smell{}, sql.ErrNoRows
	}
	return s.GetSmell(ctx, smellID)
}

func (s *PostgresStore) DeleteSmell(ctx context.Context, smellID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM smells WHERE id=$1`, smellID)
	if err != nil {
		return false, fmt.Errorf("delete smell: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete smell affected: %w", err)
	}
	return affected > 0, nil
}

func idPlaceholders(args *[]any, ids []string) string {
	marks := make([]string, 0, len(ids))
	for _, id := range ids {
		*args = append(*args, id)
		marks = append(marks, fmt.Sprintf("$%d", len(*args)))
	}
	return strings.Join(marks, ", ")
}

func (s *PostgresStore) BulkSetPublished(ctx context.Context, ids []string, published bool) (int, error) {
	args := []any{published}
	marks := idPlaceholders(&args, ids)
	result, err := s.db.ExecContext(ctx, `UPDATE smells SET is_published=$1, updated_at=NOW() WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk publish: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk publish affected: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) BulkDeleteSmells(ctx context.Context, ids []string) (int, error) {
	var args []any
	marks := idPlaceholders(&args, ids)
	result, err := s.db.ExecContext(ctx, `DELETE FROM smells WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete smells: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk delete smells affected: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) BulkChangeCategory(ctx context.Context, ids []string, category string) (int, error) {
	args := []any{category}
	marks := idPlaceholders(&args, ids)
	result, err := s.db.ExecContext(ctx, `UPDATE smells SET category=$1, updated_at=NOW() WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk change category: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk change category affected: %w", err)
	}
	return int(affected), nil
}

// ---- favorites / progress ----

func relationTable(kind string) (string, error) {
	switch kind {
	case RelationFavorite:
		return "favorites", nil
	case RelationProgress:
		return "progress", nil
	default:
		return "", fmt.Errorf("unknown relation kind %q", kind)
	}
}

func (s *PostgresStore) AddRelation(ctx context.Context, kind, userID, smellID string) error {
	table, err := relationTable(kind)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO `+table+` (user_id, smell_id) VALUES ($1, $2)`, userID, smellID); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("add %s: %w", kind, err)
	}
	return nil
}

func (s *PostgresStore) RemoveRelation(ctx context.Context, kind, userID, smellID string) (bool, error) {
	table, err := relationTable(kind)
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id=$1 AND smell_id=$2`, userID, smellID)
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", kind, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove %s affected: %w", kind, err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) HasRelation(ctx context.Context, kind, userID, smellID string) (bool, error) {
	table, err := relationTable(kind)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE user_id=$1 AND smell_id=$2)`, userID, smellID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s: %w", kind, err)
	}
	return exists, nil
}

func (s *PostgresStore) ListRelationSmells(ctx context.Context, kind, userID string) ([]Smell, error) {
	table, err := relationTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+smellColumns+`
		FROM `+table+` r
		JOIN smells s ON s.id = r.smell_id
		WHERE r.user_id=$1
		ORDER BY r.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list %s smells: %w", kind, err)
	}
	defer rows.Close()

	items := make([]Smell, 0)
	for rows.Next() {
		item, err := scanSmell(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s smell: %w", kind, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s smells: %w", kind, err)
	}
	return items, nil
}

func (s *PostgresStore) UserRelationCounts(ctx context.Context, userID string) (RelationCounts, error) {
	var counts RelationCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM favorites WHERE user_id=$1),
			(SELECT COUNT(*) FROM progress WHERE user_id=$1)
	`, userID).Scan(&counts.Favorites, &counts.Progress)
	if err != nil {
		return RelationCounts{}, fmt.Errorf("user relation counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) CountRelations(ctx context.Context, kind string) (int, error) {
	table, err := relationTable(kind)
	if err != nil {
		return 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&total); err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return total, nil
}

// ---- activity ----

func (s *PostgresStore) InsertActivity(ctx context.Context, activity Activity) error {
	metadata := activity.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_activity (user_id, action, resource_id, resource_type, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, activity.UserID, activity.Action, activity.ResourceID, activity.ResourceType, metadata)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) LastActivityAt(ctx context.Context, userID string) (*time.Time, error) {
	var last time.Time
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM user_activity WHERE user_id=$1 ORDER BY created_at DESC LIMIT 1`, userID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last activity: %w", err)
	}
	return &last, nil
}

func (s *PostgresStore) CountActivityBetween(ctx context.Context, from, to time.Time) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_activity WHERE created_at >= $1 AND created_at < $2`, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count activity: %w", err)
	}
	return total, nil
}

// ---- preferences ----

func (s *PostgresStore) GetPreferences(ctx context.Context, userID string) (Preferences, bool, error) {
	var prefs Preferences
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email_updates, progress_reminders, new_smells, weekly_digest, profile_visibility, show_progress, allow_analytics, theme, created_at, updated_at
		FROM user_preferences
		WHERE user_id=$1
	`, userID).Scan(
		&prefs.UserID,
		&prefs.EmailUpdates,
		&prefs.ProgressReminders,
		&prefs.NewSmells,
		&prefs.WeeklyDigest,
		&prefs.ProfileVisibility,
		&prefs.ShowProgress,
		&prefs.AllowAnalytics,
		&prefs.Theme,
		&prefs.CreatedAt,
		&prefs.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Preferences{}, false, nil
	}
	if err != nil {
		return Preferences{}, false, fmt.Errorf("get preferences: %w", err)
	}
	return prefs, true, nil
}

func (s *PostgresStore) PutPreferences(ctx context.Context, prefs Preferences) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, email_updates, progress_reminders, new_smells, weekly_digest, profile_visibility, show_progress, allow_analytics, theme)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			email_updates=EXCLUDED.email_updates,
			progress_reminders=EXCLUDED.progress_reminders,
			new_smells=EXCLUDED.new_smells,
			weekly_digest=EXCLUDED.weekly_digest,
			profile_visibility=EXCLUDED.profile_visibility,
			show_progress=EXCLUDED.show_progress,
			allow_analytics=EXCLUDED.allow_analytics,
			theme=EXCLUDED.theme,
			updated_at=NOW()
	`,
		prefs.UserID, prefs.EmailUpdates, prefs.ProgressReminders, prefs.NewSmells, prefs.WeeklyDigest,
		prefs.ProfileVisibility, prefs.ShowProgress, prefs.AllowAnalytics, prefs.Theme,
	)
	if err != nil {
		return fmt.Errorf("put preferences: %w", err)
	}
	return nil
}

// ---- settings ----

func (s *PostgresStore) GetSettings(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return values, nil
}

func (s *PostgresStore) PutSettings(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()
		`, key, value); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("put setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}

// ---- admin users ----

const adminUserTail = `,
	(SELECT COUNT(*) FROM favorites f WHERE f.user_id = u.id),
	(SELECT COUNT(*) FROM progress p WHERE p.user_id = u.id),
	(SELECT MAX(a.created_at) FROM user_activity a WHERE a.user_id = u.id)`

func scanAdminUser(row interface{ Scan(...any) error }) (AdminUser, error) {
	var item AdminUser
	err := row.Scan(
		&item.ID,
		&item.Email,
		&item.Name,
		&item.Image,
		&item.Role,
		&item.Bio,
		&item.Location,
		&item.Website,
		&item.LinkedinURL,
		&item.TwitterURL,
		&item.GithubURL,
		&item.PasswordHash,
		&item.IsEmailVerified,
		&item.VerificationToken,
		&item.VerificationExpiresAt,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.FavoritesCount,
		&item.ProgressCount,
		&item.LastActivityAt,
	)
	return item, err
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]AdminUser, error) {
	query := `SELECT u.` + strings.ReplaceAll(userColumns, ", ", ", u.") + adminUserTail + ` FROM users u ORDER BY u.created_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]AdminUser, 0)
	for rows.Next() {
		item, err := scanAdminUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAdminUser(ctx context.Context, userID string) (AdminUser, error) {
	query := `SELECT u.` + strings.ReplaceAll(userColumns, ", ", ", u.") + adminUserTail + ` FROM users u WHERE u.id=$1`
	row := s.db.QueryRowContext(ctx, query, userID)
	return scanAdminUser(row)
}

func (s *PostgresStore) UpdateUserAdmin(ctx context.Context, userID string, name, role *string) (User, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{userID}
	if name != nil {
		args = append(args, *name)
		sets = append(sets, fmt.Sprintf("name=$%d", len(args)))
	}
	if role != nil {
		args = append(args, *role)
		sets = append(sets, fmt.Sprintf("role=$%d", len(args)))
	}
	result, err := s.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return User{}, fmt.Errorf("update user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return User{}, fmt.Errorf("update user affected: %w", err)
	}
	if affected == 0 {
		return User{}, sql.ErrNoRows
	}
	return s.GetUserByID(ctx, userID)
}

func (s *PostgresStore) BulkDeleteUsers(ctx context.Context, ids []string) (int, error) {
	var args []any
	marks := idPlaceholders(&args, ids)
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete users: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk delete users affected: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) BulkChangeRole(ctx context.Context, ids []string, role string) (int, error) {
	args := []any{role}
	marks := idPlaceholders(&args, ids)
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role=$1, updated_at=NOW() WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk change role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk change role affected: %w", err)
	}
	return int(affected), nil
}

// ---- analytics ----

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) CountActiveUsers(ctx context.Context, since time.Time) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users u
		WHERE u.updated_at >= $1
			OR EXISTS(SELECT 1 FROM user_activity a WHERE a.user_id = u.id AND a.created_at >= $1)
	`, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) CountUsersCreatedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE created_at >= $1 AND created_at < $2`, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count users created: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) CountSmellsCreatedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM smells WHERE created_at >= $1 AND created_at < $2`, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count smells created: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) groupCounts(ctx context.Context, query string) ([]GroupCount, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]GroupCount, 0)
	for rows.Next() {
		var item GroupCount
		if err := rows.Scan(&item.Key, &item.Count); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) SmellsByCategory(ctx context.Context) ([]GroupCount, error) {
	items, err := s.groupCounts(ctx, `SELECT category, COUNT(*) FROM smells GROUP BY category ORDER BY COUNT(*) DESC, category ASC`)
	if err != nil {
		return nil, fmt.Errorf("smells by category: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SmellsByDifficulty(ctx context.Context) ([]GroupCount, error) {
	items, err := s.groupCounts(ctx, `SELECT difficulty, COUNT(*) FROM smells GROUP BY difficulty ORDER BY COUNT(*) DESC, difficulty ASC`)
	if err != nil {
		return nil, fmt.Errorf("smells by difficulty: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UsersByRole(ctx context.Context) ([]GroupCount, error) {
	items, err := s.groupCounts(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role ORDER BY COUNT(*) DESC, role ASC`)
	if err != nil {
		return nil, fmt.Errorf("users by role: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) PopularSmells(ctx context.Context, limit int) ([]PopularSmell, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.category, s.difficulty,
			(SELECT COUNT(*) FROM favorites f WHERE f.smell_id = s.id) AS favorites_count,
			(SELECT COUNT(*) FROM progress p WHERE p.smell_id = s.id) AS progress_count
		FROM smells s
		ORDER BY favorites_count DESC, progress_count DESC, s.title ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("popular smells: %w", err)
	}
	defer rows.Close()

	items := make([]PopularSmell, 0)
	for rows.Next() {
		var item PopularSmell
		if err := rows.Scan(&item.ID, &item.Title, &item.Category, &item.Difficulty, &item.FavoritesCount, &item.ProgressCount); err != nil {
			return nil, fmt.Errorf("scan popular smell: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate popular smells: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) TopUsersByActivity(ctx context.Context, limit int) ([]ActiveUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, u.role,
			(SELECT COUNT(*) FROM user_activity a WHERE a.user_id = u.id) AS activity_count,
			(SELECT COUNT(*) FROM favorites f WHERE f.user_id = u.id),
			(SELECT COUNT(*) FROM progress p WHERE p.user_id = u.id),
			(SELECT MAX(a.created_at) FROM user_activity a WHERE a.user_id = u.id)
		FROM users u
		ORDER BY activity_count DESC, u.created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}
	defer rows.Close()

	items := make([]ActiveUser, 0)
	for rows.Next() {
		var item ActiveUser
		if err := rows.Scan(&item.ID, &item.Name, &item.Email, &item.Role, &item.ActivityCount, &item.FavoritesCount, &item.ProgressCount, &item.LastActivityAt); err != nil {
			return nil, fmt.Errorf("scan top user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top users: %w", err)
	}
	return items, nil
}
