package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"refactory/api/internal/email"
	"refactory/api/internal/rbac"
	"refactory/api/internal/store"
)

// activeUserWindow is fixed regardless of the requested analytics range.
const activeUserWindow = 30 * 24 * time.Hour

var analyticsRanges = map[string]int{
	"7d":  7,
	"30d": 30,
	"90d": 90,
	"1y":  365,
}

type AdminUserInput struct {
	Name *string `json:"name"`
	Role *string `json:"role"`
}

type BulkUserInput struct {
	Action  string            `json:"action"`
	UserIDs []string          `json:"userIds"`
	Data    map[string]string `json:"data"`
}

// AdminStats returns the overview dashboard. Any failed aggregation fails
// the whole response.
func (s *Service) AdminStats(ctx context.Context) (map[string]any, error) {
	now := time.Now()

	totalSmells, err := s.store.CountSmells(ctx, store.SmellFilter{Status: "all"})
	if err != nil {
		return nil, err
	}
	publishedSmells, err := s.store.CountSmells(ctx, store.SmellFilter{Status: "published"})
	if err != nil {
		return nil, err
	}
	totalUsers, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	activeUsers, err := s.store.CountActiveUsers(ctx, now.Add(-activeUserWindow))
	if err != nil {
		return nil, err
	}
	totalFavorites, err := s.store.CountRelations(ctx, store.RelationFavorite)
	if err != nil {
		return nil, err
	}
	totalProgress, err := s.store.CountRelations(ctx, store.RelationProgress)
	if err != nil {
		return nil, err
	}
	recentActivity, err := s.store.CountActivityBetween(ctx, now.Add(-7*24*time.Hour), now)
	if err != nil {
		return nil, err
	}
	byCategory, err := s.store.SmellsByCategory(ctx)
	if err != nil {
		return nil, err
	}
	byDifficulty, err := s.store.SmellsByDifficulty(ctx)
	if err != nil {
		return nil, err
	}
	popular, err := s.store.PopularSmells(ctx, 20)
	if err != nil {
		return nil, err
	}

	popularPayload := make([]map[string]any, 0, len(popular))
	for _, item := range popular {
		popularPayload = append(popularPayload, map[string]any{
			"id":             item.ID,
			"title":          item.Title,
			"category":       item.Category,
			"difficulty":     item.Difficulty,
			"favoritesCount": item.FavoritesCount,
			"progressCount":  item.ProgressCount,
		})
	}

	return map[string]any{
		"overview": map[string]any{
			"totalSmells":     totalSmells,
			"publishedSmells": publishedSmells,
			"draftSmells":     totalSmells - publishedSmells,
			"totalUsers":      totalUsers,
			"activeUsers":     activeUsers,
			"totalFavorites":  totalFavorites,
			"totalProgress":   totalProgress,
			"recentActivity":  recentActivity,
		},
		"smellsByCategory":   groupCountPayload(byCategory, "category"),
		"smellsByDifficulty": groupCountPayload(byDifficulty, "difficulty"),
		"popularSmells":      popularPayload,
	}, nil
}

func groupCountPayload(groups []store.GroupCount, key string) []map[string]any {
	payload := make([]map[string]any, 0, len(groups))
	for _, group := range groups {
		payload = append(payload, map[string]any{key: group.Key, "count": group.Count})
	}
	return payload
}

// SmellAnalytics returns the per-calendar-day created series for the
// requested range, including zero-count days.
func (s *Service) SmellAnalytics(ctx context.Context, timeRange string) (map[string]any, error) {
	if timeRange == "" {
		timeRange = "30d"
	}
	days, ok := analyticsRanges[timeRange]
	if !ok {
		return nil, validationError("timeRange", "timeRange must be one of 7d, 30d, 90d, 1y")
	}

	series, err := s.dailySeries(ctx, days, s.store.CountSmellsCreatedBetween)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"timeRange": timeRange,
		"series":    series,
	}, nil
}

// dailySeries walks the date range one calendar day at a time so empty days
// appear as explicit zero buckets.
func (s *Service) dailySeries(ctx context.Context, days int, count func(context.Context, time.Time, time.Time) (int, error)) ([]map[string]any, error) {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	series := make([]map[string]any, 0, days)
	for i := days - 1; i >= 0; i-- {
		from := today.AddDate(0, 0, -i)
		to := from.AddDate(0, 0, 1)
		n, err := count(ctx, from, to)
		if err != nil {
			return nil, err
		}
		series = append(series, map[string]any{
			"date":  from.Format("2006-01-02"),
			"count": n,
		})
	}
	return series, nil
}

func (s *Service) UserAnalytics(ctx context.Context) (map[string]any, error) {
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	lastMonthStart := monthStart.AddDate(0, -1, 0)

	newThisMonth, err := s.store.CountUsersCreatedBetween(ctx, monthStart, now)
	if err != nil {
		return nil, err
	}
	newLastMonth, err := s.store.CountUsersCreatedBetween(ctx, lastMonthStart, monthStart)
	if err != nil {
		return nil, err
	}
	growthRate := 0.0
	if newLastMonth > 0 {
		growthRate = float64(newThisMonth-newLastMonth) / float64(newLastMonth) * 100
	}

	byRole, err := s.store.UsersByRole(ctx)
	if err != nil {
		return nil, err
	}
	topUsers, err := s.store.TopUsersByActivity(ctx, 10)
	if err != nil {
		return nil, err
	}
	activitySeries, err := s.dailySeries(ctx, 30, s.store.CountActivityBetween)
	if err != nil {
		return nil, err
	}

	topPayload := make([]map[string]any, 0, len(topUsers))
	for _, user := range topUsers {
		entry := map[string]any{
			"id":             user.ID,
			"name":           user.Name,
			"email":          user.Email,
			"role":           user.Role,
			"activityCount":  user.ActivityCount,
			"favoritesCount": user.FavoritesCount,
			"progressCount":  user.ProgressCount,
			"lastActivity":   nil,
		}
		if user.LastActivityAt != nil {
			entry["lastActivity"] = *user.LastActivityAt
		}
		topPayload = append(topPayload, entry)
	}

	return map[string]any{
		"newUsersThisMonth": newThisMonth,
		"growthRate":        growthRate,
		"usersByRole":       groupCountPayload(byRole, "role"),
		"topUsers":          topPayload,
		"activitySeries":    activitySeries,
	}, nil
}

func adminUserPayload(user store.AdminUser) map[string]any {
	payload := map[string]any{
		"id":             user.ID,
		"name":           user.Name,
		"email":          user.Email,
		"image":          user.Image,
		"role":           user.Role,
		"favoritesCount": user.FavoritesCount,
		"progressCount":  user.ProgressCount,
		"lastActivity":   nil,
		"createdAt":      user.CreatedAt,
		"updatedAt":      user.UpdatedAt,
	}
	if user.LastActivityAt != nil {
		payload["lastActivity"] = *user.LastActivityAt
	}
	return payload
}

func (s *Service) ListAdminUsers(ctx context.Context) (map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(users))
	for _, user := range users {
		payload = append(payload, adminUserPayload(user))
	}
	return map[string]any{"users": payload, "total": len(payload)}, nil
}

func (s *Service) GetAdminUserDetail(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetAdminUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return adminUserPayload(user), nil
}

func (s *Service) UpdateAdminUser(ctx context.Context, userID string, input AdminUserInput, actor Session) (map[string]any, error) {
	var name, role *string
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if trimmed == "" {
			return nil, validationError("name", "name must not be empty")
		}
		name = &trimmed
	}
	if input.Role != nil {
		if !s.Can(actor.Role, rbac.ActionChangeRoles) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only admins may change roles", nil)
		}
		candidate := *input.Role
		if rbac.Role(candidate) != rbac.RoleUser && rbac.Role(candidate) != rbac.RoleModerator && rbac.Role(candidate) != rbac.RoleAdmin {
			return nil, validationError("role", fmt.Sprintf("invalid role %q", candidate))
		}
		role = &candidate
	}
	if name == nil && role == nil {
		return nil, validationError("body", "nothing to update")
	}

	user, err := s.store.UpdateUserAdmin(ctx, userID, name, role)
	if err != nil {
		return nil, err
	}
	detail, err := s.store.GetAdminUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return adminUserPayload(detail), nil
}

func (s *Service) DeleteAdminUser(ctx context.Context, userID string, actor Session) (map[string]any, error) {
	if !s.Can(actor.Role, rbac.ActionChangeRoles) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only admins may delete users", nil)
	}
	if userID == actor.UserID {
		return nil, validationError("id", "use the delete-account endpoint to remove your own account")
	}
	found, err := s.store.DeleteUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, sql.ErrNoRows
	}
	return map[string]any{"success": true}, nil
}

func (s *Service) BulkUserAction(ctx context.Context, input BulkUserInput, actor Session) (map[string]any, error) {
	if len(input.UserIDs) == 0 {
		return nil, validationError("userIds", "userIds must not be empty")
	}
	if !s.Can(actor.Role, rbac.ActionChangeRoles) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only admins may bulk-modify users", nil)
	}
	for _, id := range input.UserIDs {
		if id == actor.UserID {
			return nil, validationError("userIds", "bulk actions cannot target your own account")
		}
	}

	var affected int
	var err error
	switch input.Action {
	case "delete":
		affected, err = s.store.BulkDeleteUsers(ctx, input.UserIDs)
	case "changeRole":
		role := input.Data["role"]
		if rbac.Role(role) != rbac.RoleUser && rbac.Role(role) != rbac.RoleModerator && rbac.Role(role) != rbac.RoleAdmin {
			return nil, validationError("data.role", "changeRole requires a valid target role")
		}
		affected, err = s.store.BulkChangeRole(ctx, input.UserIDs, role)
	default:
		return nil, validationError("action", fmt.Sprintf("invalid bulk action %q", input.Action))
	}
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":       true,
		"affectedCount": affected,
		"action":        input.Action,
	}, nil
}

// ---- admin settings ----

type GeneralSettings struct {
	SiteName        string `json:"siteName"`
	SiteDescription string `json:"siteDescription"`
	SupportEmail    string `json:"supportEmail"`
	MaintenanceMode bool   `json:"maintenanceMode"`
}

type EmailSettings struct {
	SMTPHost    string `json:"smtpHost"`
	SMTPPort    string `json:"smtpPort"`
	SMTPUser    string `json:"smtpUser"`
	FromAddress string `json:"fromAddress"`
	FromName    string `json:"fromName"`
	Enabled     bool   `json:"enabled"`
}

type SecuritySettings struct {
	SessionTimeoutMinutes    int  `json:"sessionTimeoutMinutes"`
	MaxLoginAttempts         int  `json:"maxLoginAttempts"`
	LockoutMinutes           int  `json:"lockoutMinutes"`
	RequireEmailVerification bool `json:"requireEmailVerification"`
}

type FeatureSettings struct {
	EnableSearch    bool `json:"enableSearch"`
	EnableExport    bool `json:"enableExport"`
	EnableFavorites bool `json:"enableFavorites"`
	EnableProgress  bool `json:"enableProgress"`
	EnableSignup    bool `json:"enableSignup"`
}

type AppearanceSettings struct {
	DefaultTheme         string `json:"defaultTheme"`
	AccentColor          string `json:"accentColor"`
	ShowDifficultyBadges bool   `json:"showDifficultyBadges"`
}

// defaultSettingsFor returns a pointer to the section's defaults, or nil for
// an unknown section.
func defaultSettingsFor(section string) any {
	switch section {
	case "general":
		return &GeneralSettings{SiteName: "Refactory", SiteDescription: "Learn to recognize and fix code smells"}
	case "email":
		return &EmailSettings{SMTPPort: "587", FromName: "Refactory"}
	case "security":
		return &SecuritySettings{SessionTimeoutMinutes: 15, MaxLoginAttempts: 5, LockoutMinutes: 30, RequireEmailVerification: true}
	case "features":
		return &FeatureSettings{EnableSearch: true, EnableExport: true, EnableFavorites: true, EnableProgress: true, EnableSignup: true}
	case "appearance":
		return &AppearanceSettings{DefaultTheme: "system", AccentColor: "#16a34a", ShowDifficultyBadges: true}
	default:
		return nil
	}
}

// Settings rows are keyed "section.field" with JSON-encoded values.

func flattenSettings(section string, value any) (map[string]string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("flatten settings: %w", err)
	}
	out := make(map[string]string, len(fields))
	for name, fieldValue := range fields {
		out[section+"."+name] = string(fieldValue)
	}
	return out, nil
}

func hydrateSettings(section string, stored map[string]string, target any) error {
	fields := make(map[string]json.RawMessage, len(stored))
	for key, value := range stored {
		fields[strings.TrimPrefix(key, section+".")] = json.RawMessage(value)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("hydrate settings: %w", err)
	}
	return json.Unmarshal(raw, target)
}

func (s *Service) loadSettingsSection(ctx context.Context, section string) (any, error) {
	target := defaultSettingsFor(section)
	if target == nil {
		return nil, validationError("section", fmt.Sprintf("unknown settings section %q", section))
	}
	stored, err := s.store.GetSettings(ctx, section+".")
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		if err := hydrateSettings(section, stored, target); err != nil {
			return nil, err
		}
	}
	return target, nil
}

func (s *Service) GetAdminSettings(ctx context.Context, section string) (map[string]any, error) {
	settings, err := s.loadSettingsSection(ctx, section)
	if err != nil {
		return nil, err
	}
	return map[string]any{"section": section, "settings": settings}, nil
}

// UpdateAdminSettings merges the request body over the stored section and
// persists every field of the section.
func (s *Service) UpdateAdminSettings(ctx context.Context, section string, body json.RawMessage) (map[string]any, error) {
	settings, err := s.loadSettingsSection(ctx, section)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, settings); err != nil {
			return nil, validationError("body", "settings body does not match the section schema")
		}
	}
	if section == "appearance" {
		appearance := settings.(*AppearanceSettings)
		if _, ok := allowedThemes[appearance.DefaultTheme]; !ok {
			return nil, validationError("defaultTheme", "defaultTheme must be light, dark, or system")
		}
	}

	values, err := flattenSettings(section, settings)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutSettings(ctx, values); err != nil {
		return nil, err
	}
	return map[string]any{"section": section, "settings": settings}, nil
}

// SendTestEmail sends the settings panel test message. Stored email settings
// override the environment SMTP config when present.
func (s *Service) SendTestEmail(ctx context.Context, to string, actor Session) (map[string]any, error) {
	if strings.TrimSpace(to) == "" {
		return nil, validationError("to", "recipient address is required")
	}

	sender := s.email
	settings, err := s.loadSettingsSection(ctx, "email")
	if err != nil {
		return nil, err
	}
	stored := settings.(*EmailSettings)
	if stored.Enabled && stored.SMTPHost != "" {
		sender = email.NewService(email.Config{
			Host:     stored.SMTPHost,
			Port:     stored.SMTPPort,
			Username: stored.SMTPUser,
			Password: s.cfg.SMTPPassword,
			From:     stored.FromAddress,
			FromName: stored.FromName,
		})
	}
	if sender == nil || !sender.IsConfigured() {
		return nil, domainError(http.StatusServiceUnavailable, "EMAIL_UNAVAILABLE", "email sending is not configured", nil)
	}

	if err := sender.SendTestEmail(to, actor.UserName); err != nil {
		return nil, domainError(http.StatusBadGateway, "EMAIL_FAILED", "test email could not be sent", nil)
	}
	return map[string]any{"success": true}, nil
}
