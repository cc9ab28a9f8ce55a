package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"refactory/api/internal/media"
	"refactory/api/internal/store"
)

type RelationToggleInput struct {
	SmellID string `json:"smellId"`
	Action  string `json:"action"`
}

type ProfileInput struct {
	Name        *string `json:"name"`
	Bio         *string `json:"bio"`
	Location    *string `json:"location"`
	Website     *string `json:"website"`
	LinkedinURL *string `json:"linkedinUrl"`
	TwitterURL  *string `json:"twitterUrl"`
	GithubURL   *string `json:"githubUrl"`
}

type PreferencesInput struct {
	EmailUpdates      *bool   `json:"emailUpdates"`
	ProgressReminders *bool   `json:"progressReminders"`
	NewSmells         *bool   `json:"newSmells"`
	WeeklyDigest      *bool   `json:"weeklyDigest"`
	ProfileVisibility *string `json:"profileVisibility"`
	ShowProgress      *bool   `json:"showProgress"`
	AllowAnalytics    *bool   `json:"allowAnalytics"`
	Theme             *string `json:"theme"`
}

var allowedThemes = map[string]struct{}{
	"light":  {},
	"dark":   {},
	"system": {},
}

// ToggleRelation adds or removes a favorite/progress row for the session user.
func (s *Service) ToggleRelation(ctx context.Context, session Session, kind string, input RelationToggleInput) (map[string]any, error) {
	if strings.TrimSpace(input.SmellID) == "" {
		return nil, validationError("smellId", "smellId is required")
	}

	switch input.Action {
	case "add":
		if _, err := s.store.GetSmell(ctx, input.SmellID); err != nil {
			return nil, err
		}
		exists, err := s.store.HasRelation(ctx, kind, session.UserID, input.SmellID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, domainError(http.StatusConflict, "CONFLICT", fmt.Sprintf("%s already exists for this smell", kind), nil)
		}
		if err := s.store.AddRelation(ctx, kind, session.UserID, input.SmellID); err != nil {
			// The unique constraint is authoritative under concurrent adds.
			if store.IsUniqueViolation(err) {
				return nil, domainError(http.StatusConflict, "CONFLICT", fmt.Sprintf("%s already exists for this smell", kind), nil)
			}
			return nil, err
		}
		s.recordActivity(ctx, session.UserID, kind+"_added", input.SmellID, "smell")
	case "remove":
		// Idempotent; removing a missing relation is a success.
		removed, err := s.store.RemoveRelation(ctx, kind, session.UserID, input.SmellID)
		if err != nil {
			return nil, err
		}
		if removed {
			s.recordActivity(ctx, session.UserID, kind+"_removed", input.SmellID, "smell")
		}
	default:
		return nil, validationError("action", "action must be add or remove")
	}

	return map[string]any{"success": true, "action": input.Action}, nil
}

// ListRelations returns the smells the user holds the given relation to.
func (s *Service) ListRelations(ctx context.Context, userID, kind string) (map[string]any, error) {
	items, err := s.store.ListRelationSmells(ctx, kind, userID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, smellPayload(item))
	}
	return map[string]any{"smells": payload, "total": len(payload)}, nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	lastActivity, err := s.store.LastActivityAt(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.UserRelationCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profilePayload(user, lastActivity, counts), nil
}

func profilePayload(user store.User, lastActivity *time.Time, counts store.RelationCounts) map[string]any {
	payload := map[string]any{
		"id":             user.ID,
		"name":           user.Name,
		"email":          user.Email,
		"image":          user.Image,
		"role":           user.Role,
		"bio":            user.Bio,
		"location":       user.Location,
		"website":        user.Website,
		"linkedinUrl":    user.LinkedinURL,
		"twitterUrl":     user.TwitterURL,
		"githubUrl":      user.GithubURL,
		"favoritesCount": counts.Favorites,
		"progressCount":  counts.Progress,
		"createdAt":      user.CreatedAt,
		"updatedAt":      user.UpdatedAt,
	}
	if lastActivity != nil {
		payload["lastActivity"] = *lastActivity
	} else {
		payload["lastActivity"] = nil
	}
	return payload
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, input ProfileInput) (map[string]any, error) {
	if input.GithubURL != nil {
		return nil, validationError("githubUrl", "githubUrl is read-only; it is set by the sync integration")
	}

	patch := store.ProfilePatch{
		Bio:      input.Bio,
		Location: input.Location,
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, validationError("name", "name must not be empty")
		}
		patch.Name = &name
	}
	for _, field := range []struct {
		name  string
		value *string
	}{
		{"website", input.Website},
		{"linkedinUrl", input.LinkedinURL},
		{"twitterUrl", input.TwitterURL},
	} {
		if field.value == nil {
			continue
		}
		if err := validateURLField(field.name, *field.value); err != nil {
			return nil, err
		}
	}
	patch.Website = input.Website
	patch.LinkedinURL = input.LinkedinURL
	patch.TwitterURL = input.TwitterURL

	user, err := s.store.UpdateProfile(ctx, userID, patch)
	if err != nil {
		return nil, err
	}

	lastActivity, err := s.store.LastActivityAt(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.UserRelationCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profilePayload(user, lastActivity, counts), nil
}

// validateURLField accepts an empty string (clearing the field) and otherwise
// requires an absolute http(s) URL.
func validateURLField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return validationError(field, fmt.Sprintf("%s must be a valid http(s) URL", field))
	}
	return nil
}

func (s *Service) UploadAvatar(ctx context.Context, session Session, contentType string, body io.Reader, size int64) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "avatar storage not configured", nil)
	}
	imageURL, err := s.media.UploadAvatar(ctx, session.UserID, contentType, body, size)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedType) {
			return nil, validationError("contentType", "avatar must be a png, jpeg, or webp image")
		}
		return nil, err
	}
	if err := s.store.SetUserImage(ctx, session.UserID, imageURL); err != nil {
		return nil, err
	}
	s.recordActivity(ctx, session.UserID, "avatar_uploaded", "", "user")
	return map[string]any{"success": true, "image": imageURL}, nil
}

func (s *Service) GetPreferences(ctx context.Context, userID string) (map[string]any, error) {
	prefs, found, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		prefs = defaultPreferences(userID)
	}
	return preferencesPayload(prefs), nil
}

// UpdatePreferences creates the row on first write; only supplied fields
// change, everything else keeps its stored or default value.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, input PreferencesInput) (map[string]any, error) {
	prefs, found, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		prefs = defaultPreferences(userID)
	}

	if input.EmailUpdates != nil {
		prefs.EmailUpdates = *input.EmailUpdates
	}
	if input.ProgressReminders != nil {
		prefs.ProgressReminders = *input.ProgressReminders
	}
	if input.NewSmells != nil {
		prefs.NewSmells = *input.NewSmells
	}
	if input.WeeklyDigest != nil {
		prefs.WeeklyDigest = *input.WeeklyDigest
	}
	if input.ProfileVisibility != nil {
		if *input.ProfileVisibility != "PUBLIC" && *input.ProfileVisibility != "PRIVATE" {
			return nil, validationError("profileVisibility", "profileVisibility must be PUBLIC or PRIVATE")
		}
		prefs.ProfileVisibility = *input.ProfileVisibility
	}
	if input.ShowProgress != nil {
		prefs.ShowProgress = *input.ShowProgress
	}
	if input.AllowAnalytics != nil {
		prefs.AllowAnalytics = *input.AllowAnalytics
	}
	if input.Theme != nil {
		if _, ok := allowedThemes[*input.Theme]; !ok {
			return nil, validationError("theme", "theme must be light, dark, or system")
		}
		prefs.Theme = *input.Theme
	}

	if err := s.store.PutPreferences(ctx, prefs); err != nil {
		return nil, err
	}
	return preferencesPayload(prefs), nil
}

func defaultPreferences(userID string) store.Preferences {
	return store.Preferences{
		UserID:            userID,
		EmailUpdates:      true,
		ProgressReminders: false,
		NewSmells:         true,
		WeeklyDigest:      true,
		ProfileVisibility: "PUBLIC",
		ShowProgress:      true,
		AllowAnalytics:    false,
		Theme:             "system",
	}
}

func preferencesPayload(prefs store.Preferences) map[string]any {
	return map[string]any{
		"emailUpdates":      prefs.EmailUpdates,
		"progressReminders": prefs.ProgressReminders,
		"newSmells":         prefs.NewSmells,
		"weeklyDigest":      prefs.WeeklyDigest,
		"profileVisibility": prefs.ProfileVisibility,
		"showProgress":      prefs.ShowProgress,
		"allowAnalytics":    prefs.AllowAnalytics,
		"theme":             prefs.Theme,
	}
}

// DeleteAccount removes the user and all owned rows, then tells the caller
// to drop any client-held session state.
func (s *Service) DeleteAccount(ctx context.Context, session Session) (map[string]any, error) {
	found, err := s.store.DeleteUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, sql.ErrNoRows
	}

	_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	if s.media != nil {
		_ = s.media.RemoveAvatar(ctx, session.UserID)
	}
	return map[string]any{"success": true, "clearSession": true}, nil
}

// HandleGithubSync is the only writer of users.github_url, driven by the
// internal sync endpoint.
func (s *Service) HandleGithubSync(ctx context.Context, emailAddr, githubURL string) (map[string]any, error) {
	if strings.TrimSpace(emailAddr) == "" {
		return nil, validationError("email", "email is required")
	}
	if err := validateURLField("githubUrl", githubURL); err != nil {
		return nil, err
	}
	found, err := s.store.SetGithubURL(ctx, emailAddr, githubURL)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, sql.ErrNoRows
	}
	return map[string]any{"success": true}, nil
}
