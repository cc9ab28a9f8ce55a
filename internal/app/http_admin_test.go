package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"refactory/api/internal/store"
)

func TestAdminStatsForbiddenForReaders(t *testing.T) {
	fs := storeWithRole(&fakeStore{}, "USER")
	server := NewHTTPServer(newTestService(fs), "*")

	req := authedRequest(t, http.MethodGet, "/api/admin/stats", nil, "USER")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAdminStatsOverview(t *testing.T) {
	fs := storeWithRole(&fakeStore{
		countSmellsFn: func(_ context.Context, filter store.SmellFilter) (int, error) {
			if filter.Status == "published" {
				return 8, nil
			}
			return 10, nil
		},
		countUsersFn: func(context.Context) (int, error) {
			return 42, nil
		},
		countRelationsFn: func(_ context.Context, kind string) (int, error) {
			if kind == store.RelationFavorite {
				return 7, nil
			}
			return 5, nil
		},
	}, "MODERATOR")
	server := NewHTTPServer(newTestService(fs), "*")

	req := authedRequest(t, http.MethodGet, "/api/admin/stats", nil, "MODERATOR")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	overview, ok := payload["overview"].(map[string]any)
	if !ok {
		t.Fatalf("expected overview object, got %v", payload["overview"])
	}
	if overview["totalSmells"] != float64(10) {
		t.Errorf("expected totalSmells 10, got %v", overview["totalSmells"])
	}
	if overview["publishedSmells"] != float64(8) {
		t.Errorf("expected publishedSmells 8, got %v", overview["publishedSmells"])
	}
	if overview["draftSmells"] != float64(2) {
		t.Errorf("expected draftSmells 2, got %v", overview["draftSmells"])
	}
	if overview["totalFavorites"] != float64(7) {
		t.Errorf("expected totalFavorites 7, got %v", overview["totalFavorites"])
	}
}

func TestSmellAnalyticsRejectsBadRange(t *testing.T) {
	fs := storeWithRole(&fakeStore{}, "ADMIN")
	server := NewHTTPServer(newTestService(fs), "*")

	req := authedRequest(t, http.MethodGet, "/api/admin/analytics/smells?timeRange=6h", nil, "ADMIN")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAdminRoleChangeRequiresAdmin(t *testing.T) {
	fs := storeWithRole(&fakeStore{}, "MODERATOR")
	server := NewHTTPServer(newTestService(fs), "*")

	body := bytes.NewBufferString(`{"role":"MODERATOR"}`)
	req := authedRequest(t, http.MethodPatch, "/api/admin/users/user-2", body, "MODERATOR")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for moderator role change, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAdminUserDeleteRequiresAdmin(t *testing.T) {
	var deleted string
	fs := storeWithRole(&fakeStore{
		deleteUserFn: func(_ context.Context, userID string) (bool, error) {
			deleted = userID
			return true, nil
		},
	}, "MODERATOR")
	server := NewHTTPServer(newTestService(fs), "*")

	req := authedRequest(t, http.MethodDelete, "/api/admin/users/user-2", nil, "MODERATOR")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for moderator delete, got %d body=%s", rr.Code, rr.Body.String())
	}
	if deleted != "" {
		t.Errorf("expected no delete call, got %q", deleted)
	}
}

func TestAdminUserDeleteAsAdmin(t *testing.T) {
	var deleted string
	fs := storeWithRole(&fakeStore{
		deleteUserFn: func(_ context.Context, userID string) (bool, error) {
			deleted = userID
			return true, nil
		},
	}, "ADMIN")
	server := NewHTTPServer(newTestService(fs), "*")

	req := authedRequest(t, http.MethodDelete, "/api/admin/users/user-2", nil, "ADMIN")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if deleted != "user-2" {
		t.Errorf("expected user-2 deleted, got %q", deleted)
	}
}

func TestAdminSelfDeleteRejected(t *testing.T) {
	fs := storeWithRole(&fakeStore{}, "ADMIN")
	server := NewHTTPServer(newTestService(fs), "*")

	// Session user is user-1; deleting yourself goes through delete-account.
	req := authedRequest(t, http.MethodDelete, "/api/admin/users/user-1", nil, "ADMIN")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for self delete, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAdminSettingsDefaultsAndUpdate(t *testing.T) {
	var saved map[string]string
	stored := map[string]string{}
	fs := storeWithRole(&fakeStore{
		getSettingsFn: func(_ context.Context, prefix string) (map[string]string, error) {
			return stored, nil
		},
		putSettingsFn: func(_ context.Context, values map[string]string) error {
			saved = values
			return nil
		},
	}, "ADMIN")
	server := NewHTTPServer(newTestService(fs), "*")

	req := authedRequest(t, http.MethodGet, "/api/admin/settings/general", nil, "ADMIN")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	settings, ok := payload["settings"].(map[string]any)
	if !ok {
		t.Fatalf("expected settings object, got %v", payload["settings"])
	}
	if settings["siteName"] != "Refactory" {
		t.Errorf("expected default siteName Refactory, got %v", settings["siteName"])
	}

	update := authedRequest(t, http.MethodPut, "/api/admin/settings/general", bytes.NewBufferString(`{"maintenanceMode":true}`), "ADMIN")
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, update)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if saved["general.maintenanceMode"] != "true" {
		t.Errorf("expected maintenanceMode persisted, got %v", saved)
	}
	// Partial update keeps the untouched defaults.
	if saved["general.siteName"] != `"Refactory"` {
		t.Errorf("expected siteName preserved, got %v", saved)
	}
}

func TestAdminSettingsWriteForbiddenForModerator(t *testing.T) {
	fs := storeWithRole(&fakeStore{}, "MODERATOR")
	server := NewHTTPServer(newTestService(fs), "*")

	req := authedRequest(t, http.MethodPut, "/api/admin/settings/general", bytes.NewBufferString(`{"maintenanceMode":true}`), "MODERATOR")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAdminUnknownSettingsSection(t *testing.T) {
	fs := storeWithRole(&fakeStore{}, "ADMIN")
	server := NewHTTPServer(newTestService(fs), "*")

	req := authedRequest(t, http.MethodGet, "/api/admin/settings/payments", nil, "ADMIN")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown section, got %d body=%s", rr.Code, rr.Body.String())
	}
}
