package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/drivewatch/pkg/audit"
	"github.com/platinummonkey/drivewatch/pkg/contextkeys"
)

// stubSearcher returns fixed events and remembers the last filter
type stubSearcher struct {
	events []*audit.AuditEvent
	err    error
	last   audit.SearchFilter
}

func (s *stubSearcher) Search(_ context.Context, filter audit.SearchFilter) ([]*audit.AuditEvent, error) {
	s.last = filter
	return s.events, s.err
}

func newTestRouter(t *testing.T, searcher audit.Searcher, admins ...string) (*mux.Router, accessFixture) {
	t.Helper()
	f := newAccessFixture(t, admins...)
	router := mux.NewRouter()
	NewHandlers(f.access, searcher).RegisterRoutes(router)
	return router, f
}

func doRequest(h http.Handler, method, path, actor string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != "" {
		req = req.WithContext(contextkeys.WithActorEmail(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHandlers_RequireActor(t *testing.T) {
	router, _ := newTestRouter(t, &stubSearcher{})

	routes := []struct{ method, path string }{
		{"POST", "/api/v1/authorize"},
		{"GET", "/api/v1/me/resources"},
		{"GET", "/api/v1/me/role"},
		{"POST", "/api/v1/roles/assign"},
		{"POST", "/api/v1/roles/validate"},
		{"GET", "/api/v1/roles/guest/users"},
		{"GET", "/api/v1/users"},
		{"GET", "/api/v1/users/a@co.com/manage"},
		{"GET", "/api/v1/system/summary"},
		{"GET", "/api/v1/audit/export"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := doRequest(router, rt.method, rt.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Authentication required", decodeError(t, rec))
		})
	}
}

func TestHandlers_Authorize(t *testing.T) {
	router, f := newTestRouter(t, nil)

	t.Run("resource", func(t *testing.T) {
		rec := doRequest(router, "POST", "/api/v1/authorize", "g@co.com", authorizeRequest{Resource: "dashboard.view"})
		require.Equal(t, http.StatusOK, rec.Code)

		var d Decision
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		assert.True(t, d.Authorized)
		assert.Equal(t, "g@co.com", d.Context.UserEmail)
	})

	t.Run("action", func(t *testing.T) {
		rec := doRequest(router, "POST", "/api/v1/authorize", "b@co.com", authorizeRequest{Resource: "users", Action: "delete"})
		require.Equal(t, http.StatusOK, rec.Code)

		var d Decision
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		assert.False(t, d.Authorized)
		assert.Equal(t, "users.delete", d.Resource)
		assert.Equal(t, "Missing required permission: users.delete", d.Reason)
	})

	t.Run("bad body", func(t *testing.T) {
		rec := doRequest(router, "POST", "/api/v1/authorize", "g@co.com", "{")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing resource", func(t *testing.T) {
		rec := doRequest(router, "POST", "/api/v1/authorize", "g@co.com", authorizeRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "resource is required", decodeError(t, rec))
	})

	t.Run("store failure", func(t *testing.T) {
		f.store.getErr = errors.New("down")
		defer func() { f.store.getErr = nil }()

		rec := doRequest(router, "POST", "/api/v1/authorize", "g@co.com", authorizeRequest{Resource: "dashboard.view"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandlers_Me(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doRequest(router, "GET", "/api/v1/me/resources", "g@co.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resources []ResourceDef
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resources))
	assert.Len(t, resources, 2)

	rec = doRequest(router, "GET", "/api/v1/me/role", "a@co.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info UserRoleInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.NotNil(t, info.Role)
	assert.Equal(t, RoleAdmin, info.Role.ID)

	rec = doRequest(router, "GET", "/api/v1/me/role", "ghost@co.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ReasonUserNotFound, decodeError(t, rec))
}

func TestHandlers_Roles(t *testing.T) {
	router, f := newTestRouter(t, nil)

	t.Run("hierarchy needs no actor", func(t *testing.T) {
		rec := doRequest(router, "GET", "/api/v1/roles/hierarchy", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var roles []Role
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roles))
		require.Len(t, roles, 4)
		assert.Equal(t, RoleOwner, roles[0].ID)
	})

	t.Run("assign", func(t *testing.T) {
		rec := doRequest(router, "POST", "/api/v1/roles/assign", "a@co.com",
			roleChangeRequest{TargetEmail: "g@co.com", Role: RoleUser, Reason: "promotion"})
		require.Equal(t, http.StatusOK, rec.Code)

		var got RoleAssignment
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, RoleGuest, got.PreviousRole)
		assert.Equal(t, RoleUser, got.NewRole)
		assert.Len(t, f.audit.assignments, 1)
	})

	t.Run("assign owner as admin", func(t *testing.T) {
		rec := doRequest(router, "POST", "/api/v1/roles/assign", "a@co.com",
			roleChangeRequest{TargetEmail: "b@co.com", Role: RoleOwner})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, ReasonOwnerOnly, decodeError(t, rec))
	})

	t.Run("assign missing role", func(t *testing.T) {
		rec := doRequest(router, "POST", "/api/v1/roles/assign", "a@co.com",
			roleChangeRequest{TargetEmail: "b@co.com"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validate", func(t *testing.T) {
		rec := doRequest(router, "POST", "/api/v1/roles/validate", "a@co.com",
			roleChangeRequest{TargetEmail: "b@co.com", Role: RoleOwner})
		require.Equal(t, http.StatusOK, rec.Code)

		var v RoleAssignmentValidation
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
		assert.False(t, v.Valid)
		assert.Equal(t, ReasonOwnerOnly, v.Reason)
	})

	t.Run("validate requires fields", func(t *testing.T) {
		rec := doRequest(router, "POST", "/api/v1/roles/validate", "a@co.com", roleChangeRequest{Role: RoleUser})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("users by role", func(t *testing.T) {
		rec := doRequest(router, "GET", "/api/v1/roles/admin/users", "a@co.com", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var list []UserWithRole
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		assert.Len(t, list, 2)

		rec = doRequest(router, "GET", "/api/v1/roles/admin/users", "b@co.com", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestHandlers_Users(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doRequest(router, "GET", "/api/v1/users", "owner@co.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []UserWithRole
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 6)

	rec = doRequest(router, "GET", "/api/v1/users", "g@co.com", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied: Missing required permission: users.view", decodeError(t, rec))

	rec = doRequest(router, "GET", "/api/v1/users/owner@co.com/manage", "a@co.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var d ManageDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.False(t, d.CanManage)
	assert.Equal(t, ReasonCannotManageLevel, d.Reason)
}

func TestHandlers_SystemSummary(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doRequest(router, "GET", "/api/v1/system/summary", "owner@co.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var s SystemAccessSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, 6, s.TotalUsers)

	rec = doRequest(router, "GET", "/api/v1/system/summary", "a@co.com", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlers_ExportAudit(t *testing.T) {
	ev := audit.NewEvent(audit.EventTypeRoleAssignment, audit.EventStatusSuccess, "owner@co.com")
	ev.TargetEmail = "b@co.com"
	ev.NewRole = RoleAdmin

	t.Run("json", func(t *testing.T) {
		searcher := &stubSearcher{events: []*audit.AuditEvent{ev}}
		router, _ := newTestRouter(t, searcher)

		rec := doRequest(router, "GET", "/api/v1/audit/export", "owner@co.com", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, "attachment; filename=audit.json", rec.Header().Get("Content-Disposition"))

		var got []audit.AuditEvent
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, ev.ID, got[0].ID)
		assert.Equal(t, 1000, searcher.last.Limit)
	})

	t.Run("csv with filters", func(t *testing.T) {
		searcher := &stubSearcher{events: []*audit.AuditEvent{ev}}
		router, _ := newTestRouter(t, searcher)

		since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		path := "/api/v1/audit/export?format=csv&since=2026-01-01T00:00:00Z&actor=owner@co.com" +
			"&event_type=role.assignment&event_type=authorization.attempt&limit=50000&offset=10"
		rec := doRequest(router, "GET", path, "owner@co.com", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		assert.Len(t, lines, 2)

		require.NotNil(t, searcher.last.StartTime)
		assert.True(t, since.Equal(*searcher.last.StartTime))
		assert.Equal(t, "owner@co.com", searcher.last.ActorEmail)
		assert.Equal(t, []audit.EventType{audit.EventTypeRoleAssignment, audit.EventTypeAuthorizationAttempt}, searcher.last.EventTypes)
		assert.Equal(t, maxExportLimit, searcher.last.Limit)
		assert.Equal(t, 10, searcher.last.Offset)
	})

	t.Run("bad parameters", func(t *testing.T) {
		router, _ := newTestRouter(t, &stubSearcher{})

		for _, q := range []string{"format=xml", "since=yesterday", "until=1", "limit=0", "limit=abc", "offset=-1"} {
			rec := doRequest(router, "GET", "/api/v1/audit/export?"+q, "owner@co.com", nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})

	t.Run("admin is denied and audited", func(t *testing.T) {
		router, f := newTestRouter(t, &stubSearcher{})

		rec := doRequest(router, "GET", "/api/v1/audit/export", "a@co.com", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Access denied: Missing required permission: audit.export", decodeError(t, rec))
		require.Len(t, f.audit.attempts, 1)
		assert.Equal(t, ResourceAuditExport, f.audit.attempts[0].Resource)
	})

	t.Run("not configured", func(t *testing.T) {
		router, _ := newTestRouter(t, nil)
		rec := doRequest(router, "GET", "/api/v1/audit/export", "owner@co.com", nil)
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})

	t.Run("search failure", func(t *testing.T) {
		router, _ := newTestRouter(t, &stubSearcher{err: errors.New("disk gone")})
		rec := doRequest(router, "GET", "/api/v1/audit/export", "owner@co.com", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(notFound("op", "x", nil)))
	assert.Equal(t, http.StatusForbidden, StatusFor(unauthorized("op", "x")))
	assert.Equal(t, http.StatusBadRequest, StatusFor(invalid("op", "x", nil)))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(storeFailure("op", errors.New("x"))))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}

func TestRouteName(t *testing.T) {
	var got string
	router := mux.NewRouter()
	capture := func(w http.ResponseWriter, r *http.Request) { got = RouteName(r) }
	router.HandleFunc("/named", capture).Name("named_route")
	router.HandleFunc("/items/{id}", capture)

	doRequest(router, "GET", "/named", "", nil)
	assert.Equal(t, "named_route", got)

	doRequest(router, "GET", "/items/42", "", nil)
	assert.Equal(t, "/items/{id}", got)

	req := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "unmatched", RouteName(req))
}

func TestRequireResource(t *testing.T) {
	f := newAccessFixture(t)
	h := RequireResource(f.access, "config.view")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	assert.Equal(t, http.StatusUnauthorized, doRequest(h, "GET", "/", "", nil).Code)
	assert.Equal(t, http.StatusNoContent, doRequest(h, "GET", "/", "a@co.com", nil).Code)

	rec := doRequest(h, "GET", "/", "b@co.com", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Missing required permission: config.view", decodeError(t, rec))

	f.store.getErr = errors.New("down")
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(h, "GET", "/", "a@co.com", nil).Code)

	assert.Len(t, f.audit.attempts, 3)
}

func TestEnsureRegistered(t *testing.T) {
	f := newAccessFixture(t)
	calls := 0
	h := EnsureRegistered(f.access, []string{" Co.com ", ""})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	ctx := context.Background()

	doRequest(h, "GET", "/", "", nil)
	doRequest(h, "GET", "/", "New@Co.com", nil)
	doRequest(h, "GET", "/", "eve@elsewhere.com", nil)
	doRequest(h, "GET", "/", "b@co.com", nil)
	assert.Equal(t, 4, calls)

	u, err := f.store.GetUserByEmail(ctx, "new@co.com")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, u.Role)
	assert.True(t, u.IsActive())

	u, err = f.store.GetUserByEmail(ctx, "eve@elsewhere.com")
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, u.Role)
	assert.False(t, u.IsActive())

	u, err = f.store.GetUserByEmail(ctx, "b@co.com")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, u.Role, "existing users are left alone")

	t.Run("registration failure does not block", func(t *testing.T) {
		f.store.getErr = errors.New("down")
		defer func() { f.store.getErr = nil }()
		doRequest(h, "GET", "/", "x@co.com", nil)
		assert.Equal(t, 5, calls)
	})
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "co.com", emailDomain("a@Co.com"))
	assert.Equal(t, "", emailDomain("nodomain"))
}
