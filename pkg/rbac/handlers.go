package rbac

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/drivewatch/pkg/audit"
	"github.com/platinummonkey/drivewatch/pkg/contextkeys"
	"github.com/platinummonkey/drivewatch/pkg/observability"
)

const maxExportLimit = 10000

// Handlers exposes AccessControl over a JSON HTTP API
type Handlers struct {
	access   *AccessControl
	auditLog audit.Searcher
}

// NewHandlers creates handlers. auditLog may be nil, in which case the
// export route answers 501.
func NewHandlers(access *AccessControl, auditLog audit.Searcher) *Handlers {
	return &Handlers{access: access, auditLog: auditLog}
}

// RegisterRoutes registers the API under /api/v1 on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	// Authorization
	api.HandleFunc("/authorize", h.Authorize).Methods("POST").Name("authorize")
	api.HandleFunc("/me/resources", h.MyResources).Methods("GET").Name("me_resources")
	api.HandleFunc("/me/role", h.MyRole).Methods("GET").Name("me_role")

	// Roles
	api.HandleFunc("/roles/hierarchy", h.RoleHierarchy).Methods("GET").Name("roles_hierarchy")
	api.HandleFunc("/roles/assign", h.AssignRole).Methods("POST").Name("roles_assign")
	api.HandleFunc("/roles/validate", h.ValidateRoleChange).Methods("POST").Name("roles_validate")
	api.HandleFunc("/roles/{role}/users", h.UsersByRole).Methods("GET").Name("roles_users")

	// Users
	api.HandleFunc("/users", h.ListUsers).Methods("GET").Name("users_list")
	api.HandleFunc("/users/{email}/manage", h.CanManageUser).Methods("GET").Name("users_manage")

	// Administration
	api.HandleFunc("/system/summary", h.SystemSummary).Methods("GET").Name("system_summary")
	api.HandleFunc("/audit/export", h.ExportAudit).Methods("GET").Name("audit_export")
}

// RouteName labels requests by their mux route name, falling back to the path template
func RouteName(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return "unmatched"
	}
	if name := route.GetName(); name != "" {
		return name
	}
	if tpl, err := route.GetPathTemplate(); err == nil {
		return tpl
	}
	return "unmatched"
}

type authorizeRequest struct {
	Resource    string `json:"resource"`
	Action      string `json:"action,omitempty"`
	TargetEmail string `json:"target_email,omitempty"`
}

// Authorize answers whether the caller may access a resource. With action
// set, resource is the domain and the key is "<resource>.<action>".
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Resource == "" {
		respondError(w, http.StatusBadRequest, "resource is required")
		return
	}

	ac := AccessContext{TargetEmail: req.TargetEmail}
	var (
		decision Decision
		err      error
	)
	if req.Action != "" {
		decision, err = h.access.CanPerformAction(r.Context(), actor, req.Action, req.Resource, ac)
	} else {
		decision, err = h.access.Authorize(r.Context(), actor, req.Resource, ac)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

// MyResources lists the resources the caller's role can reach
func (h *Handlers) MyResources(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	resources, err := h.access.GetUserAccessibleResources(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resources)
}

// MyRole returns the caller's role, permissions and resources
func (h *Handlers) MyRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	info, err := h.access.GetUserRoleInfo(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// RoleHierarchy lists every role, highest level first
func (h *Handlers) RoleHierarchy(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.access.GetRoleHierarchy())
}

// ListUsers lists users with role metadata
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	list, err := h.access.GetUsersWithRoles(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// UsersByRole lists users holding the role in the path
func (h *Handlers) UsersByRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	list, err := h.access.GetUsersByRole(r.Context(), mux.Vars(r)["role"], actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

type roleChangeRequest struct {
	TargetEmail string `json:"target_email"`
	Role        string `json:"role"`
	Reason      string `json:"reason,omitempty"`
}

// AssignRole changes the role of target_email on behalf of the caller
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req roleChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	assignment, err := h.access.AssignRole(r.Context(), actor, req.TargetEmail, req.Role, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, assignment)
}

// ValidateRoleChange reports whether AssignRole would succeed without changing anything
func (h *Handlers) ValidateRoleChange(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req roleChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TargetEmail == "" || req.Role == "" {
		respondError(w, http.StatusBadRequest, "target_email and role are required")
		return
	}

	v, err := h.access.ValidateRoleChange(r.Context(), actor, req.TargetEmail, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// CanManageUser reports whether the caller can manage the user in the path
func (h *Handlers) CanManageUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	target, err := url.PathUnescape(mux.Vars(r)["email"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid email")
		return
	}
	d, err := h.access.CanManageUser(r.Context(), actor, target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// SystemSummary returns user counts per role and status
func (h *Handlers) SystemSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	summary, err := h.access.GetSystemAccessSummary(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// ExportAudit streams audit events as json, ndjson or csv. Requires audit.export.
//
// Query parameters: format, since, until (RFC3339), actor, target, resource,
// event_type (repeatable), limit, offset.
func (h *Handlers) ExportAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	decision, err := h.access.Authorize(r.Context(), actor, ResourceAuditExport, AccessContext{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !decision.Authorized {
		respondError(w, http.StatusForbidden, "Access denied: "+decision.Reason)
		return
	}
	if h.auditLog == nil {
		respondError(w, http.StatusNotImplemented, "Audit export is not configured")
		return
	}

	q := r.URL.Query()
	format, err := audit.ParseExportFormat(q.Get("format"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := parseAuditFilter(q)
	if err != nil {
		respondError(w, http.StatusBadRequest, MessageOf(err))
		return
	}

	events, err := h.auditLog.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit search failed")
		respondError(w, http.StatusInternalServerError, "Failed to read audit log")
		return
	}
	data, err := audit.Export(events, format)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to export audit log")
		return
	}

	w.Header().Set("Content-Type", audit.ContentType(format))
	w.Header().Set("Content-Disposition", "attachment; filename=audit."+string(format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func parseAuditFilter(q url.Values) (audit.SearchFilter, error) {
	filter := audit.SearchFilter{
		ActorEmail:  q.Get("actor"),
		TargetEmail: q.Get("target"),
		Resource:    q.Get("resource"),
		Limit:       1000,
	}
	for _, et := range q["event_type"] {
		filter.EventTypes = append(filter.EventTypes, audit.EventType(et))
	}

	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, &Error{Kind: KindInvalid, Message: "since must be RFC3339", Err: err}
		}
		filter.StartTime = &t
	}
	if s := q.Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, &Error{Kind: KindInvalid, Message: "until must be RFC3339", Err: err}
		}
		filter.EndTime = &t
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return filter, &Error{Kind: KindInvalid, Message: "limit must be a positive integer"}
		}
		if n > maxExportLimit {
			n = maxExportLimit
		}
		filter.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return filter, &Error{Kind: KindInvalid, Message: "offset must be a non-negative integer"}
		}
		filter.Offset = n
	}
	return filter, nil
}

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := contextkeys.GetActorEmail(r.Context())
	if actor == "" {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return "", false
	}
	return actor, true
}

// StatusFor maps an error Kind to an HTTP status code
func StatusFor(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindInvalid:
		return http.StatusBadRequest
	case KindStoreFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
	}
	respondError(w, status, MessageOf(err))
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
