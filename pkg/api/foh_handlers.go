package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/fitstack/fitstack/pkg/audit"
	"github.com/fitstack/fitstack/pkg/auth"
	"github.com/fitstack/fitstack/pkg/contextkeys"
	"github.com/fitstack/fitstack/pkg/httputil"
	"github.com/fitstack/fitstack/pkg/observability"
	"github.com/fitstack/fitstack/pkg/rbac"
	"github.com/fitstack/fitstack/pkg/tenant"
)

// FOHHandlers implements front-of-house operations: desk check-in and
// signature-link waiver signing.
type FOHHandlers struct {
	s *Server
}

// NewFOHHandlers creates FOH handlers backed by the server's stores
func NewFOHHandlers(s *Server) *FOHHandlers {
	return &FOHHandlers{s: s}
}

// RegisterRoutes mounts the FOH API under the given router. The FOH access
// gate runs before any of these.
func (h *FOHHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/members/lookup", h.lookupMember).Methods("GET")
	r.HandleFunc("/checkin", h.checkIn).Methods("POST")
	r.HandleFunc("/waivers/links", h.issueWaiverLink).Methods("POST")
	r.HandleFunc("/waivers/sign", h.viewWaiver).Methods("GET")
	r.HandleFunc("/waivers/sign", h.signWaiver).Methods("POST")
}

// requireTask checks the FOH task for the current identity
func (h *FOHHandlers) requireTask(w http.ResponseWriter, r *http.Request, taskCode string) (*auth.Context, bool) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok || authCtx.OrgUser == nil {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	allowed, err := h.s.rbacSvc.HasTask(r.Context(), authCtx.Scope(), authCtx.OrgUser.ID, rbac.ModuleFOH, taskCode)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("task check failed")
		httputil.WriteInternalError(w, err)
		return nil, false
	}
	if !allowed {
		httputil.WriteForbiddenError(w, "missing permission: "+taskCode)
		return nil, false
	}
	return authCtx, true
}

func (h *FOHHandlers) lookupMember(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := h.requireTask(w, r, "checkin.desk")
	if !ok {
		return
	}

	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		httputil.WriteValidationError(w, "email is required")
		return
	}

	member, err := h.s.memberDB.GetByEmail(r.Context(), authCtx.Scope(), email)
	if err != nil {
		httputil.WriteNotFoundError(w, "member not found")
		return
	}
	httputil.WriteSuccess(w, member)
}

func (h *FOHHandlers) checkIn(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := h.requireTask(w, r, "checkin.desk")
	if !ok {
		return
	}

	var req struct {
		MemberID int64 `json:"member_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	member, err := h.s.memberDB.Get(ctx, authCtx.Scope(), req.MemberID)
	if err != nil {
		httputil.WriteNotFoundError(w, "member not found")
		return
	}
	if member.Status != tenant.StatusActive {
		httputil.WriteConflictError(w, "member is not active")
		return
	}

	h.s.auditLog.Log(ctx, &audit.Event{
		EventType:      audit.EventTypeMemberCheckIn,
		Status:         audit.EventStatusSuccess,
		OrgID:          &member.OrgID,
		ActorOrgUserID: &authCtx.OrgUser.ID,
		TargetType:     "member",
		TargetID:       &member.ID,
		RequestID:      contextkeys.GetRequestID(ctx),
	})
	httputil.WriteSuccess(w, map[string]interface{}{"member": member, "checked_in": true})
}

// issueWaiverLink creates a time-limited signed URL a member can open
// without logging in.
func (h *FOHHandlers) issueWaiverLink(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := h.requireTask(w, r, "checkin.desk")
	if !ok {
		return
	}

	var req struct {
		MemberID int64  `json:"member_id"`
		Document string `json:"document"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Document == "" {
		httputil.WriteValidationError(w, "document is required")
		return
	}

	member, err := h.s.memberDB.Get(r.Context(), authCtx.Scope(), req.MemberID)
	if err != nil {
		httputil.WriteNotFoundError(w, "member not found")
		return
	}

	token, err := h.s.signatures.Issue(member.OrgID, member.ID, req.Document)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"url": "/foh/waivers/sign?sig=" + token,
	})
}

// viewWaiver answers a signature-link request. The gate has already
// verified the token; decoding it again here yields the claims.
func (h *FOHHandlers) viewWaiver(w http.ResponseWriter, r *http.Request) {
	claims, err := h.s.signatures.Verify(r.URL.Query().Get("sig"))
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "invalid or expired link")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"org_id":    claims.OrgID,
		"member_id": claims.MemberID,
		"document":  claims.Document,
	})
}

func (h *FOHHandlers) signWaiver(w http.ResponseWriter, r *http.Request) {
	claims, err := h.s.signatures.Verify(r.URL.Query().Get("sig"))
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "invalid or expired link")
		return
	}

	ctx := r.Context()
	h.s.auditLog.Log(ctx, &audit.Event{
		EventType:  audit.EventTypeWaiverSigned,
		Status:     audit.EventStatusSuccess,
		OrgID:      &claims.OrgID,
		TargetType: "member",
		TargetID:   &claims.MemberID,
		RequestID:  contextkeys.GetRequestID(ctx),
		Metadata:   map[string]interface{}{"document": claims.Document},
	})
	httputil.WriteSuccess(w, map[string]interface{}{"signed": true})
}
