package http

import (
	"net/http"
	"strings"
	"time"

	"intralink/internal/domain"
	"intralink/internal/dto"

	"github.com/google/uuid"
)

const maxAnnouncementLength = 2000

type announceRequest struct {
	Message      string `json:"message"`
	DepartmentID string `json:"departmentId,omitempty"`
}

func (h *handler) onlineUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Presence.OnlineSummary())
}

// announce pushes a message to one department room, or to every live
// connection when no department is given.
func (h *handler) announce(w http.ResponseWriter, r *http.Request) {
	from, ok := h.subject(w, r)
	if !ok {
		return
	}
	var req announceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" || len(req.Message) > maxAnnouncementLength {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "message must be 1-2000 bytes"})
		return
	}
	ev := domain.Announcement{From: from, Message: req.Message, SentAt: time.Now().UTC()}

	var delivered int
	if req.DepartmentID != "" {
		dept, err := uuid.Parse(req.DepartmentID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid department id"})
			return
		}
		ev.Dept = &dept
		delivered = h.Presence.EmitToDepartment(dept, domain.Event{Type: domain.EventAnnouncement, Data: ev})
	} else {
		delivered = h.Presence.Broadcast(domain.Event{Type: domain.EventAnnouncement, Data: ev}, "")
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"delivered": delivered})
}

func (h *handler) adminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := claimsFrom(r.Context())
	user, err := h.Auth.Register(r.Context(), req, actor, h.deviceContext(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *handler) adminListSessions(w http.ResponseWriter, r *http.Request) {
	target, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	sensitive := r.URL.Query().Get("include_sensitive") == "true"
	sessions, err := h.Auth.ListSessions(r.Context(), target, "", sensitive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *handler) adminLogoutAll(w http.ResponseWriter, r *http.Request) {
	target, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	actor, _ := claimsFrom(r.Context())
	n, err := h.Auth.AdminLogoutAll(r.Context(), actor, target, h.deviceContext(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (h *handler) sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.Auth.SweepExpired(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"expired": n})
}
