package http

import (
	"net/http"

	"intralink/internal/dto"
	"intralink/internal/netutil"
	"intralink/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *handler) deviceContext(r *http.Request) service.DeviceContext {
	return service.DeviceContext{
		IP:             netutil.ClientIP(r, h.opts.TrustProxy),
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
	}
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
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

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dc := h.deviceContext(r)
	dc.Client = req.Device
	resp, err := h.Auth.Login(r.Context(), req, dc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if resp.RefreshToken != "" && resp.SessionExpiresAt != nil {
		h.setRefreshCookie(w, resp.RefreshToken, *resp.SessionExpiresAt)
	}
	h.setDeviceCookie(w, resp.DeviceID)
	writeJSON(w, http.StatusOK, resp)
}

// refresh reads both artifacts from cookies only. Any failure clears them so
// the client falls back to a full login.
func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	token := cookieValue(r, refreshCookie)
	deviceID := cookieValue(r, deviceCookie)
	resp, err := h.Auth.Refresh(r.Context(), token, deviceID, h.deviceContext(r))
	if err != nil {
		if status, _ := classifyStatus(err); status == http.StatusUnauthorized || status == http.StatusForbidden {
			h.clearAuthCookies(w)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	err := h.Auth.Logout(r.Context(), claims, cookieValue(r, deviceCookie), h.deviceContext(r))
	h.clearAuthCookies(w)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	n, err := h.Auth.LogoutAll(r.Context(), claims, h.deviceContext(r))
	h.clearAuthCookies(w)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subject(w, r)
	if !ok {
		return
	}
	user, err := h.Auth.Me(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subject(w, r)
	if !ok {
		return
	}
	sessions, err := h.Auth.ListSessions(r.Context(), userID, cookieValue(r, deviceCookie), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subject(w, r)
	if !ok {
		return
	}
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	revoked, err := h.Auth.RevokeSession(r.Context(), userID, sessionID, h.deviceContext(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !revoked {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "session not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) jwks(w http.ResponseWriter, r *http.Request) {
	if h.Signer == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no public keys"})
		return
	}
	jwk, ok := h.Signer.PublicJWK()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no public keys"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": []map[string]any{jwk}})
}

func (h *handler) subject(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
		return uuid.Nil, false
	}
	id, err := claims.UserID()
	if err != nil {
		writeError(w, r, err)
		return uuid.Nil, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
