package http

import (
	"net/http"
	"time"
)

const (
	refreshCookie = "refresh_token"
	deviceCookie  = "device_id"
	deviceMaxAge  = 365 * 24 * time.Hour
)

// setRefreshCookie stores the refresh token where scripts cannot read it,
// scoped to the auth routes.
func (h *handler) setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    token,
		Path:     h.opts.CookiePath,
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// The device id is not a secret and the client may read it.
func (h *handler) setDeviceCookie(w http.ResponseWriter, deviceID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookie,
		Value:    deviceID,
		Path:     "/",
		MaxAge:   int(deviceMaxAge.Seconds()),
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *handler) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Path:     h.opts.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookie,
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
