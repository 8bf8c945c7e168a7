package httpauth

import (
	"net/http"
	"time"
)

func (h *Handler) setRefreshCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(h.now()).Seconds())
	if maxAge <= 0 {
		h.clearRefreshCookie(w, r)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure(r),
		SameSite: h.cookie.SameSiteMode(),
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure(r),
		SameSite: h.cookie.SameSiteMode(),
	})
}

func (h *Handler) secure(r *http.Request) bool {
	return h.cookie.Secure || r.TLS != nil
}

func (h *Handler) refreshCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(h.cookie.Name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
