package auth

import (
	"net/http"
	"strings"
)

// Resolver finds the caller of an HTTP request. The session cookie wins; a
// bearer header or a token query parameter are fallbacks for clients that
// cannot send cookies, such as a browser websocket opened cross-origin.
type Resolver struct {
	verifier   Verifier
	cookieName string
}

func NewResolver(v Verifier, cookieName string) *Resolver {
	return &Resolver{verifier: v, cookieName: cookieName}
}

// Session returns the user id carried by the session cookie.
func (res *Resolver) Session(r *http.Request) (string, error) {
	cookie, err := r.Cookie(res.cookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrNoCredential
	}
	return res.verifier.Verify(cookie.Value)
}

// Resolve returns the verified user id of r. When every presented credential
// fails, the last failure is returned.
func (res *Resolver) Resolve(r *http.Request) (string, error) {
	userID, err := res.Session(r)
	if err == nil {
		return userID, nil
	}
	last := err

	for _, token := range []string{bearer(r), r.URL.Query().Get("token")} {
		if token == "" {
			continue
		}
		userID, err := res.verifier.Verify(token)
		if err == nil {
			return userID, nil
		}
		last = err
	}
	return "", last
}

func bearer(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
