package api

import (
	"net/http"

	"github.com/b-editor/beutl-auth/token"
)

// IdentityProvider resolves the authenticated browser user during the
// hand-off leg. The surrounding web site owns sign-in; this service only
// needs "who is this request, if anyone".
type IdentityProvider interface {
	Identify(r *http.Request) (userID string, ok bool)
}

// IdentityFunc adapts a function to the IdentityProvider interface.
type IdentityFunc func(r *http.Request) (string, bool)

// Identify calls f.
func (f IdentityFunc) Identify(r *http.Request) (string, bool) {
	return f(r)
}

// DefaultSessionCookie is the cookie the Beutl web frontend stores its
// session token in.
const DefaultSessionCookie = "beutl_session"

// CookieIdentity resolves the web session cookie as a signed token. The
// frontend and this service share the signing secret, so a valid cookie
// proves the browser completed the site's sign-in flow.
type CookieIdentity struct {
	cookieName string
	signer     *token.Signer
}

var _ IdentityProvider = (*CookieIdentity)(nil)

// NewCookieIdentity returns a CookieIdentity reading cookieName and
// validating its value with signer. An empty cookieName uses
// DefaultSessionCookie.
func NewCookieIdentity(cookieName string, signer *token.Signer) *CookieIdentity {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return &CookieIdentity{cookieName: cookieName, signer: signer}
}

// Identify returns the subject of the session cookie's token, if the
// cookie is present and fully valid (an expired session does not count).
func (c *CookieIdentity) Identify(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	userID, err := c.signer.Validate(cookie.Value)
	if err != nil {
		return "", false
	}
	return userID, true
}
