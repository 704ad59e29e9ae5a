package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/b-editor/beutl-auth/deviceauth"
)

// maxAuthBodySize bounds request bodies on the token endpoints. Envelopes
// and JWTs are small; anything bigger is garbage.
const maxAuthBodySize = 16 << 10

func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}

// CreateAuthURI handles POST /account/createAuthUri.
// The desktop client registers its loopback continue URI and receives the
// browser hand-off URL plus its private session identifier.
func (a *API) CreateAuthURI(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CreateAuthURIRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.ContinueURI == "" {
		writeError(w, http.StatusBadRequest, "continue_uri is required")
		return
	}

	sess, err := a.registry.CreateSession(r.Context(), req.ContinueURI)
	if err != nil {
		a.audit.logFailure(AuditAuthURIRejected, r, "continue uri rejected",
			slog.String("continue_uri", req.ContinueURI))
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditAuthURICreated, r, "", slog.String("auth_session", sess.ID))
	writeJSON(w, http.StatusOK, CreateAuthURIResponse{
		AuthURI:   a.authURI(sess.ID),
		SessionID: sess.SessionID,
	})
}

// Handoff handles GET /account/handler.
// The interactive leg: an authenticated browser binds the device-auth
// session to its user and is redirected back to the desktop client's
// loopback listener with a one-time code.
func (a *API) Handoff(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	if identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	userID, ok := a.identity.Identify(r)
	if !ok {
		a.audit.logFailure(AuditHandoffUnauthenticated, r, "no authenticated session")
		if a.signInURL == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		http.Redirect(w, r, a.signInRedirect(r), http.StatusFound)
		return
	}

	code, continueURI, err := a.registry.BindUserAndIssueCode(r.Context(), identifier, userID)
	if err != nil {
		a.audit.logFailure(AuditHandoffRejected, r, "unknown identifier",
			slog.String("identifier", identifier))
		mapError(w, err)
		return
	}

	target, err := appendCode(continueURI, code)
	if err != nil {
		a.audit.logFailure(AuditHandoffRejected, r, "stored continue uri unparseable",
			slog.String("identifier", identifier))
		writeError(w, http.StatusBadRequest, "invalid continue uri")
		return
	}

	// The critical security boundary of the whole flow: the code is
	// meaningless off-device, but only if the redirect target is
	// provably the user's own machine. Fail closed.
	if !deviceauth.IsLoopbackHost(target.Hostname()) {
		a.audit.logFailure(AuditHandoffRejected, r, "non-loopback redirect target",
			slog.String("identifier", identifier),
			slog.String("host", target.Hostname()))
		writeError(w, http.StatusBadRequest, "continue uri must resolve to a loopback host")
		return
	}

	a.audit.logEvent(AuditCodeIssued, r, userID, slog.String("identifier", identifier))
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// ExchangeCode handles POST /account/code2jwt.
func (a *API) ExchangeCode(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)
	if blocked, retryAfter := a.limiter.check(clientIP); blocked {
		a.audit.logFailure(AuditExchangeRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}

	req, ok := decodeJSON[ExchangeCodeRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Code == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "code and session_id are required")
		return
	}

	pair, err := a.exchanger.ExchangeCode(r.Context(), req.SessionID, req.Code)
	if err != nil {
		a.limiter.recordFailure(clientIP)
		// The external message is uniform; the log keeps the cause.
		a.audit.logFailure(AuditExchangeFailure, r, err.Error())
		writeError(w, http.StatusUnauthorized, uniformUnauthorized)
		return
	}

	a.limiter.recordSuccess(clientIP)
	a.audit.logEvent(AuditExchangeSuccess, r, "")
	writeJSON(w, http.StatusOK, tokenResponse(pair))
}

// Refresh handles POST /account/refresh.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)
	if blocked, retryAfter := a.limiter.check(clientIP); blocked {
		a.audit.logFailure(AuditExchangeRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}

	req, ok := decodeJSON[RefreshRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.RefreshToken == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "refresh_token and token are required")
		return
	}

	pair, err := a.exchanger.Refresh(r.Context(), req.RefreshToken, req.Token)
	if err != nil {
		a.limiter.recordFailure(clientIP)
		a.audit.logFailure(AuditRefreshFailure, r, err.Error())
		writeError(w, http.StatusUnauthorized, uniformUnauthorized)
		return
	}

	a.limiter.recordSuccess(clientIP)
	a.audit.logEvent(AuditRefreshSuccess, r, "")
	writeJSON(w, http.StatusOK, tokenResponse(pair))
}

func tokenResponse(pair *deviceauth.TokenPair) TokenResponse {
	return TokenResponse{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Expiration:   pair.Expiration.UTC().Format(time.RFC3339),
	}
}

func (a *API) authURI(id string) string {
	return strings.TrimSuffix(a.publicBaseURL, "/") +
		"/api/v1/account/handler?identifier=" + url.QueryEscape(id)
}

// signInRedirect builds the sign-in URL with a returnUrl pointing back at
// this handler, preserving the identifier.
func (a *API) signInRedirect(r *http.Request) string {
	returnURL := strings.TrimSuffix(a.publicBaseURL, "/") + r.URL.RequestURI()
	sep := "?"
	if strings.Contains(a.signInURL, "?") {
		sep = "&"
	}
	return a.signInURL + sep + "returnUrl=" + url.QueryEscape(returnURL)
}

func appendCode(continueURI, code string) (*url.URL, error) {
	u, err := url.Parse(continueURI)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u, nil
}

// extractClientIP returns the request's peer address for rate limiting.
// Proxy headers are deliberately not consulted: this service is expected
// to terminate connections directly, and honoring X-Forwarded-For from
// untrusted peers would let clients reset their own limits.
func extractClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
