package api

// CreateAuthURIRequest is the JSON body for POST /account/createAuthUri.
type CreateAuthURIRequest struct {
	ContinueURI string `json:"continue_uri"`
}

// CreateAuthURIResponse is returned from POST /account/createAuthUri.
type CreateAuthURIResponse struct {
	AuthURI   string `json:"auth_uri"`
	SessionID string `json:"session_id"`
}

// ExchangeCodeRequest is the JSON body for POST /account/code2jwt.
type ExchangeCodeRequest struct {
	Code      string `json:"code"`
	SessionID string `json:"session_id"`
}

// RefreshRequest is the JSON body for POST /account/refresh. Token is
// the previous access token; it may be expired but must verify.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Token        string `json:"token"`
}

// TokenResponse is returned from POST /account/code2jwt and /account/refresh.
type TokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	Expiration   string `json:"expiration"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
