// ABOUTME: Request credential extraction for the live session endpoint
// ABOUTME: Accepts a Bearer header or an access_token query parameter

package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// Authenticate extracts and verifies the request's credential. Browser
// WebSocket clients cannot set headers, so a token in the access_token
// query parameter is accepted as a fallback.
func Authenticate(r *http.Request, verifier TokenVerifier) (*TenantContext, error) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		token = strings.TrimPrefix(h, bearerPrefix)
	}
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		return nil, ErrInvalidToken
	}
	return verifier.Verify(token)
}
