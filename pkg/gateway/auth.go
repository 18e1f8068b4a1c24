package gateway

import (
	"crypto/subtle"
	"net/http"
)

// SecretHeader carries the shared secret on every HTTP and WebSocket request
const SecretHeader = "X-Parley-Secret"

// AuthHandler checks the shared secret presented by callers
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates an authentication handler. An empty secret
// disables authentication.
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

func (a *AuthHandler) Enabled() bool {
	return a.sharedSecret != ""
}

// Verify compares presented with the shared secret in constant time
func (a *AuthHandler) Verify(presented string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(presented)) == 1
}

// Authorize checks the secret header of r
func (a *AuthHandler) Authorize(r *http.Request) bool {
	return a.Verify(r.Header.Get(SecretHeader))
}
