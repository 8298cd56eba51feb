package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/ndewijer/portfolio-snapshot/internal/api/response"
)

// TimeTokenTTL is how long a generated time token is accepted.
const TimeTokenTTL = 5 * time.Minute

const timeTokenMessage = "portfolio-snapshot"

// APIKey returns middleware that guards mutating endpoints. Callers send the
// shared key in X-API-Key and a short-lived token from GenerateTimeToken in
// X-Time-Token, so a captured request cannot be replayed indefinitely.
// An empty apiKey rejects every request with 500.
func APIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				response.RespondError(w, http.StatusInternalServerError, "unauthorized", "Authentication not loaded")
				return
			}

			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				response.RespondError(w, http.StatusUnauthorized, "unauthorized", "Missing API key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				response.RespondError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
				return
			}

			token := r.Header.Get("X-Time-Token")
			if token == "" {
				response.RespondError(w, http.StatusUnauthorized, "unauthorized", "Missing Time token")
				return
			}
			msg := fernet.VerifyAndDecrypt([]byte(token), TimeTokenTTL, []*fernet.Key{timeTokenKey(apiKey)})
			if string(msg) != timeTokenMessage {
				response.RespondError(w, http.StatusUnauthorized, "unauthorized", "Time token is invalid or expired")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GenerateTimeToken returns a token accepted by APIKey for TimeTokenTTL.
func GenerateTimeToken(apiKey string) string {
	tok, err := fernet.EncryptAndSign([]byte(timeTokenMessage), timeTokenKey(apiKey))
	if err != nil {
		return ""
	}
	return string(tok)
}

// timeTokenKey derives the fernet key from the shared API key.
func timeTokenKey(apiKey string) *fernet.Key {
	k := fernet.Key(sha256.Sum256([]byte(apiKey)))
	return &k
}
