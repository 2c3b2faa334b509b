package core

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const credentialsKey = "credentials"

// Credentials is what the bearer gate attaches to an authenticated request.
type Credentials struct {
	User   UserProfile
	Claims *TokenClaims
}

// RequireBearer rejects the request with 403 unless it carries a valid
// "Authorization: Bearer <token>" header naming an existing user. The user
// lookup runs in its own unit of work.
func RequireBearer(tokens *TokenService, users *UserService, uow UnitOfWork, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			forbid(c, "Invalid authorization code.")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			forbid(c, "Invalid authentication scheme.")
			return
		}
		claims, ok := tokens.Decode(strings.TrimSpace(parts[1]))
		if !ok {
			forbid(c, "Invalid token or expired token.")
			return
		}

		var user UserProfile
		err := uow.Do(c.Request.Context(), func(ctx context.Context, q Querier) error {
			var err error
			user, err = users.Profile(ctx, q, claims.UserID)
			return err
		})
		if IsKind(err, KindNotFound) {
			forbid(c, "Invalid token or expired token.")
			return
		}
		if err != nil {
			respondAppError(c, log, err)
			c.Abort()
			return
		}

		c.Set(credentialsKey, Credentials{User: user, Claims: claims})
		c.Next()
	}
}

// CredentialsFrom returns the credentials stored by RequireBearer.
func CredentialsFrom(c *gin.Context) (Credentials, bool) {
	v, ok := c.Get(credentialsKey)
	if !ok {
		return Credentials{}, false
	}
	creds, ok := v.(Credentials)
	return creds, ok
}

func forbid(c *gin.Context, message string) {
	respondError(c, http.StatusForbidden, KindForbidden.Code(), message)
	c.Abort()
}
