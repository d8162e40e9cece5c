package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dalemusser/stratavault/internal/app/system/jsonutil"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// AccountLoader fetches the account behind a verified token.
type AccountLoader interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Account, error)
}

// Middleware authenticates every request with v and loads a fresh account so
// role changes and disabled accounts take effect immediately.
func Middleware(v Verifier, accounts AccountLoader, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="stratavault"`)
				jsonutil.Unauthorized(w, err.Error())
				return
			}

			accountID, err := v.Verify(r.Context(), token)
			if err != nil {
				if !errors.Is(err, ErrInvalidToken) {
					logger.Error("token verification failed", zap.Error(err), zap.String("path", r.URL.Path))
					jsonutil.InternalError(w, "internal error")
					return
				}
				logger.Debug("request rejected: invalid token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr))
				jsonutil.Unauthorized(w, "invalid token")
				return
			}

			acct, err := accounts.GetByID(r.Context(), accountID)
			if errors.Is(err, mongo.ErrNoDocuments) {
				jsonutil.Unauthorized(w, "account not found")
				return
			}
			if err != nil {
				logger.Error("load account failed", zap.Error(err), zap.String("account_id", accountID.Hex()))
				jsonutil.InternalError(w, "internal error")
				return
			}
			if !acct.IsActive() {
				logger.Info("request rejected: account disabled", zap.String("account_id", accountID.Hex()))
				jsonutil.Forbidden(w, "account is disabled")
				return
			}

			method := "jwt"
			if strings.HasPrefix(token, "sk_") {
				method = "api_key"
			}
			p := &Principal{
				AccountID: acct.ID,
				Email:     acct.Email,
				Name:      acct.FullName,
				Role:      acct.Role,
				Method:    method,
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole rejects principals without one of the allowed roles.
func RequireRole(allowed ...string) func(http.Handler) http.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		set[strings.ToLower(strings.TrimSpace(role))] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromRequest(r)
			if !ok {
				jsonutil.Unauthorized(w, "unauthorized")
				return
			}
			if _, has := set[p.Role]; !has {
				jsonutil.Forbidden(w, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
