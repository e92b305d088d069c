package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	authsvc "github.com/ivankudzin/creditpay/internal/services/auth"
	"github.com/ivankudzin/creditpay/internal/services/notifyauth"
	httperrors "github.com/ivankudzin/creditpay/internal/transport/http/errors"
)

type alerter interface {
	Alert(ctx context.Context, text string) error
}

func ApplyMiddlewares(r chiRouter, log *zap.Logger) {
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(requestLogger(log))
}

const (
	// replayGuardRetryAfter is how long a provider should back off while Redis is down.
	replayGuardRetryAfter = 5 * time.Second
	nonceReleaseTimeout   = 2 * time.Second
)

func AuthMiddleware(authService *authsvc.Service, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authService == nil {
				httperrors.Write(w, http.StatusInternalServerError, httperrors.New(r, "AUTH_SERVICE_UNAVAILABLE", "auth service is unavailable"))
				return
			}

			accessToken, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httperrors.Write(w, http.StatusUnauthorized, httperrors.New(r, "UNAUTHORIZED", "missing bearer token"))
				return
			}

			claims, err := authService.ValidateAccessToken(r.Context(), accessToken)
			if err != nil {
				if log != nil {
					log.Debug("auth middleware validation failed", zap.Error(err))
				}
				httperrors.Write(w, http.StatusUnauthorized, httperrors.New(r, "UNAUTHORIZED", "invalid access token"))
				return
			}

			ctx := authsvc.WithIdentity(r.Context(), authsvc.Identity{
				UserID: claims.UserID,
				SID:    claims.SID,
				Role:   claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		role = strings.ToUpper(strings.TrimSpace(role))
		if role != "" {
			allowed[role] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := authsvc.IdentityFromContext(r.Context())
			if !ok {
				httperrors.Write(w, http.StatusUnauthorized, httperrors.New(r, "UNAUTHORIZED", "authentication required"))
				return
			}
			if _, ok := allowed[strings.ToUpper(strings.TrimSpace(identity.Role))]; !ok {
				httperrors.Write(w, http.StatusForbidden, httperrors.New(r, "FORBIDDEN", "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NotificationAuthMiddleware checks the provider digest before the body is
// read. Forgeries get 401 and an operator alert.
func NotificationAuthMiddleware(verifier *notifyauth.Verifier, alerts alerter, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				httperrors.Write(w, http.StatusUnauthorized, httperrors.New(r, "SIGNATURE_INVALID", "notification verification is not configured"))
				return
			}

			challenge, err := verifier.Verify(r.Context(), r.Method, r.URL.Path, r.Header.Get("Authorization"))
			if err != nil {
				if errors.Is(err, notifyauth.ErrReplayGuardUnavailable) {
					log.Error("notification replay guard unavailable", zap.Error(err))
					httperrors.WriteRetryable(w, http.StatusServiceUnavailable, replayGuardRetryAfter, httperrors.New(r, "REPLAY_GUARD_UNAVAILABLE", "try again later"))
					return
				}

				log.Warn("notification rejected",
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("identity", challenge.Identity),
					zap.String("nonce", challenge.Nonce),
					zap.Error(err),
				)
				if alerts != nil {
					text := fmt.Sprintf("rejected payment notification from %s: %v", r.RemoteAddr, err)
					if alertErr := alerts.Alert(r.Context(), text); alertErr != nil {
						log.Warn("operator alert failed", zap.Error(alertErr))
					}
				}
				httperrors.Write(w, http.StatusUnauthorized, httperrors.New(r, "SIGNATURE_INVALID", "notification signature is invalid"))
				return
			}

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() < http.StatusInternalServerError {
				return
			}

			// The provider redelivers with the same nonce after a 5xx.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), nonceReleaseTimeout)
			defer cancel()
			if err := verifier.Release(releaseCtx, challenge.Nonce); err != nil {
				log.Error("notification nonce not released",
					zap.String("nonce", challenge.Nonce),
					zap.Int("status", ww.Status()),
					zap.Error(err),
				)
			}
		})
	}
}

func extractBearerToken(value string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if log != nil {
				log.Info("http_request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.String("request_id", chimiddleware.GetReqID(r.Context())),
					zap.Duration("duration", time.Since(start)),
				)
			}
		})
	}
}

type chiRouter interface {
	Use(middlewares ...func(http.Handler) http.Handler)
}
