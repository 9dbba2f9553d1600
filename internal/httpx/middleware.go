package httpx

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/auth"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/pkg/apierror"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/pkg/response"
)

// Logger writes one access log line per request.
func Logger(log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if status >= http.StatusInternalServerError {
				log.Error("request", fields...)
				return
			}
			log.Info("request", fields...)
		})
	}
}

func Recoverer(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
					response.Error(w, apierror.InternalError("internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type ctxKey string

const agentKeyCtx ctxKey = "agent_key"

// AgentAuth requires a bearer agent token and puts its subject in the context.
func AgentAuth(iss *auth.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if iss == nil {
				response.Error(w, apierror.ServiceUnavailable("agent authentication is not configured"))
				return
			}
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				response.Error(w, apierror.Unauthorized("missing or invalid authorization header"))
				return
			}
			claims, err := iss.Validate(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				response.Error(w, apierror.Unauthorized("invalid token"))
				return
			}
			ctx := context.WithValue(r.Context(), agentKeyCtx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentKey returns the authenticated agent key, or "".
func AgentKey(ctx context.Context) string {
	k, _ := ctx.Value(agentKeyCtx).(string)
	return k
}
