package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/compte-engine/banking"
)

// Identity is established by the gateway in front of the engine. It
// forwards the authenticated caller in these headers.
const (
	HeaderActorID       = "X-Actor-ID"
	HeaderActorRole     = "X-Actor-Role"
	HeaderActorClientID = "X-Actor-Client-ID"
)

type ctxKey struct{}

// ActorFromHeaders rejects requests without a usable identity with 401.
func ActorFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := banking.Actor{
			ID:       strings.TrimSpace(r.Header.Get(HeaderActorID)),
			Role:     banking.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole)))),
			ClientID: strings.TrimSpace(r.Header.Get(HeaderActorClientID)),
		}
		if actor.ID == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Missing " + HeaderActorID, Code: "unauthenticated"})
			return
		}
		switch actor.Role {
		case banking.RoleAdmin, banking.RoleSystem:
		case banking.RoleClient:
			if actor.ClientID == "" {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Missing " + HeaderActorClientID, Code: "unauthenticated"})
				return
			}
		default:
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unknown role", Code: "unauthenticated", Details: string(actor.Role)})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, actor)))
	})
}

// actorFrom returns the request actor. Routes outside ActorFromHeaders get
// the zero actor, which every access check refuses.
func actorFrom(r *http.Request) banking.Actor {
	a, _ := r.Context().Value(ctxKey{}).(banking.Actor)
	return a
}

// RequestLogger logs one line per request with zap.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if id := r.Header.Get(HeaderActorID); id != "" {
				fields = append(fields, zap.String("actor_id", id))
			}
			if ww.Status() >= http.StatusInternalServerError {
				zap.L().Error("HTTP request", fields...)
				return
			}
			zap.L().Info("HTTP request", fields...)
		}()
		next.ServeHTTP(ww, r)
	})
}
