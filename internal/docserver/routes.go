// Package docserver exposes a RoomStore over HTTP and websockets so that
// clients on different machines share one set of room records.
package docserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-rooms/internal/store"
)

type Options struct {
	Version        string
	OriginPatterns []string
}

func SetupRoutes(rs store.RoomStore, log *zap.Logger, opts Options) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", Healthz)
	r.Get("/version", Version(opts.Version))

	r.Post("/rooms/{ns}/code", CreateCode(rs, log))
	r.Route("/rooms/{ns}/{room}", func(r chi.Router) {
		r.Get("/", GetRoom(rs))
		r.Put("/", CreateRoom(rs, log))
		r.Patch("/", MergeRoom(rs))
		r.Get("/ws", Subscribe(rs, log, opts.OriginPatterns))
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
