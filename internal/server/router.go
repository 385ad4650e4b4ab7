package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/gundcab/shipsync/auth"
	"github.com/gundcab/shipsync/httpx"
	"github.com/gundcab/shipsync/internal/handlers"
	"github.com/gundcab/shipsync/internal/hub"
	"github.com/gundcab/shipsync/internal/models"
	"github.com/gundcab/shipsync/internal/store"
)

// New constructs the root http.Handler with all routes and middlewares applied.
func New(db *gorm.DB, st *store.Store, h *hub.Hub) http.Handler {
	// Token subjects are re-verified against the users table on each request
	// so revoked or deactivated accounts lose access immediately.
	auth.SetUserLoader(func(ctx context.Context, username string) (auth.Identity, bool) {
		var user models.User
		if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
			return auth.Identity{}, false
		}
		if user.IsActive != "active" {
			return auth.Identity{}, false
		}
		return auth.Identity{UserID: user.ID, Username: user.Username, Role: user.Role}, true
	})

	r := mux.NewRouter()
	r.Use(withLogging, withRecover, auth.Middleware)

	//revive:disable:unused-parameter simple handlers intentionally ignore *http.Request
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Exec("SELECT 1").Error; err != nil {
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	//revive:enable:unused-parameter

	ah := handlers.NewAuthHandler(db)
	r.Methods(http.MethodPost).Path("/login").HandlerFunc(ah.Login)
	r.Methods(http.MethodPost).Path("/register").Handler(auth.RequireAuth(http.HandlerFunc(ah.Register)))

	sh := handlers.NewShipmentHandler(st)
	r.Methods(http.MethodGet).Path("/shipments").Handler(auth.RequireAuth(http.HandlerFunc(sh.List)))
	r.Methods(http.MethodPost).Path("/shipments").Handler(auth.RequireWriter(http.HandlerFunc(sh.Create)))
	r.Methods(http.MethodGet).Path("/shipments/{id}").Handler(auth.RequireAuth(http.HandlerFunc(sh.Get)))
	r.Methods(http.MethodPut).Path("/shipments/{id}").Handler(auth.RequireWriter(http.HandlerFunc(sh.Update)))
	r.Methods(http.MethodDelete).Path("/shipments/{id}").Handler(auth.RequireWriter(http.HandlerFunc(sh.Delete)))

	audit := handlers.NewAuditHandler(st)
	r.Methods(http.MethodGet).Path("/audit-logs").Handler(auth.RequireAuth(http.HandlerFunc(audit.List)))

	ws := handlers.NewWSHandler(h)
	r.Methods(http.MethodGet).Path("/ws").Handler(auth.RequireAuth(http.HandlerFunc(ws.Serve)))

	return r
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		slog.Info("handled", "method", r.Method, "url", r.URL.Path, "duration", m.Duration, "status", m.Code)
	})
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered", "panic", rec)
				httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
