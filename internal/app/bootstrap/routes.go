// internal/app/bootstrap/routes.go
package bootstrap

import (
	"context"
	"errors"
	"net/http"

	accountsfeature "github.com/dalemusser/stratavault/internal/app/features/accounts"
	apikeysfeature "github.com/dalemusser/stratavault/internal/app/features/apikeys"
	auditlogfeature "github.com/dalemusser/stratavault/internal/app/features/auditlog"
	filesfeature "github.com/dalemusser/stratavault/internal/app/features/files"
	foldersfeature "github.com/dalemusser/stratavault/internal/app/features/folders"
	healthfeature "github.com/dalemusser/stratavault/internal/app/features/health"
	jobsfeature "github.com/dalemusser/stratavault/internal/app/features/jobs"
	livefeature "github.com/dalemusser/stratavault/internal/app/features/live"
	sharesfeature "github.com/dalemusser/stratavault/internal/app/features/shares"
	trashfeature "github.com/dalemusser/stratavault/internal/app/features/trash"
	accountstore "github.com/dalemusser/stratavault/internal/app/store/accounts"
	apikeystore "github.com/dalemusser/stratavault/internal/app/store/apikeys"
	"github.com/dalemusser/stratavault/internal/app/system/apicors"
	"github.com/dalemusser/stratavault/internal/app/system/identity"
	"github.com/dalemusser/stratavault/internal/app/system/jsonutil"
	"github.com/dalemusser/stratavault/internal/app/system/timeouts"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// Startup have completed.
//
// # Route layout
//
//   - /api/*     bearer-authenticated JSON API (API key or JWT), permissive CORS
//   - /public/*  unauthenticated public file links
//   - /health, /ready, /readyz, /livez  probes
//   - /metrics   Prometheus (when metrics_enabled)
//
// Streaming routes (file upload/download and the live websocket) are kept
// out of the request timeout; everything else is bounded by it.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	if svc == nil {
		return nil, errors.New("services not initialized; Startup must run before BuildHandler")
	}
	db := deps.MongoDatabase
	accounts := accountstore.New(db)

	// API keys always verify; JWTs only when a secret is configured.
	verifier := identity.Chain{identity.NewAPIKeyVerifier(apikeystore.New(db))}
	var tokens *accountsfeature.Tokens
	if appCfg.JWTSecret != "" {
		jwtv := identity.NewJWTVerifier(appCfg.JWTSecret, appCfg.JWTIssuer)
		verifier = append(verifier, jwtv)
		tokens = &accountsfeature.Tokens{Signer: jwtv, TTL: appCfg.JWTTokenTTL}
	}

	// Feature handlers
	accountsHandler := accountsfeature.NewHandler(db, svc.ledger, appCfg.DefaultQuota, svc.audit, logger)
	apikeysHandler := apikeysfeature.NewHandler(db, svc.audit, logger)
	foldersHandler := foldersfeature.NewHandler(svc.namespace, logger)
	filesHandler := filesfeature.NewHandler(svc.placement, svc.namespace, svc.access, appCfg.BaseURL, svc.audit, logger)
	trashHandler := trashfeature.NewHandler(svc.lifecycle, appCfg.TrashRetention, logger)
	sharesHandler := sharesfeature.NewHandler(svc.access, accounts, svc.audit, logger)
	liveHandler := livefeature.NewHandler(svc.hub, svc.access, logger)
	jobsHandler := jobsfeature.NewHandler(svc.runner, logger)
	auditHandler := auditlogfeature.NewHandler(db, logger)

	requestTimeout := chimw.Timeout(timeouts.Long())

	r := chi.NewRouter()

	// ─────────────────────────────────────────────────────────────────────────────
	// Global Middleware (applies to ALL routes)
	// ─────────────────────────────────────────────────────────────────────────────

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	// Security headers middleware: adds X-Frame-Options, X-Content-Type-Options, etc.
	r.Use(middleware.SecurityHeadersFromConfig(coreCfg))

	// ─────────────────────────────────────────────────────────────────────────────
	// API (bearer token auth, no cookies, no CSRF)
	// ─────────────────────────────────────────────────────────────────────────────

	r.Route("/api", func(r chi.Router) {
		r.Use(apicors.Middleware(appCfg.APICORSOrigins...))
		r.Use(identity.Middleware(verifier, accounts, logger))

		// Streaming: no request timeout.
		r.Mount("/files", filesfeature.Routes(filesHandler))
		r.Mount("/live", livefeature.Routes(liveHandler))

		r.Group(func(r chi.Router) {
			r.Use(requestTimeout)

			r.Mount("/me", accountsfeature.MeRoutes(accountsHandler, apikeysfeature.MyRoutes(apikeysHandler), tokens))
			r.Mount("/folders", foldersfeature.Routes(foldersHandler))
			r.Mount("/trash", trashfeature.Routes(trashHandler))
			r.Mount("/shares", sharesfeature.Routes(sharesHandler))
			r.Route("/items", func(r chi.Router) {
				trashfeature.MountItems(r, trashHandler)
				sharesfeature.MountItems(r, sharesHandler)
			})
			sharesfeature.MountShared(r, sharesHandler)

			r.Route("/admin", func(r chi.Router) {
				r.Use(identity.RequireRole(models.RoleAdmin))
				r.Mount("/accounts", accountsfeature.AdminRoutes(accountsHandler, apikeysfeature.AdminRoutes(apikeysHandler)))
				r.Mount("/jobs", jobsfeature.Routes(jobsHandler))
				r.Mount("/audit", auditlogfeature.Routes(auditHandler))
			})
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			jsonutil.NotFound(w, "no such endpoint")
		})
	})

	// Public file links (no auth, streaming).
	r.Route("/public", func(r chi.Router) {
		r.Use(apicors.Middleware())
		r.Mount("/", filesfeature.PublicRoutes(filesHandler))
	})

	// ─────────────────────────────────────────────────────────────────────────────
	// Operational endpoints
	// ─────────────────────────────────────────────────────────────────────────────

	r.Group(func(r chi.Router) {
		r.Use(requestTimeout)
		r.Use(middleware.CORSFromConfig(coreCfg))

		// Health check endpoints for load balancers and orchestrators
		healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
		if deps.Redis != nil {
			healthHandler.AddCheck("redis", func(ctx context.Context) error {
				return deps.Redis.Ping(ctx).Err()
			})
		}
		healthHandler.SetStats(func() map[string]int {
			return map[string]int{"live_subscribers": svc.hub.Len()}
		})
		r.Mount("/health", healthfeature.Routes(healthHandler))
		healthfeature.MountRootEndpoints(r, healthHandler)

		if appCfg.MetricsEnabled {
			r.Handle("/metrics", svc.metrics.Handler())
		}
	})

	logger.Info("routes built",
		zap.Bool("jwt_enabled", appCfg.JWTSecret != ""),
		zap.Bool("metrics_enabled", appCfg.MetricsEnabled),
		zap.Bool("redis_relay", deps.Redis != nil))

	return r, nil
}
