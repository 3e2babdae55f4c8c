package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiterhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"

	"github.com/technoprod/backend-gestion/internal/app"
	"github.com/technoprod/backend-gestion/internal/audit"
	"github.com/technoprod/backend-gestion/internal/auth"
	"github.com/technoprod/backend-gestion/internal/client"
	"github.com/technoprod/backend-gestion/internal/commande"
	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/config"
	"github.com/technoprod/backend-gestion/internal/devis"
	"github.com/technoprod/backend-gestion/internal/facture"
	"github.com/technoprod/backend-gestion/internal/health"
	gestionmw "github.com/technoprod/backend-gestion/internal/http/middleware"
	"github.com/technoprod/backend-gestion/internal/notify"
	"github.com/technoprod/backend-gestion/internal/obs"
	"github.com/technoprod/backend-gestion/internal/produit"
	"github.com/technoprod/backend-gestion/internal/queue"
	"github.com/technoprod/backend-gestion/internal/ratelimit"
	"github.com/technoprod/backend-gestion/internal/referentiel"
	"github.com/technoprod/backend-gestion/internal/security"
	"github.com/technoprod/backend-gestion/internal/stats"
	"github.com/technoprod/backend-gestion/internal/store"
	"github.com/technoprod/backend-gestion/internal/tenant"
	"github.com/technoprod/backend-gestion/internal/theme"
	"github.com/technoprod/backend-gestion/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "gestion")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "gestion-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "gestion-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	if cfg.MigrateOnStart {
		migrator, err := store.NewMigrator(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise migrator")
		}
		if err := app.RunMigrations(migrator); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		logger.Info().Msg("database schema up to date")
	}

	queries := store.New(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	limiterStore, err := app.NewLimiterStore(redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise limiter store")
	}
	apiLimiter, err := app.NewAPILimiter(limiterStore, cfg.APIRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise api limiter")
	}

	deps := app.Dependencies{
		DB:           pool,
		Redis:        redisClient,
		Validator:    validator.New(),
		Limiter:      apiLimiter,
		LimiterStore: limiterStore,
	}

	auditSvc := audit.Service{Store: queries, Enabled: true}

	authService, err := auth.NewService(auth.Config{
		Queries:         queries,
		Secret:          cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		ResetTokenTTL:   cfg.PasswordResetTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authHandler := &auth.Handler{
		Service:           authService,
		Sender:            common.NopEmailSender{},
		ResetBaseURL:      cfg.PublicBaseURL,
		RefreshCookieName: cfg.RefreshCookieName,
		CookieDomain:      cfg.RefreshCookieDomain,
		CookieSecure:      cfg.RefreshCookieSecure,
		CookieSameSite:    cfg.RefreshCookieSameSite,
	}
	authMW := auth.Middleware{Service: authService}

	userHandler := &user.Handler{Service: user.NewService(queries)}

	clientService, err := client.NewService(client.ServiceConfig{
		Queries:   queries,
		Audit:     auditSvc,
		Validator: deps.Validator,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise client service")
	}
	clientHandler := &client.Handler{Service: clientService}

	produitService, err := produit.NewService(produit.ServiceConfig{
		Queries:      queries,
		Cache:        produit.NewCache(redisClient, cfg.ProduitCacheTTL),
		Validator:    deps.Validator,
		DefaultPage:  cfg.ProduitDefaultPage,
		DefaultLimit: cfg.ProduitDefaultLimit,
		MaxLimit:     cfg.ProduitMaxLimit,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise produit service")
	}
	produitHandler := produit.NewHandler(produitService)

	devisHandler := &devis.Handler{Service: &devis.Service{
		DB:           devis.PoolRunner{Pool: pool},
		Q:            queries,
		NumeroPrefix: cfg.DevisNumeroPrefix,
	}}
	commandeHandler := &commande.Handler{Service: &commande.Service{
		DB: commande.PoolRunner{Pool: pool},
		Q:  queries,
	}}
	factureHandler := &facture.Handler{Service: &facture.Service{Q: queries}}

	referentielService, err := referentiel.NewService(referentiel.ServiceConfig{
		Queries:   queries,
		Audit:     auditSvc,
		Validator: deps.Validator,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise referentiel service")
	}
	referentielHandler := &referentiel.Handler{Service: referentielService}

	themeService, err := theme.NewService(queries, redisClient, cfg.ThemeCacheTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise theme service")
	}
	themeHandler := &theme.Handler{Service: themeService}

	statsHandler := &stats.Handler{Svc: &stats.Service{
		Q:   queries,
		R:   redisClient,
		TTL: cfg.StatsCacheTTL,
	}}
	auditHandler := audit.Handler{Store: queries}

	webhookAdmin := &notify.AdminHandler{Store: queries}
	queueAdmin := &queue.AdminHandler{
		Store: queue.NewStore(pool),
		Queue: queue.Enqueuer{
			R:           redisClient,
			Prefix:      cfg.QueueRedisPrefix,
			MaxAttempts: cfg.QueueMaxAttempts,
		},
		Logger:            logger,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	loginLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "gestion:login"},
		Config: ratelimit.Config{
			Key:    loginRateKey,
			Window: cfg.LoginRateWindow,
			Max:    cfg.LoginRateMax,
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("login rate limiter") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	resolver := tenant.NewResolver(cfg.SocieteHeader, cfg.SocieteRootDomain, cfg.SocieteDefault)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production", HSTSMaxAge: 31536000}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", cfg.SocieteHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", true)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(resolver.Middleware)
		v.Use(resolveSocieteSlug(queries, redisClient, cfg.ThemeCacheTTL))
		v.Use(gestionmw.RequireSociete)
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		v.Use(limiterhttp.NewMiddleware(deps.Limiter).Handler)

		v.Route("/auth", func(a chi.Router) {
			a.Post("/register", authHandler.Register)
			a.With(loginLimiter.Middleware).Post("/login", authHandler.Login)
			a.Post("/refresh", authHandler.Refresh)
			a.Post("/logout", authHandler.Logout)
			a.Post("/password/forgot", authHandler.ForgotPassword)
			a.Post("/password/reset", authHandler.ResetPassword)
			a.With(authMW.RequireAuth).Get("/me", authHandler.Me)
		})

		v.Get("/theme", themeHandler.Get)

		v.Group(func(p chi.Router) {
			p.Use(authMW.RequireAuth)

			p.Route("/users/me", func(u chi.Router) {
				u.Get("/", userHandler.Get)
				u.Patch("/", userHandler.Update)
				u.Put("/password", userHandler.ChangePassword)
			})

			p.Route("/clients", func(c chi.Router) {
				c.Get("/", clientHandler.List)
				c.Post("/", clientHandler.Create)
				c.Get("/{clientID}", clientHandler.Get)
				c.Put("/{clientID}", clientHandler.Update)
				c.Patch("/{clientID}/consent", clientHandler.UpdateConsent)
				c.Delete("/{clientID}", clientHandler.Delete)
			})

			p.Route("/produits", func(pr chi.Router) {
				pr.Get("/", produitHandler.List)
				pr.Get("/{produitID}", produitHandler.Get)
				pr.Get("/{produitID}/prefill", produitHandler.Prefill)
				pr.Group(func(adm chi.Router) {
					adm.Use(authMW.RequireRole(auth.RoleAdmin))
					adm.Post("/", produitHandler.Create)
					adm.Put("/{produitID}", produitHandler.Update)
					adm.Delete("/{produitID}", produitHandler.Delete)
				})
			})

			p.Route("/devis", func(d chi.Router) {
				d.Get("/", devisHandler.List)
				d.Post("/", devisHandler.Create)
				d.Route("/{devisID}", func(one chi.Router) {
					one.Get("/", devisHandler.Get)
					one.Patch("/", devisHandler.Update)
					one.Delete("/", devisHandler.Delete)
					one.Post("/status", devisHandler.Transition)
					one.With(idem.Middleware).Post("/convert", devisHandler.Convert)

					one.Route("/element", func(el chi.Router) {
						el.Get("/", devisHandler.ListElementsHandler)
						el.Post("/", devisHandler.CreateElement)
						el.Post("/reorder", devisHandler.ReorderElements)
						el.Get("/subtotal/{position}", devisHandler.SubtotalHandler)
						el.Put("/{elementID}", devisHandler.UpdateElement)
						el.Delete("/{elementID}", devisHandler.DeleteElement)
					})

					one.Route("/items", func(it chi.Router) {
						it.Post("/add", devisHandler.AddItem)
						it.Post("/reorder", devisHandler.ReorderItems)
						it.Put("/{itemID}/update", devisHandler.UpdateItem)
						it.Delete("/{itemID}/delete", devisHandler.DeleteItem)
					})
				})
			})

			p.Route("/commandes", func(c chi.Router) {
				c.Get("/", commandeHandler.List)
				c.Get("/{commandeID}", commandeHandler.Get)
				c.With(idem.Middleware).Post("/{commandeID}/facturer", commandeHandler.Facturer)
			})

			p.Route("/factures", func(f chi.Router) {
				f.Get("/", factureHandler.List)
				f.Get("/{factureID}", factureHandler.Get)
			})

			p.Route("/stats", func(s chi.Router) {
				s.Get("/devis", statsHandler.Devis)
				s.Get("/ca", statsHandler.ChiffreAffaires)
			})

			p.Route("/admin", func(admin chi.Router) {
				admin.Use(authMW.RequireRole(auth.RoleAdmin))

				admin.Route("/referentiel/{kind}", func(ref chi.Router) {
					ref.Get("/", referentielHandler.List)
					ref.Post("/", referentielHandler.Create)
					ref.Put("/{entryID}", referentielHandler.Update)
					ref.Delete("/{entryID}", referentielHandler.Delete)
				})

				admin.Put("/theme", themeHandler.Upsert)
				admin.Get("/audit", auditHandler.List)

				admin.Mount("/webhooks", webhookAdmin.Routes())

				admin.Route("/queue", func(q chi.Router) {
					q.Get("/dlq", queueAdmin.ListDLQ)
					q.Post("/dlq/replay", queueAdmin.ReplayDLQ)
					q.Get("/stats", queueAdmin.Stats)
				})
			})
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-shutdownCtx.Done()
	health.SetReady(false)
	logger.Info().Msg("shutdown signal received, draining")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown http server")
	}
	logger.Info().Msg("server stopped")
}

// resolveSocieteSlug swaps a subdomain slug for the societe UUID so downstream
// scoping always sees a parseable identifier. Lookups are cached in Redis.
func resolveSocieteSlug(queries *store.Queries, rdb *redis.Client, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := tenant.From(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := uuid.Parse(id); err == nil {
				next.ServeHTTP(w, r)
				return
			}
			cacheKey := "gestion:societe:slug:" + id
			if rdb != nil {
				if cached, err := rdb.Get(r.Context(), cacheKey).Result(); err == nil && cached != "" {
					next.ServeHTTP(w, r.WithContext(tenant.With(r.Context(), cached)))
					return
				}
			}
			societe, err := queries.GetSocieteBySlug(r.Context(), id)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					common.JSONError(w, http.StatusBadRequest, "SOCIETE_INVALID", "societe inconnue", nil)
					return
				}
				common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "societe lookup failed", nil)
				return
			}
			resolved := store.UUIDString(societe.ID)
			if rdb != nil && ttl > 0 {
				_ = rdb.Set(r.Context(), cacheKey, resolved, ttl).Err()
			}
			next.ServeHTTP(w, r.WithContext(tenant.With(r.Context(), resolved)))
		})
	}
}

func loginRateKey(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	if id, ok := tenant.From(r.Context()); ok {
		return id + ":" + host
	}
	return host
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
