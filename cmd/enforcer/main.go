// Command enforcer serves the off-chain policy enforcement API: it encodes
// policy datums for publication, mirrors the on-chain acceptance predicate
// over submitted access requests, and records every decision.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"spal/pkg/audit"
	"spal/pkg/hardening"
	"spal/pkg/httpx"
	"spal/pkg/metrics"
	"spal/pkg/ratelimit"
	"spal/pkg/registry"
	"spal/pkg/script"
	"spal/pkg/stream"
	"spal/pkg/telemetry"
)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openDBFn        func(context.Context) (enforcerDB, func(), error)
	listenFn        func(*http.Server) error
)

func main() {
	if err := runEnforcer(initTelemetryFn, openDBFn, listenFn); err != nil {
		logFatalf("enforcer: %v", err)
	}
}

func runEnforcer(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	openDB func(context.Context) (enforcerDB, func(), error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openDB == nil {
		openDB = func(ctx context.Context) (enforcerDB, func(), error) {
			pool, err := registry.NewPostgresPool(ctx)
			if err != nil {
				return nil, nil, err
			}
			return pool, pool.Close, nil
		}
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "enforcer")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := hardening.ValidateProduction(hardening.Options{
		Service:            "enforcer",
		Environment:        env("ENVIRONMENT", env("APP_ENV", "")),
		StrictProdSecurity: env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS: env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:          env("REDIS_ADDR", ""),
		RedisRequireTLS:    env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:   env("REDIS_TLS_INSECURE", ""),
		CORSAllowedOrigins: env("CORS_ALLOWED_ORIGINS", ""),
	}); err != nil {
		return err
	}

	db, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	if closeDB != nil {
		defer closeDB()
	}

	redisClient, err := registry.NewRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, using in-process fallbacks: %v", err)
		redisClient = nil
	}

	scriptRef, err := loadScriptFromEnv()
	if err != nil {
		return err
	}

	s := &Server{
		Registry: registry.New(db, registry.NewCache(ctx, redisClient)),
		Audit: &audit.Writer{
			DB:       db,
			HashSalt: []byte(env("AUDIT_HASH_SALT", "")),
			Redact:   env("AUDIT_REDACT", "true") == "true",
		},
		Metrics:             metrics.NewRegistry(),
		Hub:                 stream.NewHub(),
		Limiter:             ratelimit.NewRedis(redisClient, time.Minute),
		Script:              scriptRef,
		ValidateRateLimit:   envInt("VALIDATE_RATE_LIMIT_PER_MIN", 600),
		EphemeralSchemes:    splitList(env("EPHEMERAL_DID_SCHEMES", "")),
		AdminToken:          env("ADMIN_TOKEN", ""),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}
	if pub, err := newPublisherFromEnv(); err != nil {
		log.Printf("kafka publisher disabled: %v", err)
	} else if pub != nil {
		s.Events = pub
		defer func() { _ = pub.Close() }()
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware("enforcer"))
	r.Use(s.limitRequestBodyMiddleware)
	r.Use(s.Metrics.Middleware("enforcer"))
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metricsz", s.Metrics.Handler())

	r.Post("/v1/policies", s.withAdminToken(s.publishPolicy))
	r.Get("/v1/policies/{id}", s.getPolicy)
	r.Get("/v1/policies", s.listPolicies)
	r.Delete("/v1/policies/{id}", s.withAdminToken(s.deletePolicy))
	r.Post("/v1/validate", s.validateRequest)
	r.Post("/v1/decode", s.decodeDatum)
	r.Get("/v1/stream", s.streamDecisions)

	addr := env("ADDR", ":8085")
	log.Printf("enforcer listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}

// loadScriptFromEnv loads the compiled on-chain validator the service is
// deployed against, from SCRIPT_BYTES (hex) or SCRIPT_PATH. When
// SCRIPT_EXPECTED_HASH is set, startup fails if the loaded validator hashes
// to anything else. With neither source set the service runs without a
// script reference and /healthz omits the hash.
func loadScriptFromEnv() (script.Reference, error) {
	var compiled []byte
	switch {
	case env("SCRIPT_BYTES", "") != "":
		raw, err := hex.DecodeString(env("SCRIPT_BYTES", ""))
		if err != nil {
			return script.Reference{}, fmt.Errorf("SCRIPT_BYTES is not hex: %w", err)
		}
		compiled = raw
	case env("SCRIPT_PATH", "") != "":
		raw, err := os.ReadFile(env("SCRIPT_PATH", ""))
		if err != nil {
			return script.Reference{}, fmt.Errorf("read script: %w", err)
		}
		compiled = raw
	default:
		return script.Reference{}, nil
	}

	ref, err := script.Load(compiled)
	if err != nil {
		return script.Reference{}, err
	}
	if want := env("SCRIPT_EXPECTED_HASH", ""); want != "" && !strings.EqualFold(want, ref.Hash()) {
		return script.Reference{}, fmt.Errorf("validator drift: loaded script hashes to %s, expected %s", ref.Hash(), want)
	}
	log.Printf("validator script loaded, hash %s", ref.Hash())
	return ref, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(key string, def int) time.Duration {
	return time.Second * time.Duration(envInt(key, def))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
