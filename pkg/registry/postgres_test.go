package registry

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestValidatePostgresTLS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "verify_full_allowed", url: "postgres://u:p@db:5432/x?sslmode=verify-full", wantErr: false},
		{name: "verify_ca_allowed", url: "postgres://u:p@db:5432/x?sslmode=verify-ca", wantErr: false},
		{name: "require_allowed", url: "postgres://u:p@db:5432/x?sslmode=require", wantErr: false},
		{name: "disable_denied", url: "postgres://u:p@db:5432/x?sslmode=disable", wantErr: true},
		{name: "prefer_denied", url: "postgres://u:p@db:5432/x?sslmode=prefer", wantErr: true},
		{name: "missing_sslmode_denied", url: "postgres://u:p@db:5432/x", wantErr: true},
		{name: "invalid_url_denied", url: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validatePostgresTLS(tt.url)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error for %s", tt.url)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDefaultPostgresURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_USER", "")
	t.Setenv("POSTGRES_PASSWORD", "")
	t.Setenv("DATABASE_HOST", "")
	t.Setenv("DATABASE_PORT", "not-a-port")
	t.Setenv("DATABASE_NAME", "")
	t.Setenv("DATABASE_SSLMODE", "")
	url := defaultPostgresURL()
	if !strings.HasPrefix(url, "postgres://spal@localhost:5432/spal") {
		t.Fatalf("unexpected default url %s", url)
	}
	if !strings.Contains(url, "sslmode=disable") {
		t.Fatalf("expected sslmode=disable in %s", url)
	}
}

func TestNewPostgresPoolRequireTLSRejectsInsecureDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x?sslmode=disable")
	t.Setenv("DATABASE_REQUIRE_TLS", "true")
	if _, err := NewPostgresPool(context.Background()); err == nil {
		t.Fatalf("expected TLS validation error")
	}
}

func TestNewPostgresPoolRetriesThenFails(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@127.0.0.1:1/x?sslmode=disable")
	t.Setenv("DATABASE_REQUIRE_TLS", "")

	origRetries, origDelay, origSleep := postgresConnectRetries, postgresRetryDelay, postgresSleep
	origNew := pgxPoolNewWithConfig
	defer func() {
		postgresConnectRetries, postgresRetryDelay, postgresSleep = origRetries, origDelay, origSleep
		pgxPoolNewWithConfig = origNew
	}()
	postgresConnectRetries = 2
	postgresRetryDelay = 0
	slept := 0
	postgresSleep = func(time.Duration) { slept++ }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewPostgresPool(ctx)
	if err == nil {
		t.Fatalf("expected connection failure")
	}
	if slept == 0 {
		t.Fatalf("expected retries to sleep between attempts")
	}
	if !strings.Contains(err.Error(), "retries exhausted") {
		t.Fatalf("expected retries-exhausted error, got %v", err)
	}
}
