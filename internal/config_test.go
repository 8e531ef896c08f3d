package internal

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Auth.AuthEnabled() {
		t.Fatal("default config should have auth disabled")
	}
	if cfg.App.HTTP.Address() != ":8080" {
		t.Fatalf("unexpected default address %q", cfg.App.HTTP.Address())
	}
}

func TestAuthConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		auth    AuthConfig
		wantErr bool
		enabled bool
	}{
		{name: "disabled", auth: AuthConfig{Mode: AuthModeDisabled}},
		{name: "empty mode defaults to disabled", auth: AuthConfig{}},
		{name: "token mode with token", auth: AuthConfig{Mode: AuthModeToken, Token: "secret"}, enabled: true},
		{name: "token mode without token", auth: AuthConfig{Mode: AuthModeToken}, wantErr: true},
		{name: "unknown mode", auth: AuthConfig{Mode: "basic"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.auth.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := tt.auth.AuthEnabled(); got != tt.enabled {
				t.Fatalf("AuthEnabled() = %v, want %v", got, tt.enabled)
			}
		})
	}
}

func TestQueueConfigOptions(t *testing.T) {
	qc := QueueConfig{Capacity: 64, Concurrency: 2, MaxRetries: 5, RetryDelayMS: 100}
	opts := qc.QueueOptions()
	if opts.Capacity != 64 || opts.Concurrency != 2 || opts.MaxRetries != 5 {
		t.Fatalf("unexpected queue options: %+v", opts)
	}
	if opts.RetryDelay != 100*time.Millisecond {
		t.Fatalf("RetryDelay = %v, want 100ms", opts.RetryDelay)
	}
}

func TestQueueConfigLockTimeout(t *testing.T) {
	qc := QueueConfig{}
	if qc.LockTimeout() <= 0 {
		t.Fatal("zero config should fall back to a positive default timeout")
	}
	qc.LockTimeoutSeconds = 2
	if qc.LockTimeout() != 2*time.Second {
		t.Fatalf("LockTimeout = %v, want 2s", qc.LockTimeout())
	}
}

func TestVaultConfigRequiresPath(t *testing.T) {
	vc := VaultConfig{}
	if err := vc.Validate(); err == nil {
		t.Fatal("expected error for empty vault path")
	}
}

func TestHTTPConfigPortRange(t *testing.T) {
	hc := HTTPConfig{Port: 70000}
	if err := hc.Validate(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}
