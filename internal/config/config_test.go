package config

import (
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_URL", "https://store.example.com")
	t.Setenv("STORE_SERVICE_KEY", "service-key")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_USER", "mailer")
	t.Setenv("SMTP_PASS", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.StoreBackend != BackendRest {
		t.Errorf("StoreBackend = %s, want rest", cfg.StoreBackend)
	}
	if cfg.SMTPPort != 587 {
		t.Errorf("SMTPPort = %d, want 587", cfg.SMTPPort)
	}
	if cfg.PollSeconds != 20 {
		t.Errorf("PollSeconds = %d, want 20", cfg.PollSeconds)
	}
	if cfg.BatchLimit != 25 {
		t.Errorf("BatchLimit = %d, want 25", cfg.BatchLimit)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.ClaimTimeoutSeconds != 120 {
		t.Errorf("ClaimTimeoutSeconds = %d, want 120", cfg.ClaimTimeoutSeconds)
	}
	if cfg.MailFrom != "Mailroom <no-reply@localhost>" {
		t.Errorf("MailFrom = %s", cfg.MailFrom)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POLL_SECONDS", "5")
	t.Setenv("BATCH_LIMIT", "50")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SENDER_NAME", "Notifier")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.PollSeconds != 5 {
		t.Errorf("PollSeconds = %d, want 5", cfg.PollSeconds)
	}
	if cfg.BatchLimit != 50 {
		t.Errorf("BatchLimit = %d, want 50", cfg.BatchLimit)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.SenderName != "Notifier" {
		t.Errorf("SenderName = %s, want Notifier", cfg.SenderName)
	}
}

func TestLoad_MissingSMTPConfig(t *testing.T) {
	t.Setenv("STORE_URL", "https://store.example.com")
	t.Setenv("STORE_SERVICE_KEY", "service-key")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when SMTP config is missing")
	}
}

func TestLoad_RestBackendRequiresStoreCredentials(t *testing.T) {
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_USER", "mailer")
	t.Setenv("SMTP_PASS", "secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when store url and key are missing")
	}
}

func TestLoad_PostgresBackend(t *testing.T) {
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_USER", "mailer")
	t.Setenv("SMTP_PASS", "secret")
	t.Setenv("STORE_BACKEND", "postgres")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_DSN is missing")
	}

	t.Setenv("DATABASE_DSN", "host=localhost user=test dbname=test sslmode=disable")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreBackend != BackendPostgres {
		t.Errorf("StoreBackend = %s, want postgres", cfg.StoreBackend)
	}
}

func TestLoad_UnknownBackend(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STORE_BACKEND", "dynamo")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}
