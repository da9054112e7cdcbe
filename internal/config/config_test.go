package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DEFAULT_BRANCH_ID", "LOYALTY_WASHES_PER_FREE", "CATALOG_CACHE_TTL_HOURS",
		"DRAFT_CONFLICT_CLEAR_SECONDS", "FORM_SESSION_TTL_MINUTES", "ACCESS_TOKEN_TTL_MINUTES",
		"ENABLE_CUCI_FREE_PRODUCTS", "ENABLE_CKL_FREE_PRODUCTS", "APP_ENV",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if cfg.DefaultBranchID != "cabang-1" {
		t.Fatalf("unexpected default branch %s", cfg.DefaultBranchID)
	}
	if cfg.WashesPerFree != 10 {
		t.Fatalf("expected 10 washes per free wash, got %d", cfg.WashesPerFree)
	}
	if cfg.CatalogCacheTTL != 8*time.Hour {
		t.Fatalf("expected 8h catalog ttl, got %s", cfg.CatalogCacheTTL)
	}
	if cfg.DraftConflictClear != 5*time.Second {
		t.Fatalf("expected 5s conflict clear, got %s", cfg.DraftConflictClear)
	}
	if cfg.FormSessionTTL != 2*time.Hour {
		t.Fatalf("expected 2h form ttl, got %s", cfg.FormSessionTTL)
	}
	if cfg.CuciFreeProducts || cfg.CKLFreeProducts {
		t.Fatalf("free product rules must be opt-in")
	}
	if cfg.Production() {
		t.Fatalf("expected development environment by default")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("ENABLE_CUCI_FREE_PRODUCTS", "true")
	t.Setenv("ENABLE_CKL_FREE_PRODUCTS", "1")
	t.Setenv("LOYALTY_WASHES_PER_FREE", "8")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("APP_ENV", "Production")

	cfg := Load()
	if !cfg.CuciFreeProducts || !cfg.CKLFreeProducts {
		t.Fatalf("expected both free product rules enabled")
	}
	if cfg.WashesPerFree != 8 || cfg.RedisDB != 2 {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if !cfg.Production() {
		t.Fatalf("expected production environment")
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("LOYALTY_WASHES_PER_FREE", "0")
	t.Setenv("CATALOG_CACHE_TTL_HOURS", "soon")
	t.Setenv("ENABLE_CKL_FREE_PRODUCTS", "maybe")

	cfg := Load()
	if cfg.WashesPerFree != 10 {
		t.Fatalf("expected fallback 10, got %d", cfg.WashesPerFree)
	}
	if cfg.CatalogCacheTTL != 8*time.Hour {
		t.Fatalf("expected fallback 8h, got %s", cfg.CatalogCacheTTL)
	}
	if cfg.CKLFreeProducts {
		t.Fatalf("expected invalid boolean to fall back to false")
	}
}
