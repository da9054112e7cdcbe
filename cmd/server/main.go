package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"washpoint/backend/internal/cache"
	"washpoint/backend/internal/catalog"
	"washpoint/backend/internal/config"
	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/form"
	"washpoint/backend/internal/httpapi"
	"washpoint/backend/internal/logging"
	"washpoint/backend/internal/service"
	"washpoint/backend/internal/store"
	"washpoint/backend/internal/store/memory"
	pgstore "washpoint/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	_, logCloser := logging.Setup(logging.Options{Service: "washpoint-pos", Env: cfg.AppEnv, File: cfg.LogFile})
	defer logCloser.Close()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(); err != nil {
			log.Fatalf("postgres migration failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	catalogCache, closeCache := buildCatalogCache(ctx, cfg)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	flags := domain.FeatureFlags{CuciFreeProducts: cfg.CuciFreeProducts, CKLFreeProducts: cfg.CKLFreeProducts}
	roles := catalog.RoleIDs{Softener: cfg.SoftenerProductID, Detergent: cfg.DetergentProductID}
	svc := service.New(repo, service.Options{
		DefaultBranchID: cfg.DefaultBranchID,
		WashesPerFree:   cfg.WashesPerFree,
		Flags:           flags,
		Roles:           roles,
	})
	forms := form.NewRegistry(form.Deps{
		Catalog:            catalog.NewLoader(repo, catalogCache, cfg.CatalogCacheTTL, roles),
		Loyalty:            svc,
		Claims:             svc,
		Customers:          svc,
		Transactions:       svc,
		Flags:              flags,
		ConflictClearAfter: cfg.DraftConflictClear,
	}, cfg.FormSessionTTL)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, forms, auth, cfg.AllowedOrigin)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go forms.Run(sweepCtx, cfg.FormSweepInterval)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("laundry POS backend listening", "addr", cfg.Address(), "env", cfg.AppEnv,
			"cuci_free_products", flags.CuciFreeProducts, "ckl_free_products", flags.CKLFreeProducts)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	stopSweep()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// buildCatalogCache prefers Redis and falls back to a process-local cache
// when Redis is not configured or unreachable.
func buildCatalogCache(ctx context.Context, cfg config.Config) (cache.CatalogCache, func() error) {
	if cfg.RedisAddr == "" {
		log.Println("cache: memory")
		return cache.NewMemoryCatalogCache(), nil
	}
	redisCache := cache.NewRedisCatalogCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Printf("redis unavailable (%v), using memory cache", err)
		_ = redisCache.Close()
		return cache.NewMemoryCatalogCache(), nil
	}
	log.Println("cache: redis")
	return redisCache, redisCache.Close
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if err := validateSecretStrength(cfg.AuthSecret); err != nil {
		return fmt.Errorf("AUTH_SECRET is too weak: %w", err)
	}
	if cfg.Production() && strings.TrimSpace(cfg.AllowedOrigin) == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must not be * in production")
	}
	return nil
}

// validateSecretStrength rejects placeholder secrets, secrets built from a
// single repeated character and secrets with very few distinct characters.
func validateSecretStrength(secret string) error {
	lower := strings.ToLower(secret)
	for _, placeholder := range []string{"change-me", "changeme", "dev-secret", "password", "secret-key"} {
		if strings.Contains(lower, placeholder) {
			return fmt.Errorf("placeholder secret not allowed")
		}
	}

	distinct := make(map[rune]struct{})
	for _, r := range secret {
		distinct[r] = struct{}{}
	}
	if len(distinct) == 1 {
		return fmt.Errorf("single-character secret not allowed")
	}
	if len(distinct) < 8 {
		return fmt.Errorf("secret needs at least 8 distinct characters")
	}
	return nil
}
