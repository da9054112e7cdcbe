package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	AllowedOrigin      string
	AppEnv             string
	LogFile            string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	DefaultBranchID    string
	AuthSecret         string
	AccessTokenTTL     time.Duration
	CuciFreeProducts   bool
	CKLFreeProducts    bool
	SoftenerProductID  string
	DetergentProductID string
	CatalogCacheTTL    time.Duration
	WashesPerFree      int
	DraftConflictClear time.Duration
	FormSessionTTL     time.Duration
	FormSweepInterval  time.Duration
}

// Load reads the process environment. A .env file in the working directory
// fills keys that are not already set.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env")
	}

	return Config{
		Port:               getEnv("PORT", "8080"),
		AllowedOrigin:      getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		AppEnv:             getEnv("APP_ENV", "development"),
		LogFile:            strings.TrimSpace(os.Getenv("LOG_FILE")),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getInt("REDIS_DB", 0, 0),
		DefaultBranchID:    getEnv("DEFAULT_BRANCH_ID", "cabang-1"),
		AuthSecret:         strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTL:     time.Duration(getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1)) * time.Minute,
		CuciFreeProducts:   getBool("ENABLE_CUCI_FREE_PRODUCTS", false),
		CKLFreeProducts:    getBool("ENABLE_CKL_FREE_PRODUCTS", false),
		SoftenerProductID:  strings.TrimSpace(os.Getenv("FREE_SOFTENER_PRODUCT_ID")),
		DetergentProductID: strings.TrimSpace(os.Getenv("FREE_DETERGENT_PRODUCT_ID")),
		CatalogCacheTTL:    time.Duration(getInt("CATALOG_CACHE_TTL_HOURS", 8, 1)) * time.Hour,
		WashesPerFree:      getInt("LOYALTY_WASHES_PER_FREE", 10, 1),
		DraftConflictClear: time.Duration(getInt("DRAFT_CONFLICT_CLEAR_SECONDS", 5, 1)) * time.Second,
		FormSessionTTL:     time.Duration(getInt("FORM_SESSION_TTL_MINUTES", 120, 1)) * time.Minute,
		FormSweepInterval:  time.Minute,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back when the value is missing, malformed or below min.
func getInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(strings.TrimSpace(getEnv(key, strconv.Itoa(fallback))))
	if err != nil || val < min {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("[config] WARN: %s=%q is not a boolean, using %t", key, raw, fallback)
		return fallback
	}
	return val
}
