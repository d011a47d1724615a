package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"nutriplan/internal/nutrition"
)

type Cache struct {
	// Debounce is how long the refresher waits after the first invalidation to absorb a burst.
	Debounce time.Duration
	// StaleAfter is the staleness bound reported to readers.
	StaleAfter     time.Duration
	RefreshTimeout time.Duration
}

type Config struct {
	Port         string
	DatabaseURL  string
	JWTSecret    string
	LogMode      string
	RedisAddr    string
	RedisChannel string
	Cache        Cache
	Guardrails   nutrition.Guardrails
}

func getenv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return f, nil
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:         getenv("PORT", "8080"),
		DatabaseURL:  getenv("DATABASE_URL", ""),
		JWTSecret:    getenv("JWT_SECRET", ""),
		LogMode:      getenv("LOG_MODE", "development"),
		RedisAddr:    getenv("REDIS_ADDR", ""),
		RedisChannel: getenv("REDIS_CHANNEL", "nutrition-invalidation"),
		Guardrails:   nutrition.DefaultGuardrails(),
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}

	var err error
	if cfg.Cache.Debounce, err = durationEnv("CACHE_DEBOUNCE", 250*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.Cache.StaleAfter, err = durationEnv("CACHE_STALE_AFTER", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Cache.RefreshTimeout, err = durationEnv("CACHE_REFRESH_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}

	g := &cfg.Guardrails
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"GUARD_MAX_CALORIES", &g.MaxCalories},
		{"GUARD_MAX_PROTEIN_G", &g.MaxProteinG},
		{"GUARD_MAX_CARBS_G", &g.MaxCarbsG},
		{"GUARD_MAX_FAT_G", &g.MaxFatG},
		{"GUARD_CALORIE_TOLERANCE", &g.CalorieTolerance},
		{"GUARD_DUPLICATE_SIMILARITY", &g.DuplicateSimilarity},
	} {
		if *f.dst, err = floatEnv(f.key, *f.dst); err != nil {
			return Config{}, err
		}
	}
	if g.DuplicateSimilarity > 1 {
		return Config{}, fmt.Errorf("GUARD_DUPLICATE_SIMILARITY must be within [0,1]")
	}
	return cfg, nil
}
