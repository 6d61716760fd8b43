// Package config reads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DBPath        string
	CacheSize     int
	FlushInterval time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// Load reads .env when present, then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env vars")
	} else {
		log.Println("Loaded environment variables from .env")
	}
	return FromEnv()
}

// FromEnv builds a Config from the environment alone. Unparseable values
// fall back to their defaults.
func FromEnv() Config {
	return Config{
		Port:          getEnv("PORT", "8080"),
		DBPath:        getEnv("SKETCHD_DB_PATH", "sketchd.sqlite"),
		CacheSize:     atoiDefault("SKETCHD_CACHE_SIZE", 256),
		FlushInterval: durationDefault("SKETCHD_FLUSH_INTERVAL", 30*time.Second),
		ReadTimeout:   durationDefault("SKETCHD_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  durationDefault("SKETCHD_WRITE_TIMEOUT", 60*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func atoiDefault(key string, defaultValue int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		log.Printf("invalid %s=%q, using %d", key, s, defaultValue)
		return defaultValue
	}
	return v
}

func durationDefault(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(s)
	if err != nil || v < 0 {
		log.Printf("invalid %s=%q, using %s", key, s, defaultValue)
		return defaultValue
	}
	return v
}
