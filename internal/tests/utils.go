package tests

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/google/uuid"
)

// GetDbConfigFromEnv reads the connection settings for the throwaway test databases.
func GetDbConfigFromEnv() *config.DatabaseConfig {
	port, err := strconv.Atoi(getEnvOrDefault("HISTORIC_CACHE_DATABASE_PORT", "5432"))
	if err != nil {
		port = 5432
	}
	return &config.DatabaseConfig{
		Host:     getEnvOrDefault("HISTORIC_CACHE_DATABASE_HOST", "localhost"),
		Port:     port,
		User:     getEnvOrDefault("HISTORIC_CACHE_DATABASE_USER", "postgres"),
		Password: os.Getenv("HISTORIC_CACHE_DATABASE_PASSWORD"),
		SSLMode:  getEnvOrDefault("HISTORIC_CACHE_DATABASE_SSL_MODE", "disable"),
	}
}

// GenerateTestDbName returns a unique, postgres-safe database name.
func GenerateTestDbName() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("test_%s", strings.ReplaceAll(id.String(), "-", "")), nil
}

func ReplaceEnv(newValues map[string]string, previousValues *map[string]string) {
	for k, v := range newValues {
		(*previousValues)[k] = os.Getenv(k)
		os.Setenv(k, v)
	}
}

func RestoreEnv(previousValues map[string]string) {
	for k, v := range previousValues {
		os.Setenv(k, v)
	}
}

func getEnvOrDefault(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
