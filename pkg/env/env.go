package env

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"strmdav/pkg/logger"
)

// LoadEnv loads environment variables from a .env file if one is present.
// A missing file is not an error; the process environment still applies.
func LoadEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}

	if err := godotenv.Load(".env"); err != nil {
		logger.Warn("Could not load .env: %v", err)
		return
	}

	logger.Debug("Environment variables loaded from .env")
}

// GetString returns the environment variable value or a default if not set
func GetString(key string, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	return value
}

// GetInt returns the environment variable value as int or a default if not set
func GetInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Warn("Environment variable %s is not a valid integer, using default value %d instead", key, defaultValue)
		return defaultValue
	}

	return value
}

// IsBool returns whether the environment variable is set to a truthy value
func IsBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	return value == "1" || value == "true" || value == "yes" || value == "y"
}
