package envutil

import (
	"fmt"
	"os"
	"strconv"
)

// GetEnvOrError gets the environment variable for the specified key, and returns
// an error if the key is not found.
func GetEnvOrError(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%q environment variable was not set", key)
	}
	return v, nil
}

// GetPort returns the port number to bind to from the PORT environment variable,
// or the default port (8080) if it has not been set.
func GetPort() string {
	return GetEnvOrFallback("PORT", "8080")
}

// GetEnvOrFallback gets the environment variable for the specified key, but if
// it doesn't find a value, it'll instead return fallback.
func GetEnvOrFallback(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		value = fallback
	}
	return value
}

// GetIntOrFallback is GetEnvOrFallback for integers. Values that don't parse
// fall back too.
func GetIntOrFallback(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
