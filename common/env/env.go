// Package env provides typed helpers for reading configuration from the
// process environment.
package env

import (
	"os"
	"strconv"
	"time"
)

// Bool returns the boolean value of the environment variable named by key,
// or defaultValue when the variable is unset or unparseable.
func Bool(key string, defaultValue bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

// Int returns the integer value of the environment variable named by key,
// or defaultValue when the variable is unset or unparseable.
func Int(key string, defaultValue int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

// Float64 returns the float value of the environment variable named by key,
// or defaultValue when the variable is unset or unparseable.
func Float64(key string, defaultValue float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultValue
	}
	return v
}

// String returns the value of the environment variable named by key, or
// defaultValue when the variable is unset.
func String(key string, defaultValue string) string {
	if raw, ok := os.LookupEnv(key); ok {
		return raw
	}
	return defaultValue
}

// Duration reads the environment variable named by key as a number of
// milliseconds, returning defaultValue when unset or unparseable.
func Duration(key string, defaultValue time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}
