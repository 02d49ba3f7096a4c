package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Helpers
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		vLower := strings.ToLower(v)
		return vLower == "1" || vLower == "true" || vLower == "yes" || vLower == "on"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// getEnvQuota reads a "max/window" pair such as "10/5m".
func getEnvQuota(key string, fallback QuotaRule) QuotaRule {
	if v := os.Getenv(key); v != "" {
		if rule, ok := ParseQuotaRule(v); ok {
			return rule
		}
	}
	return fallback
}

// ParseQuotaRule parses "max/window". Both parts must be positive.
func ParseQuotaRule(v string) (QuotaRule, bool) {
	parts := strings.SplitN(strings.TrimSpace(v), "/", 2)
	if len(parts) != 2 {
		return QuotaRule{}, false
	}
	maxRequests, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || maxRequests <= 0 {
		return QuotaRule{}, false
	}
	window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil || window <= 0 {
		return QuotaRule{}, false
	}
	return QuotaRule{MaxRequests: maxRequests, Window: window}, true
}

// GetAllSettings returns the non-secret settings currently loaded in memory.
func GetAllSettings() map[string]any {
	if Global == nil {
		return map[string]any{}
	}
	return map[string]any{
		"app_version":                Global.App.Version,
		"app_debug":                  Global.App.Debug,
		"ai_provider":                Global.AI.Provider,
		"pipeline_max_upload_bytes":  Global.Pipeline.MaxUploadBytes,
		"pipeline_max_dimension":     Global.Pipeline.MaxDimension,
		"pipeline_transform_timeout": Global.Pipeline.TransformTimeout.String(),
		"cache_capacity":             Global.Cache.Capacity,
		"session_timeout":            Global.Session.Timeout.String(),
		"valkey_enabled":             Global.Database.ValkeyEnabled,
	}
}
