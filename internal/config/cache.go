package config

import (
	"strings"
	"time"
)

// CacheConfig tunes the Redis response cache in front of the public
// catalog.  TTL bounds how stale a cached book listing may be; the key
// strategy decides which parts of the request name a cache entry, and
// MaxBodyBytes keeps oversized listings out of Redis entirely.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool
	TTL          time.Duration
	KeyStrategy  string
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig builds the cache settings from the environment,
// falling back to defaults that suit a read-heavy catalog: GET only,
// 30 second TTL, keys scoped by route and query string.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Methods:      parseMethodSet(envStr("CACHE_METHODS", "GET")),
		TTL:          envDur("CACHE_TTL", 30*time.Second),
		KeyStrategy:  envStr("CACHE_KEY_STRATEGY", "route_query"),
		Prefix:       envStr("CACHE_PREFIX", "cache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
	}
}

func parseMethodSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, m := range strings.Split(s, ",") {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m != "" {
			set[m] = true
		}
	}
	return set
}
