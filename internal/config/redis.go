package config

import (
	"context"
	"crypto/tls"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the API rate limiter and the catalog response cache.
// Both features degrade to pass-through when no server is reachable,
// so the constructor returns nil instead of failing startup.

// redisAddr resolves the server address.  REDIS_HOST/REDIS_PORT win
// over REDIS_ADDR when both are present; with neither set the local
// default applies.
func redisAddr() string {
	host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")
	if host != "" && port != "" {
		return host + ":" + port
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// NewRedisClient connects using REDIS_* environment variables
// (REDIS_PASSWORD, REDIS_DB, REDIS_TLS besides the address ones) and
// verifies the connection with a short ping.  Returns nil on failure.
func NewRedisClient() *redis.Client {
	var tlsConf *tls.Config
	if v := os.Getenv("REDIS_TLS"); v == "1" || strings.EqualFold(v, "true") {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}

	client := redis.NewClient(&redis.Options{
		Addr:      redisAddr(),
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        envInt("REDIS_DB", 0),
		TLSConfig: tlsConf,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil
	}
	return client
}
