package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/library-circulation/internal/config"
)

// cachedResponse is the stored form of a catalog response.  Header and
// body travel together so a cache hit replays the exact bytes the
// handler produced.  Body is base64-encoded by encoding/json.
type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// teeWriter forwards writes to the client while keeping a bounded copy
// for the cache.  When the copy would exceed the limit the response is
// still served in full but is no longer eligible for storage.
type teeWriter struct {
	http.ResponseWriter
	status  int
	copied  bytes.Buffer
	written int64
	limit   int64
}

func (w *teeWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.written += int64(len(b))
	if w.limit <= 0 || w.written <= w.limit {
		w.copied.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *teeWriter) cacheable() bool {
	return w.status == http.StatusOK && (w.limit <= 0 || w.written <= w.limit)
}

// catalogCacheKey hashes the request identity into a short key under the
// configured prefix.  The strategy decides how much of the request takes
// part: book searches need the query string, plain detail routes do not.
func catalogCacheKey(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()

	var ident string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		ident = c.Path()
	case "method_route":
		ident = r.Method + " " + c.Path()
	case "method_route_query":
		ident = r.Method + " " + c.Path() + "?" + r.URL.RawQuery
	default: // "route_query"
		ident = c.Path() + "?" + r.URL.RawQuery
	}

	sum := sha1.Sum([]byte(ident))
	return fmt.Sprintf("%s:%x", cfg.Prefix, sum[:])
}

// NewRedisCache caches successful GET responses in Redis.  It is applied
// to the public catalog routes, where book listings are read-heavy and a
// short TTL of staleness is acceptable.  With no Redis client the
// middleware is a pass-through.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
				return next(c)
			}

			ctx := c.Request().Context()
			key := catalogCacheKey(cfg, c)

			if raw, err := rdb.Get(ctx, key).Bytes(); err == nil {
				var cached cachedResponse
				if json.Unmarshal(raw, &cached) == nil && cached.Status != 0 {
					for k, vals := range cached.Header {
						if strings.EqualFold(k, "Content-Length") {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(cached.Status)
					if len(cached.Body) > 0 {
						_, _ = c.Response().Write(cached.Body)
					}
					return nil
				}
			}

			tee := &teeWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: int64(cfg.MaxBodyBytes)}
			c.Response().Writer = tee
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}

			if tee.cacheable() {
				hdr := make(http.Header, len(c.Response().Header()))
				for k, vals := range c.Response().Header() {
					hdr[k] = append([]string(nil), vals...)
				}
				raw, err := json.Marshal(cachedResponse{Status: tee.status, Header: hdr, Body: tee.copied.Bytes()})
				if err == nil {
					_ = rdb.SetEx(context.Background(), key, raw, ttl).Err()
				}
			}
			return nil
		}
	}
}
