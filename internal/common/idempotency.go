package common

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	redis "github.com/redis/go-redis/v9"
)

// IdempotencyHeader is the request header carrying the client's retry key.
const IdempotencyHeader = "Idempotency-Key"

// Idem rejects a second write carrying the same Idempotency-Key for the same
// caller, method and path while the first one's key is held in Redis.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

func idemKey(r *http.Request, key string) string {
	user, _ := UserID(r.Context())
	if user == "" {
		user = "ip:" + ClientIP(r)
	}
	return ScopedKey("idem", user, r.Method, r.URL.Path, key)
}

// Middleware answers 409 IDEMPOTENT_REPLAY for a repeated key. Requests
// without the header pass through. A 5xx response frees the key so the
// client may retry.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := idemKey(r, header)
		fresh, err := i.R.SetNX(r.Context(), key, "pending", i.TTL).Result()
		if err != nil {
			JSONError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "idempotency store unavailable", nil)
			return
		}
		if !fresh {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		release := true
		defer func() {
			if !release {
				return
			}
			_ = i.R.Del(context.WithoutCancel(r.Context()), key).Err()
		}()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		release = status >= http.StatusInternalServerError
		if !release {
			_ = i.R.Set(context.WithoutCancel(r.Context()), key, status, i.TTL).Err()
		}
	})
}
