// Package middleware holds echo middleware shared by the invoice routes.
package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Header names shared with the HTTP handlers.
const (
	HeaderRequestID = "Ax-Request-Id"
	HeaderRequestAt = "Ax-Request-At"
	HeaderUserID    = "Ax-User-Id"
	// HeaderReplayed is set on responses served from the idempotency store.
	HeaderReplayed = "Idempotent-Replayed"
)

const (
	// a reservation outlives any handler; it is overwritten or deleted when the handler returns
	reservationTTL = 60 * time.Second
	// allowed drift of Ax-Request-At against the server clock
	maxClockSkew   = 10 * time.Minute
	defaultTTL     = 5 * time.Minute
	defaultMaxBody = 32 << 20
	storeTimeout   = 2 * time.Second
)

var errBodyTooLarge = errors.New("request body too large")

type IdempotencyConfig struct {
	Redis *redis.Client
	// TTL keeps finished responses replayable; defaults to 5m.
	TTL time.Duration
	// DefaultActor keys requests that carry no Ax-User-Id.
	DefaultActor string
	// MaxBodyBytes caps how much of a request body is buffered for hashing.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Idempotency makes mutating requests safe to retry. Each request is keyed on
// method, request path, user and Ax-Request-Id. The first one runs and its
// response is stored; a retry with the same body gets the stored response, a
// retry with a different body or while the first is still running gets 409.
// Responses of 500 and above are dropped so the client can retry them.
func Idempotency(cfg IdempotencyConfig) echo.MiddlewareFunc {
	st := &store{rdb: cfg.Redis, ttl: cfg.TTL}
	if st.ttl <= 0 {
		st.ttl = defaultTTL
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			switch req.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}

			rk, msg := readRequestKey(req, cfg.DefaultActor)
			if msg != "" {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
			}

			body, err := readCapped(req.Body, maxBody)
			switch {
			case errors.Is(err, errBodyTooLarge):
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
			case err != nil:
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			}
			req.Body = io.NopCloser(bytes.NewReader(body))

			key := buildKey(req.Method, req.URL.Path, rk.userID, rk.requestID)
			rec := record{
				BodyHash:  bodyHash(body),
				UserID:    rk.userID,
				RequestAt: rk.at,
				StoredAt:  nowUTC(),
			}

			ctx, cancel := context.WithTimeout(req.Context(), storeTimeout)
			defer cancel()
			fresh, err := st.reserve(ctx, key, rec)
			if err != nil {
				logger.WarnContext(ctx, "idempotency reserve", slog.String("key", key), slog.Any("error", err))
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "idempotency store unavailable"})
			}
			if !fresh {
				return replay(c, logger, st, key, rec.BodyHash)
			}

			capture := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK}
			c.Response().Writer = capture
			if err := next(c); err != nil {
				c.Error(err)
			}

			// detached from the request so a client hang-up still settles the key
			sctx, scancel := context.WithTimeout(context.Background(), storeTimeout)
			defer scancel()
			if capture.status >= http.StatusInternalServerError {
				if err := st.release(sctx, key); err != nil {
					logger.WarnContext(sctx, "idempotency release", slog.String("key", key), slog.Any("error", err))
				}
				return nil
			}
			rec.Done = true
			rec.Status = capture.status
			rec.ContentType = capture.Header().Get(echo.HeaderContentType)
			rec.Body = capture.body.Bytes()
			if err := st.complete(sctx, key, rec); err != nil {
				logger.WarnContext(sctx, "idempotency complete", slog.String("key", key), slog.Any("error", err))
			}
			return nil
		}
	}
}

func replay(c echo.Context, logger *slog.Logger, st *store, key, bodyHash string) error {
	ctx := c.Request().Context()
	cur, err := st.load(ctx, key)
	if err != nil {
		// the reservation expired or was released between reserve and load
		logger.WarnContext(ctx, "idempotency load", slog.String("key", key), slog.Any("error", err))
		return c.JSON(http.StatusConflict, map[string]string{"error": "request is already in progress"})
	}
	if cur.BodyHash != bodyHash {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Ax-Request-Id reused with different body"})
	}
	if !cur.Done {
		return c.JSON(http.StatusConflict, map[string]string{"error": "request is already in progress"})
	}
	ct := cur.ContentType
	if ct == "" {
		ct = echo.MIMEApplicationJSONCharsetUTF8
	}
	c.Response().Header().Set(HeaderReplayed, "true")
	return c.Blob(cur.Status, ct, cur.Body)
}

type requestKey struct {
	requestID string
	userID    string
	at        time.Time
}

// readRequestKey validates the idempotency headers; msg is the 400 message
// when they are unusable.
func readRequestKey(req *http.Request, defaultActor string) (requestKey, string) {
	var rk requestKey
	rk.requestID = strings.TrimSpace(req.Header.Get(HeaderRequestID))
	if rk.requestID == "" {
		return rk, "missing Ax-Request-Id"
	}
	if !validReqID(rk.requestID) {
		return rk, "invalid Ax-Request-Id format"
	}

	at, err := parseAxRequestAt(req.Header.Get(HeaderRequestAt))
	if err != nil {
		return rk, err.Error()
	}
	if now := nowUTC(); at.Before(now.Add(-maxClockSkew)) || at.After(now.Add(maxClockSkew)) {
		return rk, "Ax-Request-At too skewed"
	}
	rk.at = at

	rk.userID = strings.TrimSpace(req.Header.Get(HeaderUserID))
	switch {
	case rk.userID == "":
		rk.userID = defaultActor
	case !ValidUserID(rk.userID):
		return rk, "invalid Ax-User-Id"
	}
	return rk, ""
}

// readCapped reads at most limit bytes of r and fails with errBodyTooLarge
// beyond that.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, errBodyTooLarge
	}
	return b, nil
}

// captureWriter tees the response so it can be stored after the handler ran.
type captureWriter struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
