package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

type ctxKey int

const (
	keyRequest ctxKey = iota
	keyActor
)

// requestInfo заполняется по мере прохождения middleware и читается логом запроса.
type requestInfo struct {
	id    string
	actor string
}

func requestID(ctx context.Context) string {
	if info, ok := ctx.Value(keyRequest).(*requestInfo); ok {
		return info.id
	}
	return ""
}

// ActorFrom: идентификатор пользователя, установленный middleware.
func ActorFrom(ctx context.Context) string {
	s, _ := ctx.Value(keyActor).(string)
	return s
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestLog проставляет X-Request-ID и пишет строку лога на каждый запрос.
func withRequestLog(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		info := &requestInfo{id: id}
		r = r.WithContext(context.WithValue(r.Context(), keyRequest, info))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method, "path", r.URL.Path, "status", rec.status,
			"latency", time.Since(start), "request_id", id, "actor", info.actor,
		}
		switch {
		case rec.status >= 500:
			log.Error("http request", attrs...)
		case rec.status >= 400:
			log.Warn("http request", attrs...)
		default:
			log.Info("http request", attrs...)
		}
	})
}

var errNoToken = errors.New("missing bearer token")

// parseSubject проверяет HS256-токен и возвращает sub.
func parseSubject(header string, secret []byte) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errNoToken
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method " + t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// withActor: при заданном секрете нужен JWT, иначе берётся заголовок X-Actor-ID.
func withActor(secret []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
		if len(secret) > 0 {
			sub, err := parseSubject(r.Header.Get("Authorization"), secret)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: err.Error()})
				return
			}
			actor = sub
		}
		if info, ok := r.Context().Value(keyRequest).(*requestInfo); ok {
			info.actor = actor
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyActor, actor)))
	})
}

// newRateLimit: лимит в формате ulule ("30-M"); пустая строка отключает лимит.
func newRateLimit(formatted string) (func(http.Handler) http.Handler, error) {
	if strings.TrimSpace(formatted) == "" {
		return func(h http.Handler) http.Handler { return h }, nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	mw := stdlib.NewMiddleware(limiter.New(memory.NewStore(), rate))
	return mw.Handler, nil
}
