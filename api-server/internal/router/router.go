package router

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rshare/ride-booking-system/api-server/internal/auth"
	"github.com/rshare/ride-booking-system/api-server/internal/handlers"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configure the middleware around the API
type Options struct {
	AllowedOrigin     string
	MaxRequestsPerMin int
	Logger            *zap.Logger
}

// NewRouter creates and configures the HTTP router
func NewRouter(h *handlers.Handler, tokens *auth.SessionTokens, opts Options) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := mux.NewRouter()

	r.Use(accessLog(logger))
	r.Use(corsMiddleware(opts.AllowedOrigin))
	if opts.MaxRequestsPerMin > 0 {
		r.Use(newIPRateLimiter(opts.MaxRequestsPerMin, logger).Middleware)
	}

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/country-codes", h.CountryCodes).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions", h.CreateSession).Methods(http.MethodPost, http.MethodOptions)

	// Session routes need the session's token
	session := api.PathPrefix("/sessions/{id}").Subrouter()
	session.Use(tokens.Middleware(handlers.AuthError))

	session.HandleFunc("", h.GetSession).Methods(http.MethodGet, http.MethodOptions)
	session.HandleFunc("", h.CancelSession).Methods(http.MethodDelete, http.MethodOptions)

	// Login
	session.HandleFunc("/login/code", h.RequestCode).Methods(http.MethodPost, http.MethodOptions)
	session.HandleFunc("/login/verify", h.VerifyCode).Methods(http.MethodPost, http.MethodOptions)
	session.HandleFunc("/login/reset", h.ResetLogin).Methods(http.MethodPost, http.MethodOptions)
	session.HandleFunc("/login/federated", h.FederatedSignIn).Methods(http.MethodPost, http.MethodOptions)

	// Trip, vehicles and seats
	session.HandleFunc("/trip", h.SubmitTrip).Methods(http.MethodPost, http.MethodOptions)
	session.HandleFunc("/vehicles/sort", h.SortVehicles).Methods(http.MethodPost, http.MethodOptions)
	session.HandleFunc("/vehicles/{vehicleId}/select", h.SelectVehicle).Methods(http.MethodPost, http.MethodOptions)
	session.HandleFunc("/seats/confirm", h.ConfirmSeats).Methods(http.MethodPost, http.MethodOptions)
	session.HandleFunc("/seats/{seatId}/toggle", h.ToggleSeat).Methods(http.MethodPost, http.MethodOptions)

	// Summary and payment
	session.HandleFunc("/summary/proceed", h.ProceedToPayment).Methods(http.MethodPost, http.MethodOptions)
	session.HandleFunc("/payment/method", h.SelectPaymentMethod).Methods(http.MethodPut, http.MethodOptions)
	session.HandleFunc("/payment/details", h.UpdatePaymentDetails).Methods(http.MethodPut, http.MethodOptions)
	session.HandleFunc("/payment/submit", h.SubmitPayment).Methods(http.MethodPost, http.MethodOptions)
	session.HandleFunc("/back", h.Back).Methods(http.MethodPost, http.MethodOptions)
	session.HandleFunc("/receipt", h.GetReceipt).Methods(http.MethodGet, http.MethodOptions)

	// WebSocket for real-time updates
	session.HandleFunc("/ws", h.SessionWebSocket).Methods(http.MethodGet)

	// Health check
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	return r
}

func corsMiddleware(allowedOrigin string) mux.MiddlewareFunc {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder remembers the status written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the recorder
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func accessLog(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", clientIP(r)))
		})
	}
}

// ipRateLimiter holds a token bucket per client IP
type ipRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	logger   *zap.Logger
}

func newIPRateLimiter(perMinute int, logger *zap.Logger) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		logger:   logger,
	}
}

func (l *ipRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter
}

func (l *ipRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.get(ip).Allow() {
			l.logger.Warn("Rate limit exceeded", zap.String("ip", ip))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded. Try again later."}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
