// Package http exposes the console API over chi.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/skyporthq/skyport/internal/config"
	"github.com/skyporthq/skyport/internal/credentials"
	"github.com/skyporthq/skyport/internal/lib/httperr"
	"github.com/skyporthq/skyport/internal/lifecycle"
	"github.com/skyporthq/skyport/internal/logging"
	"github.com/skyporthq/skyport/internal/monitoring"
	"github.com/skyporthq/skyport/internal/provider"
	"github.com/skyporthq/skyport/internal/security"
	"github.com/skyporthq/skyport/internal/store"
	"github.com/skyporthq/skyport/pkg/types"
)

const (
	version                 = "0.1.0"
	authContextKey          = contextKey("auth")
	defaultTokenTTL         = 60 * time.Minute
	maxBodyBytes      int64 = 1 << 20 // 1MB
	otelServiceName         = "skyport-api"
)

type contextKey string

// Server exposes the HTTP handlers for the console API.
type Server struct {
	store         store.Store
	reconciler    *store.Reconciler
	registry      *provider.Registry
	lifecycle     *lifecycle.Manager
	engine        *monitoring.Engine
	notify        func(types.Event)
	requireAuth   bool
	signingKey    []byte
	encryptionKey []byte
	rateLimitRPM  int
}

// Deps carries the collaborators the server routes to.
type Deps struct {
	Store      store.Store
	Reconciler *store.Reconciler
	Registry   *provider.Registry
	Lifecycle  *lifecycle.Manager
	Engine     *monitoring.Engine
	Notify     func(types.Event)
}

// NewServer builds a Server from configuration and collaborators.
func NewServer(cfg *config.Config, d Deps) *Server {
	notify := d.Notify
	if notify == nil {
		notify = func(types.Event) {}
	}
	return &Server{
		store:         d.Store,
		reconciler:    d.Reconciler,
		registry:      d.Registry,
		lifecycle:     d.Lifecycle,
		engine:        d.Engine,
		notify:        notify,
		requireAuth:   cfg.Auth.RequireAuth,
		signingKey:    []byte(cfg.Auth.SigningKey),
		encryptionKey: []byte(cfg.Auth.EncryptionKey),
		rateLimitRPM:  cfg.Server.RateLimitRPM,
	}
}

// Router returns the configured HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.rateLimitRPM > 0 {
		r.Use(httprate.LimitByIP(s.rateLimitRPM, time.Minute))
	}
	r.Use(otelhttp.NewMiddleware(otelServiceName))
	r.Use(s.logMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/healthz", s.healthz)
		api.Get("/readyz", s.readyz)
		api.Get("/version", s.versionInfo)

		api.Post("/tokens", s.issueToken)
		api.With(s.authMiddleware).Get("/me", s.me)

		api.With(s.authMiddleware).Route("/catalog/{provider}", func(r chi.Router) {
			r.Get("/resource-types", s.catalogResourceTypes)
			r.Get("/sizes", s.catalogSizes)
			r.Get("/regions", s.catalogRegions)
		})

		api.With(s.authMiddleware).Route("/accounts", func(r chi.Router) {
			r.Get("/", s.listAccounts)
			r.Post("/", s.connectAccount)
			r.Route("/{accountID}", func(r chi.Router) {
				r.Get("/", s.getAccount)
				r.Delete("/", s.deleteAccount)
				r.Get("/resources", s.listResources)
				r.Post("/resources", s.provisionResource)
				r.Get("/costs", s.accountCosts)
				r.Get("/recommendations", s.listRecommendations)
			})
			r.Post("/{accountID}:sync", s.syncAccount)
			r.Post("/{accountID}:test", s.testAccount)
		})

		api.With(s.authMiddleware).Route("/resources", func(r chi.Router) {
			r.Route("/{resourceID}", func(r chi.Router) {
				r.Get("/", s.getResource)
				r.Get("/metrics", s.resourceMetrics)
			})
			r.Post("/{resourceID}:start", s.resourceAction(lifecycle.ActionStart))
			r.Post("/{resourceID}:stop", s.resourceAction(lifecycle.ActionStop))
			r.Post("/{resourceID}:restart", s.resourceAction(lifecycle.ActionRestart))
			r.Post("/{resourceID}:delete", s.resourceAction(lifecycle.ActionDelete))
		})

		api.With(s.authMiddleware).Post("/metrics:aggregate", s.aggregateMetrics)

		api.With(s.authMiddleware).Route("/recommendations", func(r chi.Router) {
			r.Post("/{recID}:apply", s.recommendationAction(types.RecommendationApplied))
			r.Post("/{recID}:dismiss", s.recommendationAction(types.RecommendationDismissed))
		})
	})

	return r
}

// StartHTTP listens and serves until the context is canceled.
func StartHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		_ = srv.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		reqLogger := logging.L.With(zap.String("request_id", middleware.GetReqID(r.Context())))
		spanCtx := trace.SpanContextFromContext(r.Context())
		if spanCtx.IsValid() {
			reqLogger = reqLogger.With(zap.String("trace_id", spanCtx.TraceID().String()))
		}
		r = r.WithContext(logging.WithLogger(r.Context(), reqLogger))

		next.ServeHTTP(ww, r)
		reqLogger.Info("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth {
			rolesHeader := r.Header.Get("X-SP-Roles")
			roles := []string{}
			if rolesHeader != "" {
				for _, part := range strings.Split(rolesHeader, ",") {
					if trimmed := strings.TrimSpace(part); trimmed != "" {
						roles = append(roles, trimmed)
					}
				}
			}
			ctx := context.WithValue(r.Context(), authContextKey, &AuthContext{
				Subject: "anonymous",
				Roles:   roles,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "SP-401", "missing bearer token")
			return
		}
		tokenStr := strings.TrimPrefix(authz, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return s.signingKey, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "SP-401", "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "SP-401", "invalid token claims")
			return
		}
		roles := []string{}
		if raw, ok := claims["roles"].([]any); ok {
			for _, role := range raw {
				if str, ok := role.(string); ok {
					roles = append(roles, str)
				}
			}
		}
		subject, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), authContextKey, &AuthContext{
			Subject: subject,
			Roles:   roles,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type AuthContext struct {
	Subject string
	Roles   []string
}

func (s *Server) authContext(ctx context.Context) *AuthContext {
	if v, ok := ctx.Value(authContextKey).(*AuthContext); ok && v != nil {
		return v
	}
	return &AuthContext{Subject: "anonymous", Roles: []string{}}
}

func (s *Server) requireRole(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	if !s.requireAuth {
		return true
	}
	auth := s.authContext(r.Context())
	for _, role := range auth.Roles {
		for _, allowedRole := range allowed {
			if role == allowedRole {
				return true
			}
		}
	}
	writeError(w, http.StatusForbidden, "SP-403", "forbidden")
	return false
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "SP-500", "store not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	if len(s.signingKey) == 0 {
		writeError(w, http.StatusInternalServerError, "SP-500", "signing key not configured")
		return
	}
	var req TokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "SP-400", err.Error())
		return
	}
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "SP-400", "subject is required")
		return
	}
	ttl := defaultTokenTTL
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}
	exp := time.Now().Add(ttl)
	claims := jwt.MapClaims{
		"sub":    req.Subject,
		"roles":  req.Roles,
		"exp":    exp.Unix(),
		"issued": time.Now().Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signingKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SP-500", "could not sign token")
		return
	}
	writeJSON(w, http.StatusCreated, TokenResponse{
		Token:     signed,
		ExpiresAt: exp,
	})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	auth := s.authContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"subject": auth.Subject,
		"roles":   auth.Roles,
	})
}

// credentialsFor decrypts the stored credential bundle for an account. The
// account id is the AAD, binding ciphertext to its owner.
func (s *Server) credentialsFor(ctx context.Context, accountID string) (credentials.Bundle, error) {
	enc, err := s.reconciler.Credentials(ctx, accountID)
	if err != nil {
		return nil, err
	}
	raw, err := security.Decrypt(s.encryptionKey, enc, []byte(accountID))
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	var bundle credentials.Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

// Request DTOs
type TokenRequest struct {
	Subject    string   `json:"subject"`
	Roles      []string `json:"roles"`
	TTLMinutes int      `json:"ttlMinutes"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// pathID reads a UUID path parameter and rejects malformed or zero values
// with 400 before any store lookup.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id, err := types.ParseID(chi.URLParam(r, name))
	if err != nil || types.IsZeroID(id) {
		writeError(w, http.StatusBadRequest, "SP-400", "invalid "+name)
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	httperr.Write(w, status, code, msg)
}
