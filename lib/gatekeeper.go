package lib

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gatekeeper-auth/gatekeeper/internal"
	"github.com/gatekeeper-auth/gatekeeper/lib/auth"
	"github.com/gatekeeper-auth/gatekeeper/lib/password"
	"github.com/gatekeeper-auth/gatekeeper/lib/token"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_http_requests_total",
		Help: "The total number of API requests by handler and status code",
	}, []string{"handler", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatekeeper_http_request_duration_seconds",
		Help:    "API request latency by handler",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	healthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_health_checks_total",
		Help: "The total number of health checks by reported status",
	}, []string{"status"})
)

// healthTimeout bounds how long /health waits for the user store.
const healthTimeout = 2 * time.Second

type Server struct {
	handler http.Handler
	auth    *auth.Service
	opts    Options
}

type healthResponse struct {
	Status string `json:"status"`
	DBOK   bool   `json:"db_ok"`
}

// Health always answers 200. The body says whether the user store is
// reachable, so that load balancers can tell a live but degraded instance from
// a dead one.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", DBOK: true}
	if err := s.auth.Ready(ctx); err != nil {
		internal.GetRequestLogger(r).Warn("user store is not ready", "err", err)
		resp = healthResponse{Status: "degraded", DBOK: false}
	}
	healthChecks.WithLabelValues(resp.Status).Inc()

	s.respondWithJSON(w, r, http.StatusOK, resp)
}

type captchaResponse struct {
	CaptchaID   string `json:"captcha_id"`
	Image       string `json:"image"`
	ExpiresIn   int64  `json:"expires_in"`
	DebugAnswer string `json:"debug_answer,omitempty"`
}

func (s *Server) MakeCaptcha(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	chall, err := s.auth.IssueChallenge(r.Context())
	if err != nil {
		s.respondWithError(w, r, lg, err)
		return
	}

	resp := captchaResponse{
		CaptchaID: chall.ID,
		Image:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(chall.Image),
		ExpiresIn: int64(chall.TTL / time.Second),
	}
	if s.opts.DebugCaptcha {
		resp.DebugAnswer = chall.Answer
	}

	lg.Debug("captcha issued", "captcha_id", chall.ID)
	w.Header().Set("Cache-Control", "no-store")
	s.respondWithJSON(w, r, http.StatusOK, resp)
}

type verifyRequest struct {
	CaptchaID string `json:"captcha_id"`
	Code      string `json:"code"`
}

type verifyResponse struct {
	OK bool `json:"ok"`
}

// VerifyCaptcha answers a captcha on its own. A body that can't be decoded is
// reported the same as a wrong answer.
func (s *Server) VerifyCaptcha(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		internal.GetRequestLogger(r).Debug("can't decode captcha verification", "err", err)
		s.respondWithJSON(w, r, http.StatusOK, verifyResponse{OK: false})
		return
	}

	s.respondWithJSON(w, r, http.StatusOK, verifyResponse{OK: s.auth.VerifyChallenge(req.CaptchaID, req.Code)})
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req auth.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		lg.Debug("can't decode registration", "err", err)
		s.respondWithMessage(w, r, http.StatusBadRequest, auth.MsgInvalidJSON)
		return
	}

	lg = lg.With("account", internal.FastHash(req.Username))

	tok, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.respondWithError(w, r, lg, err)
		return
	}

	lg.Info("account registered")
	w.Header().Set("Cache-Control", "no-store")
	s.respondWithJSON(w, r, http.StatusOK, tokenResponse{Token: tok})
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req auth.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		lg.Debug("can't decode login", "err", err)
		s.respondWithMessage(w, r, http.StatusBadRequest, auth.MsgInvalidJSON)
		return
	}

	lg = lg.With("account", internal.FastHash(req.Account))

	tok, err := s.auth.Login(r.Context(), req)
	if err != nil {
		s.respondWithError(w, r, lg, err)
		return
	}

	lg.Debug("login succeeded")
	w.Header().Set("Cache-Control", "no-store")
	s.respondWithJSON(w, r, http.StatusOK, tokenResponse{Token: tok})
}

func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	id, err := s.auth.WhoAmI(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		if reason := tokenFailureReason(err); reason != "" {
			lg = lg.With("reason", reason)
		}
		s.respondWithError(w, r, lg, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	s.respondWithJSON(w, r, http.StatusOK, id)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// tokenFailureReason names why a bearer token was rejected, for logs only.
func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrSignatureInvalid):
		return "signature"
	case errors.Is(err, token.ErrMalformed):
		return "malformed"
	default:
		return ""
	}
}

func logAuthError(lg *slog.Logger, err error) {
	switch {
	case auth.KindOf(err) == auth.Internal:
		lg.Error("request failed", "err", err)
		return
	case errors.Is(err, password.ErrFormat):
		lg.Error("stored password hash is corrupt", "err", err)
		return
	}

	lg.Debug("request rejected", "err", err)
}
