package lib

import (
	"errors"
	"net/http"

	"github.com/gatekeeper-auth/gatekeeper"
	"github.com/gatekeeper-auth/gatekeeper/internal"
	"github.com/gatekeeper-auth/gatekeeper/lib/auth"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ErrNoAuthService = errors.New("lib: Options.Auth is required")

type Options struct {
	// Auth runs every register, login and whoami flow.
	Auth *auth.Service

	// DebugCaptcha includes the expected answer in captcha responses. Never
	// enable this in production.
	DebugCaptcha bool

	// GzipLevel is the compression level for responses. Zero means
	// gzip.DefaultCompression.
	GzipLevel int
}

func New(opts Options) (*Server, error) {
	if opts.Auth == nil {
		return nil, ErrNoAuthService
	}

	if opts.GzipLevel == 0 {
		opts.GzipLevel = gzip.DefaultCompression
	}

	result := &Server{
		auth: opts.Auth,
		opts: opts,
	}

	mux := http.NewServeMux()

	register := func(method, pattern, name string, handler http.HandlerFunc) {
		mux.Handle(method+" "+pattern, instrument(name, handler))
	}

	register(http.MethodGet, "/health", "health", result.Health)
	register(http.MethodGet, gatekeeper.APIPrefix+"captcha", "captcha", result.MakeCaptcha)
	register(http.MethodPost, gatekeeper.APIPrefix+"captcha/verify", "captcha_verify", result.VerifyCaptcha)
	register(http.MethodPost, gatekeeper.APIPrefix+"auth/register", "register", result.Register)
	register(http.MethodPost, gatekeeper.APIPrefix+"auth/login", "login", result.Login)
	register(http.MethodGet, gatekeeper.APIPrefix+"auth/me", "me", result.Me)

	result.handler = internal.GzipMiddleware(opts.GzipLevel, mux)

	return result, nil
}

func instrument(name string, h http.Handler) http.Handler {
	labels := prometheus.Labels{"handler": name}

	return promhttp.InstrumentHandlerDuration(
		requestDuration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(requestsTotal.MustCurryWith(labels), h),
	)
}
