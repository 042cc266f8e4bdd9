package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatekeeper-auth/gatekeeper"
	"github.com/gatekeeper-auth/gatekeeper/internal"
	libgatekeeper "github.com/gatekeeper-auth/gatekeeper/lib"
	"github.com/gatekeeper-auth/gatekeeper/lib/auth"
	"github.com/gatekeeper-auth/gatekeeper/lib/challenge"
	"github.com/gatekeeper-auth/gatekeeper/lib/store"
	_ "github.com/gatekeeper-auth/gatekeeper/lib/store/all"
	"github.com/gatekeeper-auth/gatekeeper/lib/token"
)

var (
	serverHost         = flag.String("server-host", "127.0.0.1", "host to bind the HTTP API to")
	serverPort         = flag.Int("server-port", 3000, "port to bind the HTTP API to")
	bindNetwork        = flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	socketMode         = flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets.")
	databaseURL        = flag.String("database-url", "", "where users are stored, e.g. sqlite:///var/lib/gatekeeper/users.db, bbolt:///var/lib/gatekeeper/users.bolt, redis://localhost:6379/0 or memory://")
	debugCaptcha       = flag.Bool("debug-captcha", false, "if true, captcha responses include the answer, never enable this in production")
	jwtSecret          = flag.String("jwt-secret", "", "secret used to sign session tokens with HS256")
	jwtExpireSeconds   = flag.Int64("jwt-expire-seconds", int64(gatekeeper.DefaultTokenTTL/time.Second), "how long session tokens are valid for, in seconds")
	gzipLevel          = flag.Int("gzip-level", 0, "gzip compression level for API responses, 0 means the library default")
	metricsBind        = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	metricsBindNetwork = flag.String("metrics-bind-network", "tcp", "network family for the metrics server to bind to")
	slogLevel          = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	sweepInterval      = flag.Duration("sweep-interval", gatekeeper.SweepInterval, "how often expired captchas are removed")
	healthcheck        = flag.Bool("healthcheck", false, "run a health check against Gatekeeper")
	versionFlag        = flag.Bool("version", false, "print Gatekeeper version")
)

// doHealthCheck fails unless a running instance reports that its user store
// is reachable.
func doHealthCheck() error {
	host := *serverHost
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	resp, err := http.Get("http://" + net.JoinHostPort(host, strconv.Itoa(*serverPort)) + "/health")
	if err != nil {
		return fmt.Errorf("failed to fetch health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("can't decode health response: %w", err)
	}

	if health.Status != "ok" {
		return fmt.Errorf("instance is %s", health.Status)
	}

	return nil
}

// parseBindNetFromAddr determine bind network and address based on the given network and address.
func parseBindNetFromAddr(address string) (string, string) {
	defaultScheme := "http://"
	if !strings.Contains(address, "://") {
		if strings.HasPrefix(address, ":") {
			address = defaultScheme + "localhost" + address
		} else {
			address = defaultScheme + address
		}
	}

	bindUri, err := url.Parse(address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to parse bind URL: %w", err))
	}

	switch bindUri.Scheme {
	case "unix":
		return "unix", bindUri.Path
	case "tcp", "http", "https":
		return "tcp", bindUri.Host
	default:
		log.Fatal(fmt.Errorf("unsupported network scheme %s in address %s", bindUri.Scheme, address))
	}
	return "", address
}

func setupListener(network string, address string) (net.Listener, string) {
	formattedAddress := ""

	if network == "" {
		network, address = parseBindNetFromAddr(address)
	}

	switch network {
	case "unix":
		formattedAddress = "unix:" + address
	case "tcp":
		if strings.HasPrefix(address, ":") { // assume it's just a port e.g. :8080
			formattedAddress = "http://localhost" + address
		} else {
			formattedAddress = "http://" + address
		}
	default:
		formattedAddress = fmt.Sprintf(`(%s) %s`, network, address)
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind to %s: %w", formattedAddress, err))
	}

	if network == "unix" {
		mode, err := strconv.ParseUint(*socketMode, 8, 0)
		if err != nil {
			listener.Close()
			log.Fatal(fmt.Errorf("could not parse socket mode %s: %w", *socketMode, err))
		}

		if err := os.Chmod(address, os.FileMode(mode)); err != nil {
			if err := listener.Close(); err != nil {
				log.Printf("failed to close listener: %v", err)
			}
			log.Fatal(fmt.Errorf("could not change socket mode: %w", err))
		}
	}

	return listener, formattedAddress
}

// apiAddress is where the HTTP API listens. Unix sockets take their path from
// server-host.
func apiAddress() string {
	if *bindNetwork == "unix" {
		return *serverHost
	}

	return net.JoinHostPort(*serverHost, strconv.Itoa(*serverPort))
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("Gatekeeper", gatekeeper.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	if *healthcheck {
		log.Println("running healthcheck")
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	if *jwtSecret == "" {
		log.Fatal("[misconfiguration] JWT_SECRET must be set")
	}

	if *databaseURL == "" {
		log.Fatalf("[misconfiguration] DATABASE_URL must be set, supported schemes: %s", strings.Join(store.Methods(), ", "))
	}

	if *jwtExpireSeconds <= 0 {
		log.Fatalf("[misconfiguration] JWT_EXPIRE_SECONDS must be positive, got %d", *jwtExpireSeconds)
	}

	// install signal handler
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, err := store.Open(ctx, *databaseURL)
	if err != nil {
		log.Fatalf("can't open user store: %v", err)
	}
	defer users.Close()

	tokens, err := token.New([]byte(*jwtSecret), time.Duration(*jwtExpireSeconds)*time.Second)
	if err != nil {
		log.Fatalf("can't create token issuer: %v", err)
	}

	challenges := challenge.NewStore()

	s, err := libgatekeeper.New(libgatekeeper.Options{
		Auth:         auth.New(challenges, users, tokens),
		DebugCaptcha: *debugCaptcha,
		GzipLevel:    *gzipLevel,
	})
	if err != nil {
		log.Fatalf("can't construct libgatekeeper.Server: %v", err)
	}

	if *debugCaptcha {
		slog.Warn("DEBUG_CAPTCHA is set, captcha answers are sent to clients")
	}

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		challenges.Run(ctx, *sweepInterval)
	}()

	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	srv := http.Server{
		Handler:           s,
		ErrorLog:          internal.GetFilteredHTTPLogger(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, listenerUrl := setupListener(*bindNetwork, apiAddress())
	slog.Info(
		"listening",
		"url", listenerUrl,
		"version", gatekeeper.Version,
		"store", storeScheme(*databaseURL),
		"token-ttl", tokens.TTL(),
		"sweep-interval", *sweepInterval,
		"debug-captcha", *debugCaptcha,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()
}

// storeScheme is logged instead of the DSN, which may hold a password.
func storeScheme(dsn string) string {
	scheme, err := store.Scheme(dsn)
	if err != nil {
		return "unknown"
	}
	return scheme
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, metricsUrl := setupListener(*metricsBindNetwork, *metricsBind)
	slog.Debug("listening for metrics", "url", metricsUrl)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
