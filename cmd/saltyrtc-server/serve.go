package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/acme/autocert"

	"saltyrtc.io/server/internal/config"
	"saltyrtc.io/server/internal/logging"
	"saltyrtc.io/server/internal/metrics"
	"saltyrtc.io/server/internal/signaling"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	errConfig             = errors.New("configuration error")
	errUnsupportedRuntime = errors.New("unsupported runtime mode")
)

type serveFlags struct {
	tlsCert     string
	tlsKey      string
	keys        []string
	host        string
	port        int
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
	runtime     string
}

func serveCmd() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the signalling server",
		Long: `Start the SaltyRTC signalling server. A HUP signal restarts the
server and reloads the TLS certificate and the permanent keys.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.tlsCert, "tls-cert", "", "path to a TLS certificate file")
	cmd.Flags().StringVar(&flags.tlsKey, "tls-key", "", "path to a TLS private key file")
	cmd.Flags().StringArrayVar(&flags.keys, "key", nil, "path to a permanent key file (hex or raw 32 bytes); repeatable")
	cmd.Flags().StringVar(&flags.host, "host", "", "address to bind to")
	cmd.Flags().IntVar(&flags.port, "port", 0, "port to listen on (default 443)")
	cmd.Flags().StringVar(&flags.configPath, "config", "", "path to a YAML configuration file")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "", "log format: text, json")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090")
	cmd.Flags().StringVar(&flags.runtime, "runtime", "asyncio", "scheduling mode; only 'asyncio' is supported")

	return cmd
}

func loadConfig(flags *serveFlags) (*config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errConfig, err)
		}
		cfg = loaded
	}

	if flags.host != "" {
		cfg.Host = flags.host
	}
	if flags.port != 0 {
		cfg.Port = flags.port
	}
	if flags.tlsCert != "" {
		cfg.TLS.Cert = flags.tlsCert
	}
	if flags.tlsKey != "" {
		cfg.TLS.Key = flags.tlsKey
	}
	if len(flags.keys) > 0 {
		cfg.PermanentKeys = flags.keys
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	if flags.metricsAddr != "" {
		cfg.Metrics.Addr = flags.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}

	safetyOff := os.Getenv("SALTYRTC_SAFETY_OFF") == "yes-and-i-know-what-im-doing"
	if (cfg.TLS.Cert == "" && len(cfg.TLS.AutocertHosts) == 0) || len(cfg.PermanentKeys) == 0 {
		if !safetyOff {
			return nil, fmt.Errorf("%w: a TLS certificate and a server permanent key are required unless "+
				"SALTYRTC_SAFETY_OFF=yes-and-i-know-what-im-doing", errConfig)
		}
	}

	return cfg, nil
}

func runServe(ctx context.Context, flags *serveFlags) error {
	if flags.runtime != "asyncio" {
		return fmt.Errorf("%w: %q", errUnsupportedRuntime, flags.runtime)
	}

	for {
		restart, err := runOnce(ctx, flags)
		if err != nil {
			return err
		}
		if !restart {
			return nil
		}
	}
}

// runOnce starts the server, blocks until shutdown or a SIGHUP, and reports
// whether the caller should restart (reloading keys and certificates).
func runOnce(parentCtx context.Context, flags *serveFlags) (restart bool, err error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return false, err
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	keys, err := cfg.LoadPermanentKeys()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errConfig, err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	srv, err := signaling.New(keys, log, m)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errConfig, err)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Minute,
		IdleTimeout:  20 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	var tlsConfig *tls.Config
	if len(cfg.TLS.AutocertHosts) > 0 {
		manager := &autocert.Manager{
			Cache:      autocert.DirCache(os.Getenv("HOME") + "/.saltyrtc-autocert"),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.TLS.AutocertHosts...),
		}
		tlsConfig = &tls.Config{GetCertificate: manager.GetCertificate}
	} else if cfg.TLS.Cert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return false, fmt.Errorf("%w: %v", errConfig, err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	httpServer.TLSConfig = tlsConfig

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", logging.KeyError, err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting")
		if tlsConfig != nil {
			serveErr <- httpServer.ListenAndServeTLS("", "")
		} else {
			serveErr <- httpServer.ListenAndServe()
		}
	}()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sighup)
	defer signal.Stop(sigterm)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return false, err
		}
		return false, nil
	case <-sighup:
		log.Info("restarting on SIGHUP")
		restart = true
	case <-sigterm:
		log.Info("stopping")
		restart = false
	}

	log.Info("stopping")
	cancel()
	srv.Shutdown(10 * time.Second)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	log.Info("stopped")

	return restart, nil
}
