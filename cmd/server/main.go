package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VahantSharma/Bloggly-Backend/internal/factory"
	"github.com/VahantSharma/Bloggly-Backend/internal/handler"
	"github.com/VahantSharma/Bloggly-Backend/internal/util"
)

const shutdownTimeout = 30 * time.Second

// endpoint is one listening server; tls servers take certificates from the
// TLS manager.
type endpoint struct {
	name string
	srv  *http.Server
	tls  bool
}

func main() {
	if err := run(); err != nil {
		util.Fatal("Rate limit service stopped with error", util.ErrorField(err))
	}
}

// run owns the factory so it is closed on every return path, including a
// server that fails to bind.
func run() error {
	f, err := factory.NewFactory()
	if err != nil {
		return fmt.Errorf("failed to initialize factory: %w", err)
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	endpoints, err := buildEndpoints(f, setupRouter(f))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range endpoints {
		g.Go(func() error {
			util.Info("Starting server",
				util.String("server", ep.name),
				util.String("address", ep.srv.Addr),
				util.Bool("tls", ep.tls))

			var err error
			if ep.tls {
				err = ep.srv.ListenAndServeTLS("", "")
			} else {
				err = ep.srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", ep.name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, ep := range endpoints {
			if err := ep.srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s server: %w", ep.name, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// buildEndpoints picks the listeners for the TLS mode: plain HTTP, HTTPS on
// TLS_PORT, or in production with autocert an ACME/redirect server on :80
// next to HTTPS on :443.
func buildEndpoints(f *factory.Factory, router http.Handler) ([]endpoint, error) {
	cfg := f.Config()

	newServer := func(addr string, h http.Handler) *http.Server {
		return &http.Server{
			Addr:         addr,
			Handler:      h,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}
	}

	if !cfg.Server.EnableTLS {
		util.Warn("TLS is disabled, serving plain HTTP",
			util.String("environment", cfg.Environment))
		return []endpoint{{name: "http", srv: newServer(cfg.GetServerAddress(), router)}}, nil
	}

	tlsManager := f.TLSManager()
	if cfg.IsProduction() && cfg.Server.AutoCert {
		autoCertManager := tlsManager.GetAutocertManager()
		if autoCertManager == nil {
			return nil, errors.New("autocert manager is not available in production")
		}

		https := newServer(":443", router)
		https.TLSConfig = tlsManager.GetTLSConfig()
		return []endpoint{
			{name: "acme", srv: newServer(":80", autoCertManager.HTTPHandler(nil))},
			{name: "https", srv: https, tls: true},
		}, nil
	}

	https := newServer(fmt.Sprintf(":%d", cfg.Server.TLSPort), router)
	https.TLSConfig = tlsManager.GetTLSConfig()
	return []endpoint{{name: "https", srv: https, tls: true}}, nil
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	rateLimitService := f.ServiceFactory().RateLimitService()
	rateLimitHandler := handler.NewRateLimitHandler(rateLimitService, util.Get())

	opts := handler.RouterOptions{
		RequireTLS:     cfg.Server.EnableTLS,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        f.MetricsHandler(),
	}
	if cfg.RateLimit.ThrottleAPI {
		opts.Throttle = handler.APIThrottle(f.Limiter(), util.Get())
	}

	return handler.NewRouter(rateLimitHandler, opts, util.Get())
}
