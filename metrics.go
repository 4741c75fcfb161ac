package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
)

// serveMetrics exposes reg on addr until ctx is done. With metrics.TLSCert
// and metrics.TLSKey set the listener speaks TLS and reloads its keypair on
// SIGHUP.
func serveMetrics(ctx context.Context, v *viper.Viper, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if cert := v.GetString("metrics.TLSCert"); cert != "" {
		kpr, err := newKeypairReloader(ctx, cert, v.GetString("metrics.TLSKey"))
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		srv.TLSConfig = &tls.Config{
			GetCertificate: kpr.GetCertificateFunc(),
			MinVersion:     tls.VersionTLS12,
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("metrics: shutdown: %s", err)
		}
	}()

	var err error
	if srv.TLSConfig != nil {
		logger.Infof("serving prometheus metrics on https://%s/metrics", addr)
		err = srv.ListenAndServeTLS("", "")
	} else {
		logger.Infof("serving prometheus metrics on http://%s/metrics", addr)
		err = srv.ListenAndServe()
	}

	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}

	return fmt.Errorf("metrics: %w", err)
}
