package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const httpTimeout time.Duration = 10 * time.Second

func securityHeaders(w http.ResponseWriter) {
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

func serveVersion(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(w)
		w.WriteHeader(http.StatusOK)

		_, _ = w.Write([]byte("apologies v" + releaseVersion + "\n"))
	}
}

func serveHealthCheck(s *server) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(w)
		w.WriteHeader(http.StatusOK)

		_ = json.NewEncoder(w).Encode(map[string]int64{
			"connections": s.connCount.Load(),
			"players":     s.playerCount.Load(),
			"games":       s.gameCount.Load(),
		})
	}
}

func serveRobots() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(w)
		w.WriteHeader(http.StatusOK)

		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}
}

// serveQR renders a PNG QR code of the WebSocket URL, so a phone client can
// connect without typing an address.
func serveQR(cfg *Config, s *server) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		scheme := "ws"
		if cfg.scheme() == "https" {
			scheme = "wss"
		}
		url := scheme + "://" + r.Host + "/ws"

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(w)
		written, _ := w.Write(png)

		logf(cfg, "SERVE: QR code (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// Serve runs the server until the context is cancelled, then drains and
// stops. A clean stop returns nil.
func Serve(ctx context.Context, cfg *Config) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logFile, err := openLogFile(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logf(cfg, "START: apologies v%s", releaseVersion)

	s := newServer(cfg)
	go s.run()
	s.startSweepers(ctx)

	mux := httprouter.New()

	mux.GET("/ws", serveWS(cfg, s))
	mux.GET("/healthz", serveHealthCheck(s))
	mux.GET("/robots.txt", serveRobots())
	mux.GET("/version", serveVersion(cfg))
	mux.GET("/qr", serveQR(cfg, s))

	if cfg.profile {
		registerProfileHandlers(mux)
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadHeaderTimeout: httpTimeout,
	}

	go func() {
		var err error
		logf(cfg, "SERVE: Listening on %s://%s/", cfg.scheme(), srv.Addr)
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logErrorf("%v", err)
		}
	}()

	<-ctx.Done()

	// Stop the coordinator first so every connected player sees the
	// shutdown broadcast before sockets start closing.
	stopped := make(chan struct{})
	s.enqueue(shutdownEvent{done: stopped})
	select {
	case <-stopped:
	case <-time.After(cfg.closeTimeout):
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.closeTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
