package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tabsession-go/internal/core/session"
	"github.com/yndnr/tabsession-go/internal/infra/confloader"
	"github.com/yndnr/tabsession-go/internal/infra/shutdown"
	"github.com/yndnr/tabsession-go/internal/telemetry/logger"
	"github.com/yndnr/tabsession-go/internal/telemetry/metric"
)

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Run tabs that keep the session refreshed and print every token change",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "tabs",
				Value: 1,
				Usage: "Number of tabs to run in this process",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (e.g., 127.0.0.1:9090)",
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Value: 10 * time.Second,
				Usage: "How long shutdown waits for in-flight exchanges",
			},
		},
		Action: runWatch,
	}
}

func runWatch(c *cli.Context) error {
	n := c.Int("tabs")
	if n < 1 {
		return fmt.Errorf("--tabs must be at least 1")
	}

	e := newEnv(c)
	log := e.logger
	handler := shutdown.NewHandler(c.Duration("shutdown-timeout"))
	handler.OnShutdown(func(context.Context) error { return e.Close() })

	printer := &changePrinter{w: c.App.Writer}
	var first *session.Controller
	for i := 0; i < n; i++ {
		id := newTabID()
		if i == 0 {
			id = tabID(c)
		}
		t, err := e.openTab(c.Context, id)
		if err != nil {
			e.Close()
			return err
		}
		ctrl, err := e.newController(t, printRedirect(c.App.Writer, "Redirecting to:"))
		if err != nil {
			e.Close()
			return err
		}
		ctrl.OnChange(printer.sink(id))
		if first == nil {
			first = ctrl
		}
	}

	e.registry.MustRegister(metric.NewExpiryCollector(func() (int64, bool) {
		state, ok := first.State()
		if !ok || state == nil {
			return 0, false
		}
		return state.ExpiresAt, true
	}))

	addr := e.cfg.Metrics.Addr
	if c.IsSet("metrics-addr") {
		addr = c.String("metrics-addr")
	}
	if addr != "" {
		srv, err := serveMetrics(addr, e, log)
		if err != nil {
			handler.Shutdown()
			return err
		}
		fmt.Fprintf(c.App.ErrWriter, "Serving metrics on http://%s/metrics\n", srv.Addr)
		handler.OnShutdown(srv.Shutdown)
	}

	if path := c.String("config"); path != "" {
		w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
		if err != nil {
			handler.Shutdown()
			return err
		}
		if err := w.Watch(path); err != nil {
			w.Stop()
			handler.Shutdown()
			return err
		}
		w.OnChange(func(string) { reloadLogLevel(c, log) })
		w.StartAsync()
		handler.OnShutdown(func(context.Context) error { return w.Stop() })
	}

	log.Info("watching session", "tabs", n, "store", e.cfg.Store.Backend)
	return handler.WaitContext(c.Context)
}

// serveMetrics starts an HTTP server exposing e's registry. srv.Addr is
// the bound address.
func serveMetrics(addr string, e *env, log *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metric.Handler(e.registry))
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	return srv, nil
}

// reloadLogLevel applies the log level of the reloaded config file. Other
// settings take effect on the next start.
func reloadLogLevel(c *cli.Context, log *slog.Logger) {
	cfg, err := loadConfig(c)
	if err != nil {
		log.Warn("config reload failed", "error", err)
		return
	}
	logger.SetLevel(cfg.Log.Level)
	log.Info("config reloaded", "log_level", logger.GetLevel())
}

// changePrinter writes one line per token change.
type changePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *changePrinter) sink(id string) func(string) {
	return func(token string) {
		p.mu.Lock()
		defer p.mu.Unlock()

		now := time.Now().Format(time.TimeOnly)
		if token == "" {
			fmt.Fprintf(p.w, "%s %s no session\n", now, id)
			return
		}
		fmt.Fprintf(p.w, "%s %s access token %s\n", now, id, logger.RedactString(token))
	}
}
