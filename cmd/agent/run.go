package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Chichichkin/forgelog/internal/daemon"
	"github.com/Chichichkin/forgelog/internal/engine"
	"github.com/Chichichkin/forgelog/internal/logging"
)

func runCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Tail *.log files under a directory and ship every new line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, v)
		},
	}

	hostname, _ := os.Hostname()
	flags := cmd.Flags()
	flags.String("log-root", "/var/log/apps", "directory scanned for *.log files")
	flags.String("node-name", hostname, "node label attached to every record")
	flags.Int("max-files", 100, "maximum files tailed at once, 0 for no limit")
	flags.Duration("scan-interval", 30*time.Second, "interval between directory scans")
	flags.Bool("from-start", false, "ship existing file content, not only new lines")
	flags.Duration("file-idle-timeout", 5*time.Minute, "stop tailing a file after this long without new lines")
	flags.String("default-level", "info", "level of lines without a level marker")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address when set")
	flags.Duration("shutdown-timeout", 30*time.Second, "how long to wait for the final flush")

	return cmd
}

func runAgent(ctx context.Context, v *viper.Viper) error {
	defaultLevel, err := logging.ParseLevel(v.GetString("default-level"))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e, err := newEngine(v, engine.WithRegisterer(reg))
	if err != nil {
		return err
	}

	tails := daemon.NewTailService(ctx, daemon.Config{
		LogRootPath:     v.GetString("log-root"),
		ScanInterval:    v.GetDuration("scan-interval"),
		MaxFiles:        v.GetInt("max-files"),
		NodeName:        v.GetString("node-name"),
		FromStart:       v.GetBool("from-start"),
		FileIdleTimeout: v.GetDuration("file-idle-timeout"),
		DefaultLevel:    defaultLevel,
	}, e)
	tails.Start()

	var server *http.Server
	if addr := v.GetString("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Infof("Serving metrics on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info("Received shutdown signal")

	tails.Stop()
	e.Shutdown()

	waitCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
	defer cancel()
	if err := e.Wait(waitCtx); err != nil {
		log.WithError(err).Warnf("Gave up waiting for the final flush, %d records unsent", e.Buffered())
	}

	if server != nil {
		_ = server.Shutdown(waitCtx)
	}
	log.Info("Shut down")
	return nil
}
