package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/linkcore/pkg/apihealth"
	"github.com/cuemby/linkcore/pkg/config"
	"github.com/cuemby/linkcore/pkg/core"
	"github.com/cuemby/linkcore/pkg/dashboard"
	"github.com/cuemby/linkcore/pkg/log"
	"github.com/cuemby/linkcore/pkg/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the core, connect every configured link, and serve health/metrics",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "path to the YAML configuration file (required)")
	runCmd.Flags().Bool("watch-config", false, "watch the configuration file and log changes (does not yet hot-apply link changes)")
	runCmd.Flags().Bool("enable-tracing", false, "export OpenTelemetry traces via OTLP/HTTP")
	runCmd.Flags().String("otlp-endpoint", "localhost:4318", "OTLP/HTTP collector endpoint")
	_ = runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	watch, _ := cmd.Flags().GetBool("watch-config")
	enableTracing, _ := cmd.Flags().GetBool("enable-tracing")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")

	doc, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Init(log.Config{Level: doc.LogLevel, JSONOutput: doc.LogJSON})

	ctx := context.Background()
	if err := tracing.Init(ctx, tracing.Config{Enabled: enableTracing, Endpoint: otlpEndpoint, ServiceName: "scada-core"}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracing.Shutdown(ctx)

	c, err := core.New(core.Config{
		Links:                    doc.Links,
		JournalDir:               doc.JournalDir,
		DispatcherQueueDepth:     doc.DispatcherQueueDepth,
		DispatcherEnqueueTimeout: doc.DispatcherEnqueueTimeout,
		StopDeadline:             doc.StopDeadline,
	})
	if err != nil {
		return fmt.Errorf("build core: %w", err)
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("start core: %w", err)
	}
	fmt.Printf("scada-core started, %d link(s) connecting\n", len(doc.Links))

	healthSrv := apihealth.New(c)
	dashSrv := dashboard.New(c)
	mux := http.NewServeMux()
	mux.Handle("/", healthSrv.Handler())
	mux.Handle("/ws/state-changes", dashSrv.Handler())

	httpSrv := &http.Server{Addr: doc.MetricsAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	fmt.Printf("health/metrics/dashboard listening on %s\n", doc.MetricsAddr)

	if watch {
		w := config.NewWatcher(path)
		watchCtx, cancelWatch := context.WithCancel(ctx)
		defer cancelWatch()
		go func() {
			if err := w.Run(watchCtx); err != nil && err != context.Canceled {
				log.WithComponent("scada-core").Warn().Err(err).Msg("config watcher exited")
			}
		}()
		go func() {
			for range w.Changes {
				log.WithComponent("scada-core").Warn().Msg("configuration file changed on disk; restart to apply (hot-apply of link topology is not supported)")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("shutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), doc.StopDeadline+5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if err := c.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop core: %w", err)
	}
	fmt.Println("shutdown complete")
	return nil
}
