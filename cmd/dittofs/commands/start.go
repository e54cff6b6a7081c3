package commands

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/internal/telemetry"
	"github.com/marmos91/dittofs/pkg/adapter"
	"github.com/marmos91/dittofs/pkg/adapter/nfs"
	"github.com/marmos91/dittofs/pkg/adapter/smb"
	"github.com/marmos91/dittofs/pkg/config"
	"github.com/marmos91/dittofs/pkg/ftp"
	"github.com/marmos91/dittofs/pkg/shared"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the FTP, NFS, and SMB adapters",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return err
	}

	registry := shared.NewRegistry()

	var adapters []adapter.Adapter
	if cfg.FTP.Enabled {
		adapters = append(adapters, ftp.New(cfg.FTP, nil, nil, nil))
	}
	if cfg.NFS.Enabled {
		factory := func(uint32) (nfs.Processor, bool) { return nil, false }
		adapters = append(adapters, nfs.New(cfg.NFS, nil, nil, factory))
	}
	if cfg.SMB.Enabled {
		adapters = append(adapters, smb.New(cfg.SMB))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	errCh := make(chan error, len(adapters)+1)

	for _, a := range adapters {
		a.SetRuntime(registry)
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			logger.Info("starting adapter", "protocol", a.Protocol(), "port", a.Port())
			if err := a.Serve(ctx); err != nil && err != context.Canceled {
				logger.Error("adapter exited", "protocol", a.Protocol(), "error", err)
				errCh <- err
			}
		}(a)
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics = telemetry.New()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.BindAddress, cfg.Metrics.Port); err != nil {
				logger.Error("metrics server exited", "error", err)
				errCh <- err
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping adapters")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	for _, a := range adapters {
		if err := a.Stop(shutdownCtx); err != nil {
			logger.Warn("adapter stop error", "protocol", a.Protocol(), "error", err)
		}
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}
