package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logpkg "myhealth-hrv/common/logger"
	"myhealth-hrv/internal/config"
	"myhealth-hrv/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const serviceName = "myhealth-hrv"

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "HRV indices and wearable compliance for Polar / Fitbit heart-rate data",
		Long: `myhealth-hrv cleans raw heart-rate samples, computes 5-minute HRV indices
and reports how much of a requested time window a subject's wearable covered.

Configuration is read from the environment (DB_*, REDIS_*, HRV_*, COMPLIANCE_*,
EVENTS_*, METRICS_ADDR, LOG_LEVEL, LOG_FORMAT).`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newRunOnceCmd(),
		newBackfillCmd(),
		newComplianceCmd(),
		newIndexCmd(),
		newImportCmd(),
		newMigrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the 5-minute HRV scheduler and the metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			// 创建上下文
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// 监听系统信号
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			errChan := make(chan error, 1)
			go func() {
				errChan <- svc.Start(ctx)
			}()

			var runErr error
			select {
			case sig := <-sigChan:
				log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
				cancel()
				<-errChan
			case runErr = <-errChan:
				if runErr != nil {
					log.Error("Service error", zap.Error(runErr))
				}
				cancel()
			}

			if err := svc.Stop(ctx); err != nil {
				log.Error("Error stopping service", zap.Error(err))
			}
			log.Info("Service stopped")
			return runErr
		},
	}
}

// setup 加载配置、初始化日志并创建服务
func setup() (*service.HRVService, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	svc, err := service.NewHRVService(cfg, log)
	if err != nil {
		log.Error("Failed to create HRV service", zap.Error(err))
		log.Sync()
		return nil, nil, err
	}
	return svc, log, nil
}

// signalContext 收到 SIGINT / SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
