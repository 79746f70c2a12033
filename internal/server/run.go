package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oneplace-ai/toolbox-provisioner/internal/config"
	"github.com/oneplace-ai/toolbox-provisioner/internal/deploy"
	"github.com/oneplace-ai/toolbox-provisioner/internal/logx"
	"github.com/oneplace-ai/toolbox-provisioner/internal/runtime"
	"github.com/oneplace-ai/toolbox-provisioner/internal/store"
	"github.com/oneplace-ai/toolbox-provisioner/internal/version"
	"github.com/oneplace-ai/toolbox-provisioner/pkg/proxyconf"
	"github.com/oneplace-ai/toolbox-provisioner/pkg/toolsconfig"
)

const shutdownTimeout = 15 * time.Second

func Run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logx.NewLogger(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	accessLogger, accessClose, accessColor, err := logx.OpenAccessLogger(cfg.Logging.AccessLog, cfg.Logging.AccessLogPath)
	if err != nil {
		return fmt.Errorf("init access log: %w", err)
	}
	if accessClose != nil {
		defer func() { _ = accessClose.Close() }()
	}
	accessFormat, err := logx.ResolveAccessLogFormat(cfg.Logging.AccessLogFormat, cfg.Logging.AccessLogFormatPreset)
	if err != nil {
		return fmt.Errorf("resolve access log format: %w", err)
	}
	accessFormatter, err := logx.CompileAccessLogFormat(accessFormat)
	if err != nil {
		return fmt.Errorf("compile access_log_format: %w", err)
	}

	pidCleanup, err := writePIDFile(cfg.Server.PidFile)
	if err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if pidCleanup != nil {
		defer func() { _ = pidCleanup.Close() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, store.Options{
		DSN:            cfg.Database.DSN,
		MaxConns:       cfg.Database.MaxConns,
		ConnectTimeout: time.Duration(cfg.Database.ConnectTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	docker, err := runtime.NewDocker(runtime.Options{
		Host:        cfg.Runtime.DockerHost,
		NamePrefix:  cfg.Runtime.NamePrefix,
		StopTimeout: time.Duration(cfg.Runtime.StopTimeoutS) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("init runtime: %w", err)
	}
	defer func() { _ = docker.Close() }()

	mgr, err := NewProxyManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("init proxy config manager: %w", err)
	}
	if cfg.Proxy.Watch.Enabled {
		watchClose, err := mgr.WatchDrift(time.Duration(cfg.Proxy.Watch.DebounceMs)*time.Millisecond, nil)
		if err != nil {
			return fmt.Errorf("watch proxy config %q: %w", mgr.Path(), err)
		}
		defer func() { _ = watchClose.Close() }()
	}
	installReloadSignalHandler(ctx, mgr, logger)

	svc, err := deploy.NewService(deploy.Options{
		Store:         db,
		Runtime:       docker,
		Router:        mgr,
		Compiler:      NewCompiler(cfg),
		Image:         cfg.Runtime.Image,
		ContainerPort: cfg.Runtime.ContainerPort,
		WorkdirRoot:   cfg.Runtime.WorkdirRoot,
		PublicHost:    cfg.PublicHost,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("init deploy service: %w", err)
	}

	engine := NewRouter(&API{Deploy: svc, Routes: mgr, Logger: logger}, RouterOptions{
		AccessLog:       cfg.Logging.AccessLog,
		AccessLogger:    accessLogger,
		AccessColor:     accessColor,
		AccessFormatter: accessFormatter,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("toolboxd listening",
			zap.String("listen", cfg.Server.Listen),
			zap.String("version", version.Get().Version),
			zap.String("proxy_config", mgr.Path()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("run: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Int("deployments", svc.Registry().Len()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// NewProxyManager builds the proxy configuration manager from config.
func NewProxyManager(cfg *config.Config, logger *zap.Logger) (*proxyconf.Manager, error) {
	return proxyconf.NewManager(proxyconf.Options{
		Path:           cfg.Proxy.ConfigFile,
		ValidateCmd:    cfg.Proxy.ValidateCmd,
		ReloadCmd:      cfg.Proxy.ReloadCmd,
		CommandTimeout: time.Duration(cfg.Proxy.CommandTimeoutMs) * time.Millisecond,
		Template: proxyconf.TemplateParams{
			ListenPort:     cfg.Proxy.ListenPort,
			Certificate:    cfg.Proxy.SSLCertificate,
			CertificateKey: cfg.Proxy.SSLCertificateKey,
		},
		Backup: cfg.Proxy.Backup,
		Logger: logger,
	})
}

// NewCompiler returns a compiler injecting the configured metadata source.
func NewCompiler(cfg *config.Config) *toolsconfig.Compiler {
	m := cfg.MetadataSource
	return &toolsconfig.Compiler{MetadataSource: toolsconfig.Connection{
		Host:     m.Host,
		Port:     m.Port,
		Database: m.Database,
		User:     m.User,
		Password: m.Password,
	}}
}

// installReloadSignalHandler accepts the current proxy file as the new
// baseline and reloads the proxy on SIGHUP.
func installReloadSignalHandler(ctx context.Context, mgr *proxyconf.Manager, logger *zap.Logger) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
			}
			if err := mgr.Rebase(); err != nil {
				logger.Warn("reload failed (signal)", zap.Error(err))
				continue
			}
			if err := mgr.Reload(ctx); err != nil {
				logger.Warn("reload failed (signal)", zap.Error(err))
				continue
			}
			logger.Info("reload ok (signal)", zap.String("proxy_config", mgr.Path()))
		}
	}()
}
