// Command interceptd runs an intercepting proxy configured from a file and
// the environment.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Windscribe/interceptor"
	"github.com/Windscribe/interceptor/ext/auth"
	"github.com/Windscribe/interceptor/ext/ghost"
	"github.com/Windscribe/interceptor/ext/har"
	"github.com/Windscribe/interceptor/ext/limitation"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML configuration file")
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("interceptd failed", zap.Error(err))
	}
}

// newLogger writes JSON records to a rotating file when one is configured,
// console records to stderr otherwise.
func newLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.File == "" {
		zc := zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		return zc.Build()
	}
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), sink, level)
	return zap.New(core), nil
}

func serverOptions(cfg Config, logger *zap.Logger) interceptor.Options {
	opts := interceptor.DefaultOptions()
	opts.Reverse = cfg.Reverse
	opts.UpstreamProxy = cfg.Upstream
	opts.DNSServer = cfg.DNSServer
	opts.ProxyAgent = cfg.ProxyAgent
	opts.StallTimeout = cfg.StallTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.CertCacheSize = cfg.TLS.CacheSize
	opts.CertCacheTTL = cfg.TLS.CacheTTL
	opts.TLS = interceptor.TLSOptions{
		Intercept:  cfg.TLS.Intercept,
		CACertFile: cfg.TLS.CACert,
		CAKeyFile:  cfg.TLS.CAKey,
	}
	opts.Logger = logger
	return opts
}

func run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	srv, err := interceptor.New(serverOptions(cfg, logger))
	if err != nil {
		return err
	}
	defer srv.Close()

	srv.OnError(func(err error) {
		logger.Debug("exchange error", zap.Error(err))
	})

	if cfg.Limit > 0 {
		if err := limitation.ConcurrentRequests(cfg.Limit).Register(srv); err != nil {
			return err
		}
	}
	if len(cfg.Auth.Users) > 0 {
		users := cfg.Auth.Users
		err := auth.Register(srv, cfg.Auth.Realm, func(user, passwd string) bool {
			want, ok := users[user]
			return ok && want == passwd
		})
		if err != nil {
			return err
		}
	}
	if cfg.Ghost.Root != "" {
		g, err := ghost.New(cfg.Ghost.Root)
		if err != nil {
			return err
		}
		if err := g.Register(srv, cfg.Ghost.Phase); err != nil {
			return err
		}
	}
	if cfg.HAR.Output != "" {
		archive := newHARFile(cfg.HAR.Output, logger)
		var opts []har.LoggerOption
		if cfg.HAR.Content {
			opts = append(opts, har.WithContent())
		}
		opts = append(opts, har.WithExportInterval(10*time.Second))
		hl := har.NewLogger(archive.export, opts...)
		defer hl.Stop()
		if err := hl.Register(srv); err != nil {
			return err
		}
	}

	if cfg.MetricsAddr != "" {
		ms := &http.Server{Addr: cfg.MetricsAddr, Handler: srv.MetricsHandler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener", zap.Error(err))
			}
		}()
		defer ms.Close()
	}

	if cfg.Listen != "" {
		if err := srv.Listen(cfg.Listen); err != nil {
			return err
		}
	}
	if cfg.Transparent != "" {
		if err := srv.ListenTransparent(cfg.Transparent); err != nil {
			return err
		}
	}
	logger.Info("interceptd started", zap.String("listen", cfg.Listen), zap.Bool("intercept", cfg.TLS.Intercept))

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// harFile keeps every exported entry and rewrites the archive after each
// batch.
type harFile struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	archive *har.Har
}

func newHARFile(path string, logger *zap.Logger) *harFile {
	return &harFile{path: path, logger: logger, archive: har.New()}
}

func (f *harFile) export(entries []har.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archive.AppendEntry(entries...)
	b, err := json.MarshalIndent(f.archive, "", "  ")
	if err != nil {
		f.logger.Error("encode har", zap.Error(err))
		return
	}
	if err := os.WriteFile(f.path, b, 0o644); err != nil {
		f.logger.Error("write har", zap.String("path", f.path), zap.Error(err))
	}
}
