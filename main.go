package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lunen/jobwatch/app"
	"github.com/lunen/jobwatch/config"
	"github.com/lunen/jobwatch/lib"
	"github.com/lunen/jobwatch/lib/feeds"
	"github.com/lunen/jobwatch/senders"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func providers() []fx.Option {
	return []fx.Option{
		fx.Provide(NewLogger),
		fx.Provide(config.NewConfig),

		fx.Provide(senders.NewSenderRegistry),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewTransport),
		fx.Provide(fx.Annotate(feeds.NewRSSSource, fx.As(new(feeds.Source)))),
		fx.Provide(lib.NewDispatcher),
		fx.Provide(lib.NewDigester),
		fx.Provide(lib.NewHealthMonitor),
		fx.Provide(lib.NewService),
		fx.Provide(app.NewAPI),
	}
}

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		serve()
	case "run-digests":
		runDigests(args)
	case "run-health":
		runHealth()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q; want serve, run-digests or run-health\n", cmd)
		os.Exit(2)
	}
}

// serve is the long-running mode: admin API plus ticker-driven digester and
// health monitor.
func serve() {
	opts := append(providers(),
		fx.Invoke(func(lc fx.Lifecycle, log *zap.Logger, digester *lib.Digester, health *lib.HealthMonitor) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go digester.Start()
					go health.Start()
					return nil
				},
				OnStop: func(context.Context) error {
					log.Sugar().Info("Trying to stop background runners")
					digester.Stop()
					health.Stop()
					return nil
				},
			})
		}),
		fx.Invoke(func(*http.Server) {}),
	)
	fx.New(opts...).Run()
}

// runDigests processes the full due set once and exits 0. Individual
// feed or user failures are logged, never raised to the exit code, so the
// external scheduler keeps retrying future cycles.
func runDigests(args []string) {
	fs := flag.NewFlagSet("run-digests", flag.ExitOnError)
	nowFlag := fs.String("now", "", "override wall clock (RFC3339) for deterministic runs")
	fs.Parse(args)

	now := time.Now().UTC()
	if *nowFlag != "" {
		parsed, err := time.Parse(time.RFC3339, *nowFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --now value %q: %s\n", *nowFlag, err)
			os.Exit(2)
		}
		now = parsed.UTC()
	}

	runOnce(func(ctx context.Context, digester *lib.Digester, health *lib.HealthMonitor) {
		digester.RunBatch(ctx, now)
	})
}

// runHealth sweeps every active search once and exits 0.
func runHealth() {
	runOnce(func(ctx context.Context, digester *lib.Digester, health *lib.HealthMonitor) {
		health.RunSweep(ctx)
	})
}

func runOnce(run func(context.Context, *lib.Digester, *lib.HealthMonitor)) {
	opts := append(providers(),
		fx.Invoke(func(lc fx.Lifecycle, shutdowner fx.Shutdowner, digester *lib.Digester, health *lib.HealthMonitor) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						run(context.Background(), digester, health)
						shutdowner.Shutdown()
					}()
					return nil
				},
			})
		}),
	)
	fx.New(opts...).Run()
}
