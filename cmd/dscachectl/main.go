package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"

	"github.com/praxisbi/dscache/internal/cachekey"
	"github.com/praxisbi/dscache/internal/config"
	"github.com/praxisbi/dscache/internal/index"
	"github.com/praxisbi/dscache/internal/invalidate"
	"github.com/praxisbi/dscache/internal/logging"
	"github.com/praxisbi/dscache/internal/stats"
	"github.com/praxisbi/dscache/internal/store"
)

const usage = `usage: dscachectl [flags] <command> [command flags]

commands:
  stats        print a cache inventory snapshot as JSON
  invalidate   delete cached entries for a data source

flags:
`

func main() {
	var (
		configFile = flag.String("config", "", "path to engine configuration file")
		envPrefix  = flag.String("env-prefix", "DSCACHE", "environment variable prefix")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(*envPrefix, *configFile).Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	backend, err := buildStore(logger, cfg.Cache)
	if err != nil {
		logger.Error("cache backend setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(context.Background()); err != nil {
			logger.Error("cache backend shutdown failed", slog.Any("error", err))
		}
	}()

	keys := cachekey.NewBuilder(cfg.Cache.KeyPrefix)
	idx := index.New(backend, keys)

	switch flag.Arg(0) {
	case "stats":
		err = runStats(ctx, backend, idx, keys)
	case "invalidate":
		err = runInvalidate(ctx, backend, idx, keys, logger, flag.Args()[1:])
	case "":
		flag.Usage()
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", slog.String("command", flag.Arg(0)), slog.Any("error", err))
		os.Exit(1)
	}
}

func runStats(ctx context.Context, backend store.Store, idx *index.Index, keys cachekey.Builder) error {
	snapshot, err := stats.New(backend, idx, keys).Snapshot(ctx)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runInvalidate(ctx context.Context, backend store.Store, idx *index.Index, keys cachekey.Builder, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("invalidate", flag.ExitOnError)
	var (
		dataSourceID = fs.Int64("data-source", 0, "data source id (required)")
		measure      = fs.String("measure", "", "restrict to one measure")
		frequency    = fs.String("frequency", "", "restrict to one frequency")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataSourceID <= 0 {
		return fmt.Errorf("invalidate: -data-source required")
	}

	deleted, err := invalidate.New(backend, idx, keys, logger, nil).Invalidate(ctx, *dataSourceID, *measure, *frequency)
	if err != nil {
		return err
	}
	fmt.Printf("invalidated %d entries for data source %d\n", deleted, *dataSourceID)
	return nil
}

func buildStore(logger *slog.Logger, cfg config.CacheConfig) (store.Store, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", "memory":
		logger.Info("using memory cache backend")
		return store.NewMemory(cfg.MaxEntryBytes, logger), nil
	case "redis":
		backend, err := store.NewRedis(store.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: store.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		}, cfg.MaxEntryBytes, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis cache backend", slog.String("address", cfg.Redis.Address))
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}
