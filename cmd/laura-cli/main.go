// Command laura-cli is a shell for an in-memory Laura database.
//
//	laura-cli                                  interactive shell
//	laura-cli --script setup.jsonc             run a script and exit
//	laura-cli --data-dir ./data --save         load and save a snapshot
//	laura-cli --metrics-addr :9090             serve /metrics while running
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mnohosten/laura-engine/pkg/compression"
	"github.com/mnohosten/laura-engine/pkg/config"
	"github.com/mnohosten/laura-engine/pkg/database"
	"github.com/mnohosten/laura-engine/pkg/logger"
	"github.com/mnohosten/laura-engine/pkg/metrics"
	"github.com/mnohosten/laura-engine/pkg/query"
	"github.com/mnohosten/laura-engine/pkg/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath  string
	dataDir     string
	script      string
	metricsAddr string
	logLevel    string
	logFormat   string
	workers     int
	pageSize    int
	compact     bool
	save        bool
}

func parseFlags(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	var o options
	fs := flag.NewFlagSet("laura-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&o.dataDir, "data-dir", "d", "", "directory holding the snapshot file")
	fs.StringVarP(&o.script, "script", "s", "", "run a script file and exit")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", "", "json or console")
	fs.IntVar(&o.workers, "workers", 0, "query worker pool size")
	fs.IntVar(&o.pageSize, "page-size", 20, "documents printed per page in the shell")
	fs.BoolVar(&o.compact, "compact", false, "print one document per line")
	fs.BoolVar(&o.save, "save", false, "save a snapshot on exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return &o, fs, nil
}

// loadConfig merges the config file with the flags that were set.
func loadConfig(o *options, fs *flag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}
	if fs.Changed("data-dir") {
		cfg.Database.DataDir = o.dataDir
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Logging.Format = o.logFormat
	}
	if fs.Changed("workers") {
		cfg.Query.Workers = o.workers
	}
	if o.save {
		cfg.Database.SaveOnExit = true
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, fs, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	cfg, err := loadConfig(o, fs)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	log, err := logger.NewLogger(cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()
	ctx = logger.ContextWithLogger(ctx, log)

	if err := serve(ctx, cfg, o, log, stdin, stdout); err != nil {
		log.Error("laura-cli failed", zap.Error(err))
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg config.Config, o *options, log *zap.Logger, stdin io.Reader, stdout io.Writer) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dbCfg := database.DefaultConfig()
	dbCfg.Name = cfg.Database.Name
	dbCfg.Workers = cfg.Query.Workers
	dbCfg.Parallel = &query.ParallelConfig{
		MinDocsForParallel: cfg.Query.ParallelThreshold,
		ChunkSize:          query.DefaultParallelConfig().ChunkSize,
	}
	dbCfg.SampleSeed = cfg.Query.SampleSeed
	dbCfg.FilterCacheSize = cfg.Query.FilterCache
	dbCfg.Logger = log
	dbCfg.Metrics = metrics.NewMetricsCollector(reg)

	if cfg.Database.DataDir != "" {
		alg, err := compression.ParseAlgorithm(cfg.Database.Codec)
		if err != nil {
			return err
		}
		p, err := snapshot.NewFilePersister(cfg.Database.DataDir,
			&compression.Config{Algorithm: alg, Level: cfg.Database.Compression}, log)
		if err != nil {
			return err
		}
		defer p.Close()
		dbCfg.Persister = p
	}

	db, err := database.Open(dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if dbCfg.Persister != nil {
		if err := db.Restore(ctx); err != nil {
			return err
		}
	}

	if cfg.Metrics.Addr != "" {
		ms, err := startMetricsServer(cfg.Metrics.Addr, reg, log)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := ms.Shutdown(context.Background()); err != nil {
				log.Warn("metrics server shutdown", zap.Error(err))
			}
		}()
	}

	s := newSession(db, stdout, o.pageSize, !o.compact)
	defer s.close()

	switch {
	case o.script != "":
		err = s.runScript(ctx, o.script)
	case isTerminal(stdin):
		err = s.shell(ctx)
	default:
		err = s.readLines(ctx, stdin)
	}
	if err != nil {
		return err
	}

	if cfg.Database.SaveOnExit && dbCfg.Persister != nil {
		// the run context may already be cancelled by a signal
		if err := db.Save(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// readLines runs shell lines piped on stdin. Errors are reported and the
// remaining lines still run, as at the prompt.
func (s *session) readLines(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.execLine(ctx, sc.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
	return sc.Err()
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
