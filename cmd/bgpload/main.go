package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/config"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/ingestor"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/logging"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/server"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/status"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file, empty for defaults")
	collectors := flag.String("collectors", "", "Comma separated collectors")
	from := flag.String("from", "", "Start of the interval ("+models.InputTimeFormat+")")
	until := flag.String("until", "", "End of the interval ("+models.InputTimeFormat+")")
	filter := flag.String("filter", "", "Filter expression passed to the source")
	concurrency := flag.Int("concurrency", 0, "Number of ranges loaded in parallel")
	bufferSize := flag.Int("buffer", 0, "Rows buffered per range before a flush")
	sinkType := flag.String("sink", "", "Sink type: csv, parquet, arrow or table")
	outDir := flag.String("out", "", "Output directory of file sinks")
	failFast := flag.Bool("fail-fast", false, "Stop all ranges after the first failure")
	failedRun := flag.String("failed", "", "Print the failed ranges of a run and exit")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(2)
		}
	}

	// Flags given on the command line win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "collectors":
			cfg.Collectors = config.ParseCollectors(*collectors)
		case "from":
			cfg.From = *from
		case "until":
			cfg.Until = *until
		case "filter":
			cfg.Filter = *filter
		case "concurrency":
			cfg.Concurrency = *concurrency
		case "buffer":
			cfg.BufferSize = *bufferSize
		case "sink":
			cfg.Sink.Type = *sinkType
		case "out":
			cfg.Sink.Dir = *outDir
		case "fail-fast":
			cfg.FailFast = *failFast
		}
	})

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(2)
	}
	log := logrus.NewEntry(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *failedRun != "" {
		if err := printFailed(ctx, cfg, *failedRun); err != nil {
			log.WithError(err).Fatal("Failed to read run ledger")
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	req, err := ingestor.RequestFromConfig(cfg)
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	if cfg.Metrics.Addr != "" {
		server.Start(ctx, cfg.Metrics.Addr, log)
	}

	ing, err := ingestor.NewIngestor(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create ingestor")
	}
	defer ing.Close()

	log.WithFields(logrus.Fields{
		"collectors":  cfg.Collectors,
		"from":        cfg.From,
		"until":       cfg.Until,
		"concurrency": cfg.Concurrency,
		"source":      cfg.Source.Type,
		"sink":        cfg.Sink.Type,
	}).Info("Starting load")

	summary, err := ing.Run(ctx, req)
	if summary != nil {
		printSummary(summary)
	}

	var partial *ingestor.PartialRunError
	switch {
	case errors.As(err, &partial):
		fmt.Println("Failed ranges (re-run with -from/-until):")
		for _, o := range partial.Failed {
			fmt.Printf("  %d  %s  %v\n", o.Index, o.Range, o.Err)
		}
		ing.Close()
		os.Exit(1)
	case err != nil:
		ing.Close()
		log.WithError(err).Fatal("Load failed")
	}
}

func printSummary(s *ingestor.Summary) {
	fmt.Printf("Run:      %s\n", s.RunID)
	fmt.Printf("Started:  %s\n", s.StartedAt.Format(models.RangeTimeFormat))
	fmt.Printf("Finished: %s\n", s.FinishedAt.Format(models.RangeTimeFormat))
	fmt.Printf("Total:    %s (%d rows)\n", s.Elapsed, s.Rows())
}

func printFailed(ctx context.Context, cfg *config.Config, runID string) error {
	if cfg.Status.RedisAddr == "" {
		return errors.New("status.redisAddr is not configured")
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Status.RedisAddr})
	defer client.Close()

	recorder := status.NewRedisRecorder(client, &status.Options{
		KeyPrefix: cfg.Status.KeyPrefix,
		Expiry:    cfg.Status.TTL,
	})
	failed, err := recorder.Failed(ctx, runID)
	if err != nil {
		return err
	}

	if len(failed) == 0 {
		fmt.Printf("Run %s has no failed ranges\n", runID)
		return nil
	}
	for _, st := range failed {
		fmt.Printf("%d  %s  %s  %s\n", st.Index, st.Start, st.End, st.Error)
	}
	return nil
}
