package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/logging"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/repair"
)

func main() {
	in := flag.String("in", ".", "Directory of CSV files to repair")
	out := flag.String("out", "fixed_csv", "Directory the repaired files are written to")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, err := logging.New(*level, "text")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(2)
	}
	log := logrus.NewEntry(logger)

	results, err := repair.FixDir(*in, *out, log)
	if err != nil {
		log.WithError(err).Fatal("Repair failed")
	}

	dropped := 0
	for _, res := range results {
		dropped += res.Dropped
	}
	log.WithFields(logrus.Fields{"files": len(results), "dropped": dropped}).Info("Repair finished")
}
