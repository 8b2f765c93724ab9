// fetch-states runs a single ingestion cycle against OpenSky and prints the
// resulting column table as JSON. Useful for checking credentials and the
// configured region without starting the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/unklstewy/skyplot/internal/api"
	"github.com/unklstewy/skyplot/internal/buffer"
	"github.com/unklstewy/skyplot/internal/ingest"
	"github.com/unklstewy/skyplot/pkg/config"
	"github.com/unklstewy/skyplot/pkg/logger"
	"github.com/unklstewy/skyplot/pkg/opensky"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "Path to configuration file")
	pretty := flag.Bool("pretty", false, "Indent the JSON output")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall deadline for the cycle")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so stdout stays valid JSON.
	cfg.Logging.Output = os.Stderr
	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, cfg, os.Stdout, *pretty, log); err != nil {
		log.Error("Cycle failed",
			logger.String("outcome", string(ingest.Classify(err))),
			logger.Error(err),
		)
		os.Exit(2)
	}
}

// run fetches the configured region once and writes the table to out.
func run(ctx context.Context, cfg *config.Config, out io.Writer, pretty bool, log *logger.Logger) error {
	client := opensky.NewClient(opensky.Config{
		BaseURL:  cfg.OpenSky.BaseURL,
		Username: cfg.OpenSky.Username,
		Password: cfg.OpenSky.Password,
		Timeout:  cfg.OpenSky.Timeout(),
	}, log)
	defer client.Close()

	buf := buffer.New()
	svc, err := ingest.NewService(client, buf, nil, nil, ingest.Config{
		Box:     cfg.Region,
		IconURL: cfg.Ingest.IconURL,
		RunID:   "fetch-states",
	}, log)
	if err != nil {
		return err
	}

	if err := svc.RunOnce(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(api.NewTableResponse(buf.Snapshot())); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
