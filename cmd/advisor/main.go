// Package main implements the advisor CLI, which runs one forecast-to-advisory
// pass from the command line.
//
// Usage:
//
//	go run ./cmd/advisor --input=history.xlsx
//	go run ./cmd/advisor --input=history.csv --out=advisory.xlsx --email
//	go run ./cmd/advisor --from-db --from=2024-01-01 --to=2024-03-31
//
// Capacity parameters and run options are read from the environment (or a
// .env file) exactly as the API server reads them. The capacity limit, the
// per-day advice and the summary lines are printed to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"peakload/internal/config"
	"peakload/internal/db"
	"peakload/internal/metrics"
	"peakload/internal/notify"
	"peakload/internal/pipeline"
	"peakload/internal/report"
	"peakload/internal/series"
	"peakload/internal/types"
)

// options holds the parsed command-line flags.
type options struct {
	Input      string
	Out        string
	Email      bool
	Recipients []string
	FromDB     bool
	From       time.Time
	To         time.Time
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("advisor", flag.ContinueOnError)
	fs.SetOutput(stderr)

	input := fs.String("input", "", "Path to the history file (.csv, .xlsx or .txt)")
	out := fs.String("out", "", "Write the advisory workbook to this path")
	email := fs.Bool("email", false, "Email the advisory to the configured recipients")
	recipients := fs.String("recipients", "", "Comma-separated recipients, overriding NOTIFY_RECIPIENTS")
	fromDB := fs.Bool("from-db", false, "Read history from DATABASE_URL instead of a file")
	from := fs.String("from", "", "First history date when reading from the database (YYYY-MM-DD)")
	to := fs.String("to", "", "Last history date when reading from the database (YYYY-MM-DD)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: advisor [flags]\n\n")
		fmt.Fprintf(stderr, "Runs the peak-load advisory pipeline once and prints the result.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{
		Input:  *input,
		Out:    *out,
		Email:  *email,
		FromDB: *fromDB,
	}
	if *recipients != "" {
		for _, r := range strings.Split(*recipients, ",") {
			if r = strings.TrimSpace(r); r != "" {
				opts.Recipients = append(opts.Recipients, r)
			}
		}
	}

	switch {
	case opts.Input == "" && !opts.FromDB:
		return options{}, errors.New("one of --input or --from-db is required")
	case opts.Input != "" && opts.FromDB:
		return options{}, errors.New("--input and --from-db are mutually exclusive")
	case !opts.FromDB && (*from != "" || *to != ""):
		return options{}, errors.New("--from and --to require --from-db")
	}

	var err error
	if opts.From, err = parseBound("from", *from); err != nil {
		return options{}, err
	}
	if opts.To, err = parseBound("to", *to); err != nil {
		return options{}, err
	}
	if !opts.From.IsZero() && !opts.To.IsZero() && opts.To.Before(opts.From) {
		return options{}, errors.New("--to must not be before --from")
	}
	return opts, nil
}

func parseBound(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := series.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// Logs go to stderr so stdout carries only the advisory.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	svc, err := pipeline.NewFromConfig(cfg, metrics.NoopMetrics{}, logger)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	req := pipeline.Request{
		Parameters: cfg.CapacityParameters(),
		Options:    cfg.RunOptions(),
	}
	if opts.FromDB {
		history, err := loadHistory(ctx, cfg.Database, opts.From, opts.To)
		if err != nil {
			return err
		}
		req.History = history
	} else {
		table, err := series.ReadFile(opts.Input)
		if err != nil {
			return err
		}
		req.Table = &table
	}

	result, err := svc.Run(ctx, req)
	if err != nil {
		return err
	}

	printAdvisory(stdout, result)

	if opts.Out != "" {
		if err := writeWorkbook(opts.Out, result); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "\nWorkbook written to %s\n", opts.Out)
	}

	if opts.Email {
		recipients := opts.Recipients
		if len(recipients) == 0 {
			recipients = cfg.Notify.Recipients
		}
		if len(recipients) == 0 {
			return errors.New("--email requires --recipients or NOTIFY_RECIPIENTS")
		}
		mailer, err := notify.NewMailer(notify.MailerConfigFrom(cfg.SMTP, cfg.Notify.Subject), metrics.NoopMetrics{}, types.NewSlogLogger(logger))
		if err != nil {
			return fmt.Errorf("configuring mailer: %w", err)
		}
		if err := mailer.Send(ctx, result, recipients); err != nil {
			return fmt.Errorf("sending advisory: %w", err)
		}
		fmt.Fprintf(stdout, "Advisory emailed to %s\n", strings.Join(recipients, ", "))
	}
	return nil
}

func loadHistory(ctx context.Context, cfg config.DatabaseConfig, from, to time.Time) ([]types.Observation, error) {
	if cfg.URL.IsZero() {
		return nil, errors.New("--from-db requires DATABASE_URL")
	}
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	return db.NewObservationRepository(pool).List(ctx, from, to)
}

func writeWorkbook(path string, result *types.AdvisoryResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := report.WriteXLSX(f, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printAdvisory(w io.Writer, result *types.AdvisoryResult) {
	fmt.Fprintf(w, "Run %s\n", result.RunID)
	fmt.Fprintf(w, "Capacity limit: %d orders per peak window\n", result.CapacityLimit)
	fmt.Fprintf(w, "Days over capacity: %d of %d\n\n", result.TriggeredDays(), len(result.Records))

	fmt.Fprintln(w, "Advice:")
	for _, a := range report.Advise(result.Records) {
		marker := " "
		if a.Warning {
			marker = "!"
		}
		fmt.Fprintf(w, "  %s %s\n", marker, a.Message)
	}

	fmt.Fprintln(w, "\nSummary:")
	fmt.Fprintln(w, report.Summary(result.Records))
}
