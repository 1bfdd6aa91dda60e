// Command replay-events feeds recorded webhook deliveries, one JSON body
// per line, through the reconciler against the configured store.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/jia-app/subscriptionservice/internal/app"
	"github.com/jia-app/subscriptionservice/internal/config"
	"github.com/jia-app/subscriptionservice/internal/events"
	sharedlog "github.com/jia-app/subscriptionservice/internal/log"
	"github.com/jia-app/subscriptionservice/internal/subscription/domain"
	"github.com/jia-app/subscriptionservice/internal/subscription/usecase"
	"github.com/jia-app/subscriptionservice/internal/subscription/webhook"
)

const maxLineBytes = 1 << 20

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdin, os.Stdout))
}

// realMain returns the process exit code so deferred cleanup runs before
// the process exits.
func realMain(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("replay-events", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML config file")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: replay-events [-config config.yaml] <events.jsonl | ->")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}
	if err := sharedlog.Init(cfg.Log.Level); err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 1
	}
	defer func() { _ = sharedlog.L(context.Background()).Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in := stdin
	if path := fs.Arg(0); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			log.Printf("Failed to open %s: %v", path, err)
			return 1
		}
		defer f.Close()
		in = f
	}

	store, pool, err := app.OpenStore(ctx, cfg.Storage, sharedlog.L(ctx))
	if err != nil {
		log.Printf("Failed to open subscription store: %v", err)
		return 1
	}
	if pool != nil {
		defer pool.Close()
	}

	notifier, err := app.NewNotifier(ctx, cfg.Events)
	if err != nil {
		log.Printf("Failed to initialize notifier: %v", err)
		return 1
	}
	defer closeNotifier(ctx, notifier)

	reconciler := usecase.NewReconciler(store, usecase.WithNotifier(notifier))
	summary, err := run(ctx, in, webhook.NewParser(), reconciler)
	fmt.Fprintln(stdout, summary)
	if err != nil {
		log.Printf("Replay aborted: %v", err)
		return 1
	}
	if summary.Failed > 0 {
		return 1
	}
	return 0
}

// closeNotifier flushes and releases notifiers that hold a connection.
func closeNotifier(ctx context.Context, n events.Notifier) {
	c, ok := n.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		sharedlog.Error(ctx, "Failed to close notifier", zap.Error(err))
	}
}

type reconciler interface {
	Reconcile(ctx context.Context, ev domain.Event) (usecase.Outcome, error)
}

// Summary counts what each replayed line did.
type Summary struct {
	Applied   int
	Ignored   int
	Stale     int
	Malformed int
	Failed    int
}

func (s Summary) String() string {
	return fmt.Sprintf("applied=%d ignored=%d stale=%d malformed=%d failed=%d",
		s.Applied, s.Ignored, s.Stale, s.Malformed, s.Failed)
}

// run replays every non-blank line of in. Malformed lines and store
// failures are counted and skipped; only read errors and cancellation
// stop the replay.
func run(ctx context.Context, in io.Reader, parser *webhook.Parser, r reconciler) (Summary, error) {
	var summary Summary

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		ev, err := parser.Parse([]byte(line))
		if err != nil {
			sharedlog.Warn(ctx, "Skipping malformed line", zap.Int("line", lineNo), zap.Error(err))
			summary.Malformed++
			continue
		}

		outcome, err := r.Reconcile(ctx, ev)
		if err != nil {
			sharedlog.Error(ctx, "Failed to reconcile line", zap.Int("line", lineNo), zap.Error(err))
			summary.Failed++
			continue
		}

		switch outcome {
		case usecase.OutcomeApplied:
			summary.Applied++
		case usecase.OutcomeStale:
			summary.Stale++
		default:
			summary.Ignored++
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("failed to read events: %w", err)
	}

	return summary, nil
}
