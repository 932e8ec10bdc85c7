// Command tailer follows the decision event stream and prints one JSON
// line per decision. It is the reference consumer for the decisions topic:
// pipe it into jq for ad-hoc inspection, or into a file for replay.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"spal/pkg/events"
)

// Testable variables for main()
var (
	logFatalf     = log.Fatalf
	newConsumerFn = func(cfg events.KafkaConfig) (decisionReader, error) {
		return events.NewConsumer(cfg)
	}
)

type decisionReader interface {
	Read(ctx context.Context) (events.Decision, error)
	Close() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runTailer(ctx, os.Stdout, newConsumerFn); err != nil && !errors.Is(err, context.Canceled) {
		logFatalf("tailer: %v", err)
	}
}

// runTailer reads decisions until the context is canceled or the stream
// errors, writing each as a JSON line. TAILER_MAX_EVENTS > 0 stops after
// that many events, for one-shot inspection.
func runTailer(ctx context.Context, out io.Writer, newConsumer func(events.KafkaConfig) (decisionReader, error)) error {
	consumer, err := newConsumer(events.KafkaConfig{
		Brokers: splitList(env("KAFKA_BROKERS", "")),
		Topic:   env("KAFKA_DECISIONS_TOPIC", "spal.decisions"),
		GroupID: env("KAFKA_GROUP_ID", "spal-tailer"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = consumer.Close() }()

	maxEvents := envInt("TAILER_MAX_EVENTS", 0)
	enc := json.NewEncoder(out)
	for n := 0; maxEvents <= 0 || n < maxEvents; n++ {
		d, err := consumer.Read(ctx)
		if err != nil {
			return err
		}
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
