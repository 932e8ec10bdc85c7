package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"spal/pkg/events"
)

type stubReader struct {
	decisions []events.Decision
	closed    bool
}

func (s *stubReader) Read(ctx context.Context) (events.Decision, error) {
	if err := ctx.Err(); err != nil {
		return events.Decision{}, err
	}
	if len(s.decisions) == 0 {
		return events.Decision{}, errors.New("stream done")
	}
	d := s.decisions[0]
	s.decisions = s.decisions[1:]
	return d, nil
}

func (s *stubReader) Close() error {
	s.closed = true
	return nil
}

func TestRunTailerWritesDecisionLines(t *testing.T) {
	reader := &stubReader{decisions: []events.Decision{
		{DecisionID: "d1", PolicyID: "p1", Valid: true, At: "2026-08-29T00:00:00Z"},
		{DecisionID: "d2", PolicyID: "p1", Valid: false, Reason: "insufficient payment: required 10, supplied 5"},
	}}

	var out strings.Builder
	err := runTailer(context.Background(), &out, func(cfg events.KafkaConfig) (decisionReader, error) {
		return reader, nil
	})
	if err == nil || err.Error() != "stream done" {
		t.Fatalf("err = %v", err)
	}
	if !reader.closed {
		t.Fatal("reader not closed")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d: %q", len(lines), out.String())
	}
	if !strings.Contains(lines[0], `"decision_id":"d1"`) || !strings.Contains(lines[0], `"valid":true`) {
		t.Fatalf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[1], `"reason":"insufficient payment: required 10, supplied 5"`) {
		t.Fatalf("second line = %q", lines[1])
	}
}

func TestRunTailerStopsAfterMaxEvents(t *testing.T) {
	t.Setenv("TAILER_MAX_EVENTS", "1")
	reader := &stubReader{decisions: []events.Decision{
		{DecisionID: "d1", PolicyID: "p1", Valid: true},
		{DecisionID: "d2", PolicyID: "p1", Valid: true},
	}}

	var out strings.Builder
	err := runTailer(context.Background(), &out, func(cfg events.KafkaConfig) (decisionReader, error) {
		return reader, nil
	})
	if err != nil {
		t.Fatalf("runTailer: %v", err)
	}
	if got := strings.Count(out.String(), "\n"); got != 1 {
		t.Fatalf("event lines = %d", got)
	}
}

func TestRunTailerConsumerError(t *testing.T) {
	var out strings.Builder
	err := runTailer(context.Background(), &out, func(cfg events.KafkaConfig) (decisionReader, error) {
		return nil, errors.New("no brokers")
	})
	if err == nil || err.Error() != "no brokers" {
		t.Fatalf("err = %v", err)
	}
}

func TestRunTailerDefaultConsumerNeedsBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	var out strings.Builder
	err := runTailer(context.Background(), &out, newConsumerFn)
	if err == nil || !strings.Contains(err.Error(), "kafka brokers required") {
		t.Fatalf("err = %v", err)
	}
}

func TestMainReportsStreamError(t *testing.T) {
	origLogFatalf := logFatalf
	origNewConsumer := newConsumerFn
	defer func() {
		logFatalf = origLogFatalf
		newConsumerFn = origNewConsumer
	}()

	fatalCalled := false
	logFatalf = func(format string, args ...any) { fatalCalled = true }
	newConsumerFn = func(cfg events.KafkaConfig) (decisionReader, error) {
		return &stubReader{}, nil
	}

	main()

	if !fatalCalled {
		t.Fatal("logFatalf not called on stream error")
	}
}
