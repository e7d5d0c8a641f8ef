package log_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/platforma-dev/clinicdb/log"
)

func TestEvent(t *testing.T) {
	t.Parallel()

	t.Run("level escalates and never lowers", func(t *testing.T) {
		t.Parallel()

		e := log.NewEvent("migration.run")
		e.AddStep(slog.LevelInfo, "begin")
		e.SetLevel(slog.LevelWarn)
		e.AddStep(slog.LevelInfo, "commit")

		if e.Level() != slog.LevelWarn {
			t.Errorf("expected WARN, got %s", e.Level())
		}

		e.AddError(errors.New("boom"))
		if e.Level() != slog.LevelError {
			t.Errorf("expected ERROR, got %s", e.Level())
		}
		if !e.HasErrors() {
			t.Error("expected event to have errors")
		}
	})

	t.Run("nil error is ignored", func(t *testing.T) {
		t.Parallel()

		e := log.NewEvent("migration.run")
		e.AddError(nil)

		if e.HasErrors() {
			t.Error("expected no errors")
		}
	})

	t.Run("counts steps by outcome", func(t *testing.T) {
		t.Parallel()

		e := log.NewEvent("migration.run")
		e.AddStepOutcome(slog.LevelInfo, "a", "applied", time.Millisecond)
		e.AddStepOutcome(slog.LevelInfo, "b", "skipped", 0)
		e.AddStepOutcome(slog.LevelInfo, "c", "applied", time.Millisecond)

		if got := e.StepCount("applied"); got != 2 {
			t.Errorf("expected 2 applied steps, got %d", got)
		}
		if got := e.StepCount(""); got != 3 {
			t.Errorf("expected 3 steps, got %d", got)
		}
	})

	t.Run("custom attrs cannot shadow builtins", func(t *testing.T) {
		t.Parallel()

		e := log.NewEvent("migration.run")
		e.AddAttrs(map[string]any{"name": "shadow", "database": "main"})

		var names []string
		for _, attr := range e.ToAttrs() {
			names = append(names, attr.Key)
			if attr.Key == "name" && attr.Value.String() != "migration.run" {
				t.Errorf("expected builtin name, got %s", attr.Value.String())
			}
		}

		if !strings.Contains(strings.Join(names, ","), "database") {
			t.Errorf("expected custom attr in %v", names)
		}
	})
}

func TestWideEventLogger(t *testing.T) {
	t.Parallel()

	t.Run("writes sampled events", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		l := log.NewWideEventLogger(&buf, nil, "json", nil)

		e := log.NewEvent("migration.run")
		e.AddAttrs(map[string]any{"status": "committed"})
		l.WriteEvent(context.Background(), e)

		if !strings.Contains(buf.String(), `"status":"committed"`) {
			t.Errorf("expected event in output, got: %s", buf.String())
		}
		if e.Duration() <= 0 {
			t.Error("expected event to be finished")
		}
	})

	t.Run("drops events the sampler rejects", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		l := log.NewWideEventLogger(&buf, log.SamplerFunc(func(context.Context, *log.Event) bool {
			return false
		}), "text", nil)

		l.WriteEvent(context.Background(), log.NewEvent("migration.run"))

		if buf.Len() != 0 {
			t.Errorf("expected no output, got: %s", buf.String())
		}
	})

	t.Run("nil logger is a no-op", func(t *testing.T) {
		t.Parallel()

		var l *log.WideEventLogger
		l.WriteEvent(context.Background(), log.NewEvent("migration.run"))
	})
}

func TestDefaultSampler(t *testing.T) {
	t.Parallel()

	s := log.NewDefaultSampler(time.Hour, "applied", 0)

	quiet := log.NewEvent("migration.run")
	quiet.AddStepOutcome(slog.LevelInfo, "a", "skipped", 0)
	quiet.Finish()
	if s.ShouldSample(context.Background(), quiet) {
		t.Error("expected run without changes to be dropped")
	}

	changed := log.NewEvent("migration.run")
	changed.AddStepOutcome(slog.LevelInfo, "a", "applied", 0)
	changed.Finish()
	if !s.ShouldSample(context.Background(), changed) {
		t.Error("expected run with applied steps to be kept")
	}

	failed := log.NewEvent("migration.run")
	failed.AddError(errors.New("syntax error"))
	failed.Finish()
	if !s.ShouldSample(context.Background(), failed) {
		t.Error("expected failed run to be kept")
	}
}
