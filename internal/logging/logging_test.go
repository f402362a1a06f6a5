package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"talk2me/internal/config"
)

func TestSamplingDisabledForFrameLogging(t *testing.T) {
	if c := buildConfig(config.LoggingConfig{Frames: true}, zap.InfoLevel); c.Sampling != nil {
		t.Error("frame logging must not sample log entries")
	}
	if c := buildConfig(config.LoggingConfig{}, zap.InfoLevel); c.Sampling == nil {
		t.Error("production logger should sample repeated entries")
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if _, err := NewLogger(config.LoggingConfig{Level: "debug"}); err != nil {
		t.Fatalf("debug level rejected: %v", err)
	}
}

func TestFrameLoggerLogsEveryFrame(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := NewFrameLogger(zap.New(core), true)

	// Far past any sampler threshold; every repeat must land.
	for i := 0; i < 250; i++ {
		f.Received([]byte(`{"operation":"sendmsg"}`))
	}
	f.Sent([]byte(`{"rpl":"Success"}`))

	if got := logs.Len(); got != 251 {
		t.Errorf("logged %d frames, want 251", got)
	}
}

func TestFrameLoggerDisabled(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := NewFrameLogger(zap.New(core), false)
	f.Received([]byte("x"))
	f.Sent([]byte("y"))
	if logs.Len() != 0 {
		t.Errorf("disabled frame logger wrote %d entries", logs.Len())
	}
}
