package analytics

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	segment "github.com/segmentio/analytics-go/v3"
	"go.uber.org/zap"
)

const (
	EventToolCalled = "Tool Called"
	EventToolFailed = "Tool Failed"
)

// Tracker records product-usage events for assistant tool calls.
type Tracker interface {
	ToolCalled(apiKey, tool string, d time.Duration, err error)
	Close() error
}

// New returns a Segment-backed tracker, or a no-op tracker when writeKey is
// empty.
func New(log *zap.Logger, writeKey string) (Tracker, error) {
	if writeKey == "" {
		return Nop{}, nil
	}
	client, err := segment.NewWithConfig(writeKey, segment.Config{
		Interval:  5 * time.Second,
		BatchSize: 100,
		Logger:    zapLogger{log},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analytics client: %w", err)
	}
	return &segmentTracker{logger: log, client: client}, nil
}

type segmentTracker struct {
	logger *zap.Logger
	client segment.Client
}

func (t *segmentTracker) ToolCalled(apiKey, tool string, d time.Duration, err error) {
	event := EventToolCalled
	props := segment.NewProperties().
		Set("tool", tool).
		Set("duration_ms", d.Milliseconds())
	if err != nil {
		event = EventToolFailed
		props.Set("error", err.Error())
	}

	if err := t.client.Enqueue(segment.Track{
		UserId:     UserID(apiKey),
		Event:      event,
		Properties: props,
	}); err != nil {
		t.logger.Warn("Failed to enqueue analytics event", zap.String("tool", tool), zap.Error(err))
	}
}

func (t *segmentTracker) Close() error {
	return t.client.Close()
}

// UserID derives a stable pseudonymous id so raw API keys never leave the
// process.
func UserID(apiKey string) string {
	if apiKey == "" {
		return "anonymous"
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(apiKey)).String()
}

// Nop discards every event.
type Nop struct{}

func (Nop) ToolCalled(string, string, time.Duration, error) {}
func (Nop) Close() error                                     { return nil }

type zapLogger struct {
	l *zap.Logger
}

func (z zapLogger) Logf(format string, args ...interface{}) {
	z.l.Debug(fmt.Sprintf(format, args...))
}

func (z zapLogger) Errorf(format string, args ...interface{}) {
	z.l.Warn(fmt.Sprintf(format, args...))
}
