package events

import (
	"context"
	"log"
)

// Sink receives product analytics events from the generation lifecycle and
// the webhook reconciler. It is a passive capability injected by the caller;
// consumers must treat delivery as best-effort and never depend on it for
// correctness.
type Sink interface {
	Track(ctx context.Context, userID uint, event string, props map[string]interface{})
}

// Event names emitted by the core.
const (
	EventGenerationStarted   = "generation_started"
	EventGenerationSucceeded = "generation_succeeded"
	EventGenerationFailed    = "generation_failed"
	EventGenerationCanceled  = "generation_canceled"
	EventQuotaDenied         = "quota_denied"
	EventWebhookIgnored      = "webhook_ignored"
)

// LogSink writes events to the standard logger. Used in development and as
// the default when no analytics backend is configured.
type LogSink struct{}

func (LogSink) Track(ctx context.Context, userID uint, event string, props map[string]interface{}) {
	_ = ctx
	log.Printf("[Events] user=%d event=%s props=%v", userID, event, props)
}

// NoopSink discards all events.
type NoopSink struct{}

func (NoopSink) Track(ctx context.Context, userID uint, event string, props map[string]interface{}) {
}
