package artisan

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// TransactionSubmitted does nothing and returns nil
func (n *NoopEventSink) TransactionSubmitted(ctx context.Context, handle *TransactionHandle) error {
	return nil
}

// TransactionConfirmed does nothing and returns nil
func (n *NoopEventSink) TransactionConfirmed(ctx context.Context, handle *TransactionHandle, receipt *Receipt) error {
	return nil
}

// TransactionFailed does nothing and returns nil
func (n *NoopEventSink) TransactionFailed(ctx context.Context, handle *TransactionHandle, reason error) error {
	return nil
}

// SessionChanged does nothing and returns nil
func (n *NoopEventSink) SessionChanged(ctx context.Context, snapshot SessionSnapshot) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action
// Useful for development and debugging
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink. A nil logger selects
// slog.Default().
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

// TransactionSubmitted logs the submission
func (l *LoggingEventSink) TransactionSubmitted(ctx context.Context, handle *TransactionHandle) error {
	l.logger.InfoContext(ctx, "transaction submitted", "kind", handle.Kind, "hash", handle.Hash, "item_id", handle.ItemID)
	return nil
}

// TransactionConfirmed logs the confirmation
func (l *LoggingEventSink) TransactionConfirmed(ctx context.Context, handle *TransactionHandle, receipt *Receipt) error {
	l.logger.InfoContext(ctx, "transaction confirmed", "kind", handle.Kind, "hash", handle.Hash, "item_id", handle.ItemID, "block", receipt.BlockNumber)
	return nil
}

// TransactionFailed logs the failure
func (l *LoggingEventSink) TransactionFailed(ctx context.Context, handle *TransactionHandle, reason error) error {
	l.logger.WarnContext(ctx, "transaction failed", "kind", handle.Kind, "hash", handle.Hash, "item_id", handle.ItemID, "err", reason)
	return nil
}

// SessionChanged logs the session transition
func (l *LoggingEventSink) SessionChanged(ctx context.Context, snapshot SessionSnapshot) error {
	l.logger.InfoContext(ctx, "session changed", "state", snapshot.State, "identity", snapshot.Identity, "epoch", snapshot.Epoch)
	return nil
}
