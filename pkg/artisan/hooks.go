package artisan

import (
	"context"
)

// Hooks allow extending the Orchestrator without modifying it. They run at
// fixed points of a transaction's lifecycle.
type Hooks struct {
	BeforeSubmit []BeforeSubmitHook
	AfterSubmit  []AfterSubmitHook
	OnConfirmed  []ConfirmedHook
	OnFailed     []FailedHook
	OnError      []ErrorHook
}

// HookContext carries information through the hook chain
type HookContext struct {
	Context   context.Context
	Metadata  map[string]interface{} // Custom metadata passed between hooks
	StopChain bool                   // Set to true to stop processing remaining hooks
}

// NewHookContext creates a new hook context
func NewHookContext(ctx context.Context) *HookContext {
	return &HookContext{
		Context:  ctx,
		Metadata: make(map[string]interface{}),
	}
}

// BeforeSubmitHook is called after authorization and before signing. A
// returned error aborts the submission.
type BeforeSubmitHook func(hctx *HookContext, op *Operation, identity string) error

// AfterSubmitHook is called once a handle exists
type AfterSubmitHook func(hctx *HookContext, handle *TransactionHandle) error

// ConfirmedHook is called when a handle reaches TxConfirmed
type ConfirmedHook func(hctx *HookContext, handle *TransactionHandle, receipt *Receipt) error

// FailedHook is called when a handle reaches TxFailed
type FailedHook func(hctx *HookContext, handle *TransactionHandle, reason error) error

// ErrorHook is called when a submission is rejected synchronously
type ErrorHook func(hctx *HookContext, kind OperationKind, err error)

func (h *Hooks) executeBeforeSubmit(ctx context.Context, op *Operation, identity string) error {
	if h == nil || len(h.BeforeSubmit) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.BeforeSubmit {
		if err := hook(hctx, op, identity); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeAfterSubmit(ctx context.Context, handle *TransactionHandle) error {
	if h == nil || len(h.AfterSubmit) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterSubmit {
		if err := hook(hctx, handle); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeOnConfirmed(ctx context.Context, handle *TransactionHandle, receipt *Receipt) error {
	if h == nil || len(h.OnConfirmed) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnConfirmed {
		if err := hook(hctx, handle, receipt); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeOnFailed(ctx context.Context, handle *TransactionHandle, reason error) error {
	if h == nil || len(h.OnFailed) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnFailed {
		if err := hook(hctx, handle, reason); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeOnError(ctx context.Context, kind OperationKind, err error) {
	if h == nil || len(h.OnError) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnError {
		hook(hctx, kind, err)
		if hctx.StopChain {
			break
		}
	}
}

// ValidationHook adds custom validation ahead of signing
func ValidationHook(validator func(*Operation) error) BeforeSubmitHook {
	return func(hctx *HookContext, op *Operation, identity string) error {
		return validator(op)
	}
}

// MetricsHook tracks transaction counters
func MetricsHook(metrics interface {
	IncrementCounter(name string)
}) *Hooks {
	return &Hooks{
		AfterSubmit: []AfterSubmitHook{
			func(hctx *HookContext, handle *TransactionHandle) error {
				metrics.IncrementCounter("tx.submitted." + string(handle.Kind))
				return nil
			},
		},
		OnConfirmed: []ConfirmedHook{
			func(hctx *HookContext, handle *TransactionHandle, receipt *Receipt) error {
				metrics.IncrementCounter("tx.confirmed." + string(handle.Kind))
				return nil
			},
		},
		OnFailed: []FailedHook{
			func(hctx *HookContext, handle *TransactionHandle, reason error) error {
				metrics.IncrementCounter("tx.failed." + string(handle.Kind))
				return nil
			},
		},
		OnError: []ErrorHook{
			func(hctx *HookContext, kind OperationKind, err error) {
				metrics.IncrementCounter("tx.rejected." + string(kind))
			},
		},
	}
}
