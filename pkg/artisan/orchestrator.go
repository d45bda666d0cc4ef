package artisan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransactionHandle tracks one submitted ledger write from pending to a
// terminal state. It transitions exactly once.
type TransactionHandle struct {
	Hash        string
	Kind        OperationKind
	ItemID      uint64
	Actor       string
	Epoch       uint64
	SubmittedAt time.Time

	mu      sync.Mutex
	state   TxState
	err     error
	receipt *Receipt
	done    chan struct{}
	once    sync.Once
}

func newHandle(hash string, kind OperationKind, itemID uint64, b *Binding, now time.Time) *TransactionHandle {
	return &TransactionHandle{
		Hash:        hash,
		Kind:        kind,
		ItemID:      itemID,
		Actor:       b.Identity,
		Epoch:       b.Epoch,
		SubmittedAt: now,
		state:       TxPending,
		done:        make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (h *TransactionHandle) State() TxState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the failure reason of a failed handle.
func (h *TransactionHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Receipt returns the inclusion receipt once the handle is terminal.
func (h *TransactionHandle) Receipt() *Receipt {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.receipt
}

// Done is closed when the handle reaches a terminal state.
func (h *TransactionHandle) Done() <-chan struct{} {
	return h.done
}

func (h *TransactionHandle) resolve(state TxState, receipt *Receipt, err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.state = state
		h.receipt = receipt
		h.err = err
		h.mu.Unlock()
		close(h.done)
	})
}

// Authorizer is the session view the Orchestrator depends on. *Session
// implements it.
type Authorizer interface {
	LedgerSource
	Authorize(kind OperationKind) (*Binding, error)
	Epoch() uint64
}

// Invalidator drops cached item views. *Aggregator implements it.
type Invalidator interface {
	Invalidate(id uint64)
	InvalidateAll()
}

// Outcome is the terminal result of an orchestrated flow.
type Outcome struct {
	Handle            *TransactionHandle `json:"-"`
	Hash              string             `json:"hash,omitempty"`
	State             TxState            `json:"state,omitempty"`
	Receipt           *Receipt           `json:"receipt,omitempty"`
	ItemID            uint64             `json:"item_id,omitempty"`
	Listing           *Outcome           `json:"listing,omitempty"`
	AlreadyRegistered bool               `json:"already_registered,omitempty"`
}

// Orchestrator submits state-changing operations through the Session and
// tracks them to completion.
type Orchestrator struct {
	session     Authorizer
	invalidator Invalidator
	repository  Repository
	eventSink   EventSink
	hooks       *Hooks
	logger      *slog.Logger
	now         func() time.Time

	watchers sync.WaitGroup
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithInvalidator sets the view cache dropped after confirmations and stale rejections
func WithInvalidator(inv Invalidator) OrchestratorOption {
	return func(o *Orchestrator) {
		o.invalidator = inv
	}
}

// WithRepository sets the activity journal
func WithRepository(repo Repository) OrchestratorOption {
	return func(o *Orchestrator) {
		o.repository = repo
	}
}

// WithEventSink sets the event sink for transaction lifecycle events
func WithEventSink(sink EventSink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.eventSink = sink
	}
}

// WithHooks sets the lifecycle hooks
func WithHooks(hooks *Hooks) OrchestratorOption {
	return func(o *Orchestrator) {
		o.hooks = hooks
	}
}

// WithOrchestratorLogger sets the orchestrator logger
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithOrchestratorClock sets the time source for handles and journal entries
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an Orchestrator submitting through session.
func NewOrchestrator(session Authorizer, opts ...OrchestratorOption) (*Orchestrator, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}
	o := &Orchestrator{
		session: session,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.eventSink == nil {
		o.eventSink = NewNoopEventSink()
	}
	return o, nil
}

// Submit authorizes, validates and signs op and returns a pending handle.
// Synchronous rejections return an *OperationError and no handle.
func (o *Orchestrator) Submit(ctx context.Context, op Operation) (*TransactionHandle, error) {
	b, err := o.session.Authorize(op.Kind)
	if err != nil {
		return nil, o.reject(ctx, op, err)
	}
	if err := validateOperation(op); err != nil {
		return nil, o.reject(ctx, op, err)
	}
	if err := o.hooks.executeBeforeSubmit(ctx, &op, b.Identity); err != nil {
		return nil, o.reject(ctx, op, err)
	}
	if err := checkPreconditions(ctx, b, op); err != nil {
		return nil, o.reject(ctx, op, err)
	}

	tx, err := send(ctx, b.Ledger, op)
	if err != nil {
		return nil, o.reject(ctx, op, Classify(err))
	}

	h := newHandle(tx.Hash(), op.Kind, op.ItemID, b, o.now())
	o.logger.Info("transaction submitted", "kind", h.Kind, "hash", h.Hash, "item_id", h.ItemID, "actor", h.Actor)
	if err := o.eventSink.TransactionSubmitted(ctx, h); err != nil {
		o.logger.Warn("event sink failed", "event", "submitted", "hash", h.Hash, "err", err)
	}
	if err := o.hooks.executeAfterSubmit(ctx, h); err != nil {
		o.logger.Warn("after-submit hook failed", "hash", h.Hash, "err", err)
	}

	o.watchers.Add(1)
	go o.watch(h, tx)

	return h, nil
}

// Await blocks until h is terminal or ctx is done. Expiry of ctx leaves the
// handle pending and reports ErrIndeterminate; it is not a failure.
func (o *Orchestrator) Await(ctx context.Context, h *TransactionHandle) (*Receipt, error) {
	select {
	case <-h.Done():
		if h.State() == TxConfirmed {
			return h.Receipt(), nil
		}
		return h.Receipt(), h.Err()
	case <-ctx.Done():
		return nil, &OperationError{
			Kind:   h.Kind,
			ItemID: h.ItemID,
			Hash:   h.Hash,
			Err:    fmt.Errorf("%w: %w", ErrIndeterminate, ctx.Err()),
		}
	}
}

// Drain blocks until every submitted handle has resolved.
func (o *Orchestrator) Drain() {
	o.watchers.Wait()
}

// Execute submits op and awaits its outcome.
func (o *Orchestrator) Execute(ctx context.Context, op Operation) (*Outcome, error) {
	h, err := o.Submit(ctx, op)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Handle: h, Hash: h.Hash, ItemID: op.ItemID, State: TxPending}
	receipt, err := o.Await(ctx, h)
	out.Receipt = receipt
	if !errors.Is(err, ErrIndeterminate) {
		out.State = h.State()
	}
	return out, err
}

// Mint mints an item and, when args.InitialPrice is positive, lists it once
// the mint confirms. The new id comes from the mint receipt, falling back to
// the issued count.
func (o *Orchestrator) Mint(ctx context.Context, args MintArgs) (*Outcome, error) {
	out, err := o.Execute(ctx, MintOperation(args))
	if err != nil {
		return out, err
	}

	itemID := out.Receipt.ItemID
	if itemID == 0 {
		r, err := o.session.Reader(ctx)
		if err != nil {
			return out, err
		}
		total, err := r.TotalIssued(ctx)
		if err != nil {
			return out, fmt.Errorf("resolve minted item id: %w", err)
		}
		itemID = total
	}
	out.ItemID = itemID

	if args.InitialPrice == nil || args.InitialPrice.Sign() <= 0 {
		return out, nil
	}
	listing, err := o.Execute(ctx, ListOperation(itemID, args.InitialPrice))
	out.Listing = listing
	return out, err
}

// List lists an owned item for sale.
func (o *Orchestrator) List(ctx context.Context, id uint64, price *big.Int) (*Outcome, error) {
	return o.Execute(ctx, ListOperation(id, price))
}

// Delist removes an owned item from sale.
func (o *Orchestrator) Delist(ctx context.Context, id uint64) (*Outcome, error) {
	return o.Execute(ctx, DelistOperation(id))
}

// Purchase buys a listed item paying the given amount.
func (o *Orchestrator) Purchase(ctx context.Context, id uint64, payment *big.Int) (*Outcome, error) {
	return o.Execute(ctx, PurchaseOperation(id, payment))
}

// RegisterCreator grants the creator role. An identity that already holds it
// is reported as a no-op success without submitting.
func (o *Orchestrator) RegisterCreator(ctx context.Context, identity string) (*Outcome, error) {
	op := RegisterCreatorOperation(identity)
	b, err := o.session.Authorize(op.Kind)
	if err != nil {
		return nil, o.reject(ctx, op, err)
	}
	if err := validateOperation(op); err != nil {
		return nil, o.reject(ctx, op, err)
	}

	has, err := b.Ledger.HasRole(ctx, RoleCreator, identity)
	if err != nil {
		return nil, o.reject(ctx, op, Classify(err))
	}
	if has {
		o.logger.Info("creator already registered", "identity", identity)
		return &Outcome{AlreadyRegistered: true, State: TxConfirmed}, nil
	}
	return o.Execute(ctx, op)
}

func (o *Orchestrator) watch(h *TransactionHandle, tx Transaction) {
	defer o.watchers.Done()
	ctx := context.Background()

	receipt, err := tx.Wait(ctx)
	switch {
	case err != nil:
		o.finish(ctx, h, TxFailed, receipt, Classify(err))
	case receipt == nil:
		o.finish(ctx, h, TxFailed, nil, fmt.Errorf("%w: no receipt", ErrTransactionFailed))
	case !receipt.Success:
		o.finish(ctx, h, TxFailed, receipt, revertError(receipt))
	default:
		o.finish(ctx, h, TxConfirmed, receipt, nil)
	}
}

// revertError classifies a reverted receipt. A revert means the ledger
// re-validated a precondition at execution time and it no longer held.
func revertError(receipt *Receipt) error {
	reason := strings.TrimSpace(receipt.Reason)
	if reason == "" {
		return fmt.Errorf("%w: transaction reverted", ErrStaleState)
	}
	return Classify(fmt.Errorf("execution reverted: %s", reason))
}

// finish applies the side effects of a terminal outcome, then resolves h.
func (o *Orchestrator) finish(ctx context.Context, h *TransactionHandle, state TxState, receipt *Receipt, cause error) {
	var failure error
	if cause != nil {
		failure = &OperationError{Kind: h.Kind, ItemID: h.ItemID, Hash: h.Hash, Err: cause}
	}

	itemID := h.ItemID
	if h.Kind == OpMint && receipt != nil {
		itemID = receipt.ItemID
	}

	if o.invalidator != nil && h.Epoch == o.session.Epoch() {
		switch {
		case h.Kind == OpMint && state == TxConfirmed:
			// A new item changes the listing itself, not one entry of it.
			o.invalidator.InvalidateAll()
		case h.ItemID != 0:
			o.invalidator.Invalidate(h.ItemID)
		}
	}

	if o.repository != nil {
		activity := &Activity{
			ID:        uuid.New(),
			Kind:      h.Kind,
			ItemID:    itemID,
			Hash:      h.Hash,
			Actor:     h.Actor,
			State:     state,
			CreatedAt: o.now(),
		}
		if cause != nil {
			activity.Reason = cause.Error()
		}
		if err := o.repository.RecordActivity(ctx, activity); err != nil {
			o.logger.Warn("failed to record activity", "hash", h.Hash, "err", err)
		}
	}

	if state == TxConfirmed {
		o.logger.Info("transaction confirmed", "kind", h.Kind, "hash", h.Hash, "item_id", itemID, "block", receipt.BlockNumber)
		if err := o.eventSink.TransactionConfirmed(ctx, h, receipt); err != nil {
			o.logger.Warn("event sink failed", "event", "confirmed", "hash", h.Hash, "err", err)
		}
		if err := o.hooks.executeOnConfirmed(ctx, h, receipt); err != nil {
			o.logger.Warn("confirmed hook failed", "hash", h.Hash, "err", err)
		}
	} else {
		o.logger.Warn("transaction failed", "kind", h.Kind, "hash", h.Hash, "item_id", h.ItemID, "err", cause)
		if err := o.eventSink.TransactionFailed(ctx, h, failure); err != nil {
			o.logger.Warn("event sink failed", "event", "failed", "hash", h.Hash, "err", err)
		}
		if err := o.hooks.executeOnFailed(ctx, h, failure); err != nil {
			o.logger.Warn("failed hook failed", "hash", h.Hash, "err", err)
		}
	}

	h.resolve(state, receipt, failure)
}

func (o *Orchestrator) reject(ctx context.Context, op Operation, err error) error {
	if errors.Is(err, ErrStaleState) && op.ItemID != 0 && o.invalidator != nil {
		o.invalidator.Invalidate(op.ItemID)
	}
	o.hooks.executeOnError(ctx, op.Kind, err)
	o.logger.Warn("operation rejected", "kind", op.Kind, "item_id", op.ItemID, "err", err)
	return &OperationError{Kind: op.Kind, ItemID: op.ItemID, Err: err}
}

func validateOperation(op Operation) error {
	switch op.Kind {
	case OpMint:
		if op.Mint == nil {
			return fmt.Errorf("%w: mint arguments are required", ErrInvalidArgument)
		}
		if !ValidIdentity(op.Mint.Owner) {
			return fmt.Errorf("%w: malformed owner address %q", ErrInvalidArgument, op.Mint.Owner)
		}
		if strings.TrimSpace(op.Mint.Locator) == "" {
			return fmt.Errorf("%w: content locator is required", ErrInvalidArgument)
		}
		if op.Mint.InitialPrice != nil && op.Mint.InitialPrice.Sign() < 0 {
			return fmt.Errorf("%w: initial price must not be negative", ErrInvalidArgument)
		}
	case OpList:
		if op.ItemID == 0 {
			return fmt.Errorf("%w: item id is required", ErrInvalidArgument)
		}
		if op.Price == nil || op.Price.Sign() <= 0 {
			return fmt.Errorf("%w: price must be a positive amount", ErrInvalidArgument)
		}
	case OpDelist:
		if op.ItemID == 0 {
			return fmt.Errorf("%w: item id is required", ErrInvalidArgument)
		}
	case OpPurchase:
		if op.ItemID == 0 {
			return fmt.Errorf("%w: item id is required", ErrInvalidArgument)
		}
		if op.Payment == nil || op.Payment.Sign() < 0 {
			return fmt.Errorf("%w: payment amount is required", ErrInvalidArgument)
		}
	case OpRegisterCreator:
		if !ValidIdentity(op.Identity) {
			return fmt.Errorf("%w: malformed address %q", ErrInvalidArgument, op.Identity)
		}
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidArgument, op.Kind)
	}
	return nil
}

// checkPreconditions verifies ownership and listing state against the
// ledger. The purchase price is never checked here; the ledger arbitrates it.
func checkPreconditions(ctx context.Context, b *Binding, op Operation) error {
	switch op.Kind {
	case OpList, OpDelist, OpPurchase:
	default:
		return nil
	}

	owner, err := b.Ledger.OwnerOf(ctx, op.ItemID)
	if err != nil {
		return &ItemError{ItemID: op.ItemID, Op: "owner", Err: err}
	}
	isOwner := SameIdentity(owner, b.Identity)

	switch op.Kind {
	case OpList:
		if !isOwner {
			return fmt.Errorf("%w: only the owner can list item %d", ErrUnauthorized, op.ItemID)
		}
	case OpDelist:
		if !isOwner {
			return fmt.Errorf("%w: only the owner can delist item %d", ErrUnauthorized, op.ItemID)
		}
		sale, err := b.Ledger.SaleState(ctx, op.ItemID)
		if err != nil {
			return &ItemError{ItemID: op.ItemID, Op: "sale_state", Err: err}
		}
		if !sale.ForSale {
			return fmt.Errorf("%w: item %d is not listed", ErrStaleState, op.ItemID)
		}
	case OpPurchase:
		if isOwner {
			return fmt.Errorf("%w: the owner cannot purchase item %d", ErrUnauthorized, op.ItemID)
		}
	}
	return nil
}

func send(ctx context.Context, l LedgerWriter, op Operation) (Transaction, error) {
	switch op.Kind {
	case OpMint:
		return l.Mint(ctx, *op.Mint)
	case OpList:
		return l.List(ctx, op.ItemID, op.Price)
	case OpDelist:
		return l.Delist(ctx, op.ItemID)
	case OpPurchase:
		return l.Purchase(ctx, op.ItemID, op.Payment)
	case OpRegisterCreator:
		return l.RegisterCreator(ctx, op.Identity)
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidArgument, op.Kind)
	}
}
