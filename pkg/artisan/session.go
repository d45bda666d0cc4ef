package artisan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// SessionEventKind identifies a Session transition reported to listeners.
type SessionEventKind string

// Session event kinds.
const (
	// SessionDerived fires after identity and roles were (re)computed.
	SessionDerived SessionEventKind = "derived"
	// SessionReset fires after the identity was cleared.
	SessionReset SessionEventKind = "reset"
	// SessionTornDown fires after a network change invalidated every binding.
	SessionTornDown SessionEventKind = "torn_down"
)

// SessionEvent is delivered to Session listeners after a transition.
type SessionEvent struct {
	Kind     SessionEventKind
	Snapshot SessionSnapshot
}

// Binding is the signing context captured for one submission.
type Binding struct {
	Ledger   Ledger
	Identity string
	Roles    Roles
	Epoch    uint64
}

// Session holds the connected identity, its ledger binding and the
// authorization flags derived for it. Only the connect, disconnect and
// provider notification paths mutate it.
type Session struct {
	provider  Provider
	binder    LedgerBinder
	eventSink EventSink
	logger    *slog.Logger

	// gate is held for writing while a binding and its roles are derived.
	// Readers take it shared so no read proceeds on half-derived state.
	gate sync.RWMutex

	mu       sync.Mutex
	state    SessionState
	identity string
	roles    Roles
	caps     Capabilities
	ledger   Ledger
	public   LedgerReader
	epoch    uint64
	lastErr  error

	listenerMu   sync.Mutex
	listeners    map[int]func(SessionEvent)
	nextListener int

	unsubscribe func()
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithProvider sets the signer provider. A Session without one stays
// read-only.
func WithProvider(p Provider) SessionOption {
	return func(s *Session) {
		s.provider = p
	}
}

// WithBinder sets the ledger binder
func WithBinder(b LedgerBinder) SessionOption {
	return func(s *Session) {
		s.binder = b
	}
}

// WithSessionEventSink sets the sink notified after every transition
func WithSessionEventSink(sink EventSink) SessionOption {
	return func(s *Session) {
		s.eventSink = sink
	}
}

// WithSessionLogger sets the session logger
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession creates a disconnected Session.
func NewSession(opts ...SessionOption) (*Session, error) {
	s := &Session{
		state:     SessionDisconnected,
		logger:    slog.Default(),
		listeners: make(map[int]func(SessionEvent)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.binder == nil {
		return nil, fmt.Errorf("ledger binder is required")
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	s.caps = deriveCapabilities(principal{})
	return s, nil
}

// Start subscribes to provider notifications and restores a previously
// authorized identity without prompting. Without a provider the Session
// records ErrProviderUnavailable and stays read-only.
func (s *Session) Start(ctx context.Context) error {
	if s.provider == nil {
		s.mu.Lock()
		s.lastErr = ErrProviderUnavailable
		s.mu.Unlock()
		s.logger.Warn("no signer provider configured, continuing read-only")
		return nil
	}

	s.unsubscribe = s.provider.Subscribe(s.handleProviderEvent)

	ids, err := s.provider.CurrentIdentities(ctx)
	if err != nil {
		s.logger.Warn("failed to read authorized identities", "err", err)
		return nil
	}
	if len(ids) > 0 {
		if err := s.derive(ctx, ids[0]); err != nil {
			s.logger.Warn("failed to restore session", "identity", ids[0], "err", err)
		}
	}
	return nil
}

// Close removes the provider subscription.
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Connect requests identity authorization from the provider and binds the
// ledger to the first authorized identity. It returns false and records the
// cause when the provider is absent, the user declines or binding fails.
func (s *Session) Connect(ctx context.Context) bool {
	if s.provider == nil {
		s.fail(ErrProviderUnavailable)
		return false
	}

	s.mu.Lock()
	s.state = SessionConnecting
	s.lastErr = nil
	s.mu.Unlock()

	ids, err := s.provider.RequestAuthorization(ctx)
	if err != nil {
		s.fail(Classify(err))
		return false
	}
	if len(ids) == 0 {
		s.fail(fmt.Errorf("%w: provider authorized no identities", ErrNotConnected))
		return false
	}

	return s.derive(ctx, ids[0]) == nil
}

// Disconnect resets identity and flags. Provider-level authorization is
// left in place.
func (s *Session) Disconnect() {
	s.reset(nil)
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() SessionSnapshot {
	snap := SessionSnapshot{
		Identity:     s.identity,
		Roles:        s.roles,
		State:        s.state,
		ReadOnly:     s.state != SessionConnected,
		Epoch:        s.epoch,
		Capabilities: s.caps.Allowed(),
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// Err returns the cause of the last failed transition.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Epoch returns the binding generation. It advances on every network change.
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Reader returns a ledger reader for the current binding, or the public read
// endpoint when no identity is connected. It waits for an in-progress
// derivation to finish.
func (s *Session) Reader(ctx context.Context) (LedgerReader, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	s.mu.Lock()
	if s.state == SessionConnected && s.ledger != nil {
		l := s.ledger
		s.mu.Unlock()
		return l, nil
	}
	if s.public != nil {
		r := s.public
		s.mu.Unlock()
		return r, nil
	}
	epoch := s.epoch
	s.mu.Unlock()

	r, err := s.binder.ReadOnly(ctx)
	if err != nil {
		if s.provider == nil {
			return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.public = r
	}
	s.mu.Unlock()
	return r, nil
}

// Authorize checks kind against the capabilities of the connected identity
// and returns the binding a submission should use.
func (s *Session) Authorize(kind OperationKind) (*Binding, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionConnected || s.ledger == nil {
		if s.provider == nil {
			return nil, ErrProviderUnavailable
		}
		return nil, ErrNotConnected
	}
	if err := s.caps.Check(kind); err != nil {
		return nil, err
	}
	return &Binding{
		Ledger:   s.ledger,
		Identity: s.identity,
		Roles:    s.roles,
		Epoch:    s.epoch,
	}, nil
}

// Subscribe registers a listener for session transitions and returns a
// function that removes it. Listeners run synchronously after the
// transition completes.
func (s *Session) Subscribe(listener func(SessionEvent)) func() {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = listener
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Session) handleProviderEvent(ev ProviderEvent) {
	ctx := context.Background()

	switch ev.Kind {
	case IdentitiesChanged:
		if len(ev.Identities) == 0 {
			s.logger.Info("provider reports no authorized identities, clearing session")
			s.reset(nil)
			return
		}
		if s.Snapshot().State == SessionDisconnected {
			// An explicit disconnect stands until the next Connect.
			return
		}
		if err := s.derive(ctx, ev.Identities[0]); err != nil {
			s.logger.Warn("failed to re-derive session", "identity", ev.Identities[0], "err", err)
		}

	case NetworkChanged:
		wasActive := s.Snapshot().State != SessionDisconnected
		s.teardown(ev.ChainID)
		if !wasActive {
			return
		}
		ids, err := s.provider.CurrentIdentities(ctx)
		if err != nil {
			s.logger.Warn("failed to read identities after network change", "err", err)
			return
		}
		if len(ids) == 0 {
			return
		}
		if err := s.derive(ctx, ids[0]); err != nil {
			s.logger.Warn("failed to rebuild session after network change", "chain_id", ev.ChainID, "err", err)
		}
	}
}

// derive binds identity and recomputes its roles while holding the gate.
func (s *Session) derive(ctx context.Context, identity string) error {
	if !ValidIdentity(identity) {
		err := fmt.Errorf("%w: malformed identity %q", ErrInvalidArgument, identity)
		s.fail(err)
		return err
	}

	s.gate.Lock()

	s.mu.Lock()
	s.state = SessionConnecting
	s.mu.Unlock()

	l, err := s.binder.Bind(ctx, identity)
	if err != nil {
		s.gate.Unlock()
		err = fmt.Errorf("bind ledger for %s: %w", identity, err)
		s.fail(err)
		return err
	}

	roles, roleErr := deriveRoles(ctx, l, identity)
	if roleErr != nil {
		s.logger.Warn("role derivation incomplete", "identity", identity, "err", roleErr)
	}

	s.mu.Lock()
	s.identity = identity
	s.roles = roles
	s.caps = deriveCapabilities(principal{identity: identity, roles: roles})
	s.ledger = l
	s.state = SessionConnected
	s.lastErr = roleErr
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.gate.Unlock()

	s.logger.Info("session connected", "identity", identity, "admin", roles.IsAdmin, "artisan", roles.IsArtisan)
	s.notify(SessionDerived, snap)
	return nil
}

// deriveRoles checks both role memberships independently. A failed check
// leaves its flag false.
func deriveRoles(ctx context.Context, r LedgerReader, identity string) (Roles, error) {
	var roles Roles
	var errs []error

	admin, err := r.HasRole(ctx, RoleAdmin, identity)
	if err != nil {
		errs = append(errs, fmt.Errorf("admin role: %w", err))
	}
	roles.IsAdmin = admin

	creator, err := r.HasRole(ctx, RoleCreator, identity)
	if err != nil {
		errs = append(errs, fmt.Errorf("creator role: %w", err))
	}
	roles.IsArtisan = creator

	return roles, errors.Join(errs...)
}

func (s *Session) reset(cause error) {
	s.mu.Lock()
	s.clearLocked()
	s.lastErr = cause
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(SessionReset, snap)
}

func (s *Session) teardown(chainID string) {
	s.gate.Lock()
	s.mu.Lock()
	s.clearLocked()
	s.public = nil
	s.epoch++
	s.lastErr = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.gate.Unlock()

	s.logger.Info("network changed, session torn down", "chain_id", chainID, "epoch", snap.Epoch)
	s.notify(SessionTornDown, snap)
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.clearLocked()
	s.lastErr = err
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Warn("session connect failed", "err", err)
	s.notify(SessionReset, snap)
}

func (s *Session) clearLocked() {
	s.identity = ""
	s.roles = Roles{}
	s.caps = deriveCapabilities(principal{})
	s.ledger = nil
	s.state = SessionDisconnected
}

func (s *Session) notify(kind SessionEventKind, snap SessionSnapshot) {
	if err := s.eventSink.SessionChanged(context.Background(), snap); err != nil {
		s.logger.Warn("session event sink failed", "err", err)
	}

	s.listenerMu.Lock()
	listeners := make([]func(SessionEvent), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenerMu.Unlock()

	ev := SessionEvent{Kind: kind, Snapshot: snap}
	for _, l := range listeners {
		l(ev)
	}
}
