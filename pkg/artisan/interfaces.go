package artisan

import (
	"context"
	"io"
	"math/big"
	"time"
)

// LedgerReader defines the read operations of the ledger-state service
type LedgerReader interface {
	// TotalIssued returns the number of items minted so far. Ids run 1..TotalIssued.
	TotalIssued(ctx context.Context) (uint64, error)

	// OwnerOf returns the current owner. It fails with ErrNotFound when the id has no owner.
	OwnerOf(ctx context.Context, id uint64) (string, error)

	// ContentLocatorOf returns the content locator recorded for the item
	ContentLocatorOf(ctx context.Context, id uint64) (string, error)

	// SaleState returns the stored listing flag and price
	SaleState(ctx context.Context, id uint64) (SaleState, error)

	// OnLedgerMetadata returns the descriptive fields recorded at mint time
	OnLedgerMetadata(ctx context.Context, id uint64) (OnLedgerMetadata, error)

	// HasRole reports role membership of an identity
	HasRole(ctx context.Context, role Role, identity string) (bool, error)

	// Provenance returns the ownership history of an item, oldest first
	Provenance(ctx context.Context, id uint64) ([]ProvenanceEntry, error)

	// CreatorRegistrations returns creator-role grants in ledger order
	CreatorRegistrations(ctx context.Context) ([]CreatorRegistration, error)
}

// LedgerWriter defines the state-changing operations. Every call signs and
// submits a transaction and returns its handle without waiting for inclusion.
type LedgerWriter interface {
	Mint(ctx context.Context, args MintArgs) (Transaction, error)
	List(ctx context.Context, id uint64, price *big.Int) (Transaction, error)
	Delist(ctx context.Context, id uint64) (Transaction, error)
	Purchase(ctx context.Context, id uint64, payment *big.Int) (Transaction, error)
	RegisterCreator(ctx context.Context, identity string) (Transaction, error)
}

// Ledger is a ledger handle bound to a signing identity
type Ledger interface {
	LedgerReader
	LedgerWriter
}

// Transaction is a submitted ledger write awaiting inclusion
type Transaction interface {
	// Hash returns the submitted transaction hash
	Hash() string

	// Wait blocks until the ledger reports inclusion or ctx is done. A
	// reverted transaction returns a receipt with Success false.
	Wait(ctx context.Context) (*Receipt, error)
}

// LedgerBinder creates ledger handles. Bind ties a handle to an authorized
// identity; ReadOnly returns a public read handle, or an error when no read
// endpoint is configured.
type LedgerBinder interface {
	Bind(ctx context.Context, identity string) (Ledger, error)
	ReadOnly(ctx context.Context) (LedgerReader, error)
}

// ProviderEventKind identifies a signer provider notification
type ProviderEventKind string

// Provider notification kinds.
const (
	IdentitiesChanged ProviderEventKind = "identities_changed"
	NetworkChanged    ProviderEventKind = "network_changed"
)

// ProviderEvent is a notification from the signer provider
type ProviderEvent struct {
	Kind       ProviderEventKind
	Identities []string
	ChainID    string
}

// Provider defines the signer provider capability
type Provider interface {
	// RequestAuthorization prompts for identity authorization
	RequestAuthorization(ctx context.Context) ([]string, error)

	// CurrentIdentities returns the identities already authorized
	CurrentIdentities(ctx context.Context) ([]string, error)

	// Subscribe registers a listener for identity and network changes and
	// returns a function that removes it
	Subscribe(listener func(ProviderEvent)) (unsubscribe func())
}

// SigningApprover is implemented by providers that gate every signature
// behind a user prompt. A non-nil error means the prompt was declined.
type SigningApprover interface {
	ApproveSigning(ctx context.Context, identity string, kind OperationKind) error
}

// ContentStore defines the interface for content-addressed storage backends
type ContentStore interface {
	// Put writes the bytes and returns their content identifier
	Put(ctx context.Context, reader io.Reader, params PutParams) (string, error)

	// Get reads the content stored under a content identifier
	Get(ctx context.Context, contentID string) (io.ReadCloser, error)

	// Stat returns metadata for stored content
	Stat(ctx context.Context, contentID string) (*ContentMeta, error)
}

// PutParams contains optional parameters for writing content
type PutParams struct {
	MimeType string
	Name     string
}

// ContentMeta contains metadata about stored content
type ContentMeta struct {
	ContentID string
	Size      int64
	MimeType  string
	UpdatedAt time.Time
}

// Repository defines the interface for the activity journal
type Repository interface {
	RecordActivity(ctx context.Context, activity *Activity) error
	ListActivityByItem(ctx context.Context, itemID uint64) ([]*Activity, error)
	ListActivityByActor(ctx context.Context, actor string) ([]*Activity, error)
}

// EventSink defines the interface for lifecycle event handling
type EventSink interface {
	// TransactionSubmitted is fired when a handle is created
	TransactionSubmitted(ctx context.Context, handle *TransactionHandle) error

	// TransactionConfirmed is fired when a handle reaches TxConfirmed
	TransactionConfirmed(ctx context.Context, handle *TransactionHandle, receipt *Receipt) error

	// TransactionFailed is fired when a handle reaches TxFailed
	TransactionFailed(ctx context.Context, handle *TransactionHandle, reason error) error

	// SessionChanged is fired after every session transition
	SessionChanged(ctx context.Context, snapshot SessionSnapshot) error
}
