package artisan

import (
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a ledger access-control role.
type Role string

// Role constants. The ledger maps each to its fixed role identifier.
const (
	RoleAdmin   Role = "admin"
	RoleCreator Role = "creator"
)

// SessionState is the connectivity state of a Session.
type SessionState string

// Session state constants.
const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
)

// OperationKind identifies a state-changing ledger operation.
type OperationKind string

// Operation kinds supported by the Orchestrator.
const (
	OpMint            OperationKind = "mint"
	OpList            OperationKind = "list"
	OpDelist          OperationKind = "delist"
	OpPurchase        OperationKind = "purchase"
	OpRegisterCreator OperationKind = "register_creator"
)

// TxState is the lifecycle state of a submitted transaction.
type TxState string

// Transaction state constants.
const (
	TxPending   TxState = "pending"
	TxConfirmed TxState = "confirmed"
	TxFailed    TxState = "failed"
)

// Roles holds the authorization flags derived for an identity.
type Roles struct {
	IsAdmin   bool `json:"is_admin"`
	IsArtisan bool `json:"is_artisan"`
}

// SessionSnapshot is a consistent read of Session state.
type SessionSnapshot struct {
	Identity     string          `json:"identity,omitempty"`
	Roles        Roles           `json:"roles"`
	State        SessionState    `json:"state"`
	ReadOnly     bool            `json:"read_only"`
	Epoch        uint64          `json:"epoch"`
	Capabilities []OperationKind `json:"capabilities"`
	Error        string          `json:"error,omitempty"`
}

// SaleState is the raw sale listing state stored on the ledger.
type SaleState struct {
	ForSale bool
	Price   *big.Int // base units
}

// OnLedgerMetadata holds the descriptive fields recorded at mint time.
type OnLedgerMetadata struct {
	Description    string
	Materials      string
	CreatorDetails string
	CreatedAt      time.Time
}

// ProvenanceEntry records one owner in an item's ownership history.
type ProvenanceEntry struct {
	Owner     string    `json:"owner"`
	Timestamp time.Time `json:"timestamp"`
}

// CreatorRegistration is a creator-role grant observed on the ledger.
type CreatorRegistration struct {
	Identity    string `json:"identity"`
	BlockNumber uint64 `json:"block_number"`
}

// Attribute is one trait of an off-ledger metadata document.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Metadata attribute trait names, in wire order.
const (
	TraitMaterials    = "Materials"
	TraitArtisan      = "Artisan"
	TraitCreationDate = "Creation Date"
)

// MetadataDescriptor is the canonical off-ledger metadata document.
type MetadataDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []Attribute `json:"attributes"`
}

// Attribute returns the value of the named trait, if present.
func (d *MetadataDescriptor) Attribute(trait string) (string, bool) {
	if d == nil {
		return "", false
	}
	for _, a := range d.Attributes {
		if a.TraitType == trait {
			return a.Value, true
		}
	}
	return "", false
}

// ItemRecord is the merged view of one item: on-ledger state plus resolved
// off-ledger display metadata.
type ItemRecord struct {
	ID             uint64      `json:"id"`
	Owner          string      `json:"owner"`
	Description    string      `json:"description"`
	Materials      string      `json:"materials"`
	CreatorDetails string      `json:"creator_details"`
	CreatedAt      time.Time   `json:"created_at"`
	ForSale        bool        `json:"for_sale"`
	Price          string      `json:"price"`
	PriceBase      *big.Int    `json:"price_base_units"`
	Locator        string      `json:"locator,omitempty"`
	Name           string      `json:"name"`
	Image          string      `json:"image"`
	Attributes     []Attribute `json:"attributes,omitempty"`
	Resolved       bool        `json:"metadata_resolved"`
}

// MintArgs are the arguments of a mint operation.
type MintArgs struct {
	Owner          string
	Description    string
	Materials      string
	CreatorDetails string
	Locator        string
	InitialPrice   *big.Int // optional; a positive value chains a list operation
}

// Operation describes a state-changing call to submit.
type Operation struct {
	Kind     OperationKind
	ItemID   uint64
	Price    *big.Int // list
	Payment  *big.Int // purchase
	Identity string   // register_creator
	Mint     *MintArgs
}

// MintOperation returns a mint operation.
func MintOperation(args MintArgs) Operation {
	return Operation{Kind: OpMint, Mint: &args}
}

// ListOperation returns a list-for-sale operation.
func ListOperation(id uint64, price *big.Int) Operation {
	return Operation{Kind: OpList, ItemID: id, Price: price}
}

// DelistOperation returns a delist operation.
func DelistOperation(id uint64) Operation {
	return Operation{Kind: OpDelist, ItemID: id}
}

// PurchaseOperation returns a purchase operation paying the given amount.
func PurchaseOperation(id uint64, payment *big.Int) Operation {
	return Operation{Kind: OpPurchase, ItemID: id, Payment: payment}
}

// RegisterCreatorOperation returns a creator-role grant operation.
func RegisterCreatorOperation(identity string) Operation {
	return Operation{Kind: OpRegisterCreator, Identity: identity}
}

// Receipt is the ledger's inclusion report for a transaction.
type Receipt struct {
	Hash        string
	Success     bool
	BlockNumber uint64
	ItemID      uint64 // set for confirmed mints when the ledger reports it
	Reason      string // revert reason for failed transactions, when known
}

// Activity is one entry of the transaction activity journal.
type Activity struct {
	ID        uuid.UUID     `json:"id"`
	Kind      OperationKind `json:"kind"`
	ItemID    uint64        `json:"item_id,omitempty"`
	Hash      string        `json:"hash"`
	Actor     string        `json:"actor"`
	State     TxState       `json:"state"`
	Reason    string        `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidIdentity reports whether s is a well-formed ledger address.
func ValidIdentity(s string) bool {
	return addressPattern.MatchString(s)
}

// SameIdentity compares ledger addresses. Addresses are not canonically
// cased, so the comparison ignores case.
func SameIdentity(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
