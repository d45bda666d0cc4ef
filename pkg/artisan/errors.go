package artisan

import (
	"errors"
	"fmt"
	"strings"
)

// Error types
var (
	// ErrProviderUnavailable indicates no signer provider was detected
	ErrProviderUnavailable = errors.New("signer provider unavailable")

	// ErrNotConnected indicates the operation needs a connected identity
	ErrNotConnected = errors.New("no connected identity")

	// ErrUnauthorized indicates the caller lacks the role or ownership the operation requires
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUserDeclined indicates the signer rejected the signing prompt
	ErrUserDeclined = errors.New("user declined")

	// ErrInsufficientFunds indicates the balance cannot cover value plus fee
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrStaleState indicates a precondition re-validated by the ledger no longer holds
	ErrStaleState = errors.New("stale state")

	// ErrResolutionFailure indicates off-ledger metadata could not be fetched
	ErrResolutionFailure = errors.New("metadata resolution failed")

	// ErrNotFound indicates the queried item or content does not exist
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable indicates the content store is unreachable or rejected the credentials
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidArgument indicates malformed operation arguments
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTransactionFailed is the generic failure for rejections that match no other class
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrIndeterminate indicates a caller-imposed wait expired before the ledger reported an outcome
	ErrIndeterminate = errors.New("transaction outcome indeterminate")
)

// OperationError represents an error related to a state-changing operation
type OperationError struct {
	Kind   OperationKind
	ItemID uint64
	Hash   string
	Err    error
}

func (e *OperationError) Error() string {
	target := ""
	if e.ItemID != 0 {
		target = fmt.Sprintf(" for item %d", e.ItemID)
	}
	if e.Hash != "" {
		target += fmt.Sprintf(" (tx %s)", e.Hash)
	}
	return fmt.Sprintf("operation %s failed%s: %v", e.Kind, target, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// ItemError represents an error related to reading an item
type ItemError struct {
	ItemID uint64
	Op     string
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item operation %s failed for item %d: %v", e.Op, e.ItemID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to content store operations
type StorageError struct {
	Backend   string
	ContentID string
	Op        string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for content %s on backend %s: %v", e.Op, e.ContentID, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

var taxonomy = []error{
	ErrProviderUnavailable,
	ErrNotConnected,
	ErrUnauthorized,
	ErrUserDeclined,
	ErrInsufficientFunds,
	ErrStaleState,
	ErrResolutionFailure,
	ErrNotFound,
	ErrStorageUnavailable,
	ErrInvalidArgument,
	ErrTransactionFailed,
	ErrIndeterminate,
}

// classifier patterns match the messages signers and nodes attach to rejections.
var classifiers = []struct {
	class    error
	patterns []string
}{
	{ErrUserDeclined, []string{"user rejected", "user denied", "rejected by user", "user declined", "action_rejected"}},
	{ErrInsufficientFunds, []string{"insufficient funds", "insufficient balance"}},
	{ErrUnauthorized, []string{"accesscontrol", "missing role", "not authorized", "caller is not"}},
	{ErrStaleState, []string{"execution reverted", "reverted", "incorrect price", "not for sale", "not the owner", "nonce too low"}},
}

// Classify maps a raw ledger or signer error onto the error taxonomy. Errors
// already in the taxonomy are returned unchanged; anything unrecognized is
// classified as ErrTransactionFailed. The raw error stays in the chain.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range taxonomy {
		if errors.Is(err, known) {
			return err
		}
	}
	msg := strings.ToLower(err.Error())
	for _, c := range classifiers {
		for _, p := range c.patterns {
			if strings.Contains(msg, p) {
				return fmt.Errorf("%w: %w", c.class, err)
			}
		}
	}
	return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
}

// UserMessage returns the human-readable reason surfaced to the user for a
// write-path failure.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProviderUnavailable):
		return "No wallet provider detected. Install a wallet to make changes; browsing stays available."
	case errors.Is(err, ErrNotConnected):
		return "Connect your wallet to continue."
	case errors.Is(err, ErrUserDeclined):
		return "The transaction was declined in your wallet."
	case errors.Is(err, ErrInsufficientFunds):
		return "Your balance is too low to cover the price and network fee."
	case errors.Is(err, ErrStaleState):
		return "This item changed since you loaded it. Please refresh and try again."
	case errors.Is(err, ErrIndeterminate):
		return "The transaction was submitted but has not been confirmed yet."
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidArgument):
		return err.Error()
	case errors.Is(err, ErrNotFound):
		return "The requested item does not exist."
	case errors.Is(err, ErrStorageUnavailable):
		return "The content store is unavailable. Please try again later."
	default:
		return "The transaction failed: " + err.Error()
	}
}
