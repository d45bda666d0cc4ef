package artisan

import (
	"fmt"
	"sort"
)

// principal is what authorization predicates are evaluated against.
type principal struct {
	identity string
	roles    Roles
}

// authorizationTable holds the role requirement of every operation kind.
// Item-level preconditions (ownership, listing state) are checked by the
// Orchestrator against the ledger, not here.
var authorizationTable = map[OperationKind]func(p principal) error{
	OpMint: func(p principal) error {
		if !p.roles.IsArtisan {
			return fmt.Errorf("%w: minting requires the creator role", ErrUnauthorized)
		}
		return nil
	},
	OpList:     func(principal) error { return nil },
	OpDelist:   func(principal) error { return nil },
	OpPurchase: func(principal) error { return nil },
	OpRegisterCreator: func(p principal) error {
		if !p.roles.IsAdmin {
			return fmt.Errorf("%w: registering creators requires the administrator role", ErrUnauthorized)
		}
		return nil
	},
}

// Capabilities is the result of evaluating the authorization table for one
// identity. A nil entry means the operation is allowed.
type Capabilities map[OperationKind]error

func deriveCapabilities(p principal) Capabilities {
	caps := make(Capabilities, len(authorizationTable))
	for kind, pred := range authorizationTable {
		if p.identity == "" {
			caps[kind] = ErrNotConnected
			continue
		}
		caps[kind] = pred(p)
	}
	return caps
}

// Check returns nil when kind is allowed.
func (c Capabilities) Check(kind OperationKind) error {
	err, ok := c[kind]
	if !ok {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidArgument, kind)
	}
	return err
}

// Allowed lists the permitted operation kinds in a stable order.
func (c Capabilities) Allowed() []OperationKind {
	var out []OperationKind
	for kind, err := range c {
		if err == nil {
			out = append(out, kind)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
