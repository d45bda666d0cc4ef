// Package contentid derives content identifiers for the self-hosted content
// stores and recognizes identifiers issued by IPFS nodes.
package contentid

import (
	"encoding/hex"
	"fmt"
	"io"
	"regexp"

	"github.com/zeebo/blake3"
)

// Prefix marks identifiers derived by Compute.
const Prefix = "b3"

var (
	blake3Pattern = regexp.MustCompile(`^b3[0-9a-f]{64}$`)
	cidV0Pattern  = regexp.MustCompile(`^Qm[1-9A-HJ-NP-Za-km-z]{44}$`)
	cidV1Pattern  = regexp.MustCompile(`^b[a-z2-7]{58,}$`)
)

// Compute returns the content identifier of data.
func Compute(data []byte) string {
	sum := blake3.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:])
}

// ComputeReader hashes everything read from r and returns the identifier.
func ComputeReader(r io.Reader) (string, error) {
	hasher := blake3.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return Prefix + hex.EncodeToString(hasher.Sum(nil)), nil
}

// Valid reports whether id is a well-formed content identifier, either derived
// by Compute or issued by an IPFS node (CIDv0 or base32 CIDv1).
func Valid(id string) bool {
	return blake3Pattern.MatchString(id) || cidV0Pattern.MatchString(id) || cidV1Pattern.MatchString(id)
}

// Derived reports whether id was produced by Compute.
func Derived(id string) bool {
	return blake3Pattern.MatchString(id)
}
