package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// HybridVerifier tries each verifier in order and returns the first success.
//
// With a remote and a local verifier this keeps legacy local tokens valid
// while clients migrate to the remote identity provider. Each verifier runs
// at most once per call. If all fail the result is ErrInvalidToken, even when
// a remote verifier was unavailable: an unreachable key set never
// authenticates anyone.
type HybridVerifier struct {
	chain []Verifier
}

// NewHybridVerifier builds a chain, skipping nil entries.
func NewHybridVerifier(verifiers ...Verifier) *HybridVerifier {
	chain := make([]Verifier, 0, len(verifiers))
	for _, v := range verifiers {
		if v != nil {
			chain = append(chain, v)
		}
	}
	return &HybridVerifier{chain: chain}
}

// Verify implements Verifier.
func (h *HybridVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	var unavailable error
	for _, v := range h.chain {
		id, err := v.Verify(ctx, raw)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, ErrVerifierUnavailable) {
			log.Printf("WARNING: token verifier unavailable, falling back: %v", err)
			unavailable = err
		}
	}
	if unavailable != nil {
		return nil, fmt.Errorf("%w (last unavailable: %v)", ErrInvalidToken, unavailable)
	}
	return nil, ErrInvalidToken
}
