package engine

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"statsbridge/core"
)

var (
	// ErrInvalidToken is returned for token strings that do not parse.
	ErrInvalidToken = errors.New("invalid leaderboard token")
	// ErrUnknownToken is returned for tokens this registry never issued, or
	// issued before the last Reset.
	ErrUnknownToken = errors.New("unknown leaderboard token")
)

// TokenRegistry maps boundary tokens to the leaderboard handles a native
// backend produced. Tokens are random 64-bit values scoped to one session, so
// a stale token from an earlier session is rejected instead of silently
// pointing at another leaderboard.
type TokenRegistry struct {
	mu       sync.RWMutex
	byToken  map[core.LeaderboardToken]core.LeaderboardHandle
	byHandle map[core.LeaderboardHandle]core.LeaderboardToken
	mint     func() uint64
}

func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		byToken:  make(map[core.LeaderboardToken]core.LeaderboardHandle),
		byHandle: make(map[core.LeaderboardHandle]core.LeaderboardToken),
		mint:     randomUint64,
	}
}

func randomUint64() uint64 {
	var b [8]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("token registry: read random: %v", err))
	}
	return binary.BigEndian.Uint64(b[:])
}

// Issue returns the token for h, minting one the first time h is seen.
func (r *TokenRegistry) Issue(h core.LeaderboardHandle) core.LeaderboardToken {
	r.mu.RLock()
	tok, ok := r.byHandle[h]
	r.mu.RUnlock()
	if ok {
		return tok
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tok, ok := r.byHandle[h]; ok {
		return tok
	}
	for {
		tok = core.LeaderboardToken(r.mint())
		if tok == 0 {
			continue
		}
		if _, taken := r.byToken[tok]; !taken {
			break
		}
	}
	r.byToken[tok] = h
	r.byHandle[h] = tok
	return tok
}

// Redeem returns the handle behind a token issued by this registry.
func (r *TokenRegistry) Redeem(tok core.LeaderboardToken) (core.LeaderboardHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byToken[tok]
	if !ok {
		return core.LeaderboardHandle{}, fmt.Errorf("%w: %s", ErrUnknownToken, tok)
	}
	return h, nil
}

// RedeemString parses the decimal boundary form and redeems it.
func (r *TokenRegistry) RedeemString(s string) (core.LeaderboardHandle, error) {
	tok, err := core.ParseLeaderboardToken(s)
	if err != nil {
		return core.LeaderboardHandle{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return r.Redeem(tok)
}

// Reset forgets every issued token.
func (r *TokenRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.byToken)
	clear(r.byHandle)
}

// Len returns the number of live tokens.
func (r *TokenRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}
