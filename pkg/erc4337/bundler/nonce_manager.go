package bundler

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/userop-relay/pkg/logger"
)

// NonceFetcher reads the EntryPoint nonce of a sender.
type NonceFetcher interface {
	Nonce(ctx context.Context, sender common.Address) (*big.Int, error)
}

// NonceManager keeps the next nonce per sender so several operations can be
// relayed back to back before the first one is mined.
type NonceManager struct {
	fetcher NonceFetcher
	logger  logger.Logger

	// key: sender hex, value: next nonce to use
	pendingNonces map[string]*big.Int
	mu            sync.RWMutex
}

func NewNonceManager(fetcher NonceFetcher, lgr logger.Logger) *NonceManager {
	return &NonceManager{
		fetcher:       fetcher,
		logger:        logger.EnsureLogger(lgr),
		pendingNonces: make(map[string]*big.Int),
	}
}

// GetNextNonce returns max(on-chain nonce, cached pending nonce).
func (nm *NonceManager) GetNextNonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	onChain, err := nm.fetcher.Nonce(ctx, sender)
	if err != nil {
		return nil, err
	}

	cached, ok := nm.pendingNonces[sender.Hex()]
	switch {
	case !ok:
		nm.logger.Debug("first operation for sender, using on-chain nonce", "sender", sender.Hex(), "nonce", onChain.String())
		return new(big.Int).Set(onChain), nil
	case onChain.Cmp(cached) > 0:
		// earlier operations were mined or dropped
		nm.logger.Debug("on-chain nonce ahead of cache", "sender", sender.Hex(), "onChain", onChain.String(), "cached", cached.String())
		return new(big.Int).Set(onChain), nil
	default:
		nm.logger.Debug("using cached nonce", "sender", sender.Hex(), "onChain", onChain.String(), "cached", cached.String())
		return new(big.Int).Set(cached), nil
	}
}

// IncrementNonce records that currentNonce was accepted by the relay.
func (nm *NonceManager) IncrementNonce(sender common.Address, currentNonce *big.Int) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	next := new(big.Int).Add(currentNonce, big.NewInt(1))
	nm.pendingNonces[sender.Hex()] = next
	nm.logger.Debug("incremented cached nonce", "sender", sender.Hex(), "from", currentNonce.String(), "to", next.String())
}

// ResetNonce forgets the cached nonce so the next lookup goes to the chain.
func (nm *NonceManager) ResetNonce(sender common.Address) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	delete(nm.pendingNonces, sender.Hex())
	nm.logger.Debug("reset cached nonce", "sender", sender.Hex())
}

func (nm *NonceManager) SetNonce(sender common.Address, nonce *big.Int) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.pendingNonces[sender.Hex()] = new(big.Int).Set(nonce)
}

// GetCachedNonce returns the cached nonce without touching the chain.
func (nm *NonceManager) GetCachedNonce(sender common.Address) (*big.Int, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	nonce, ok := nm.pendingNonces[sender.Hex()]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(nonce), true
}

// Nonce lets a NonceManager stand in wherever a plain nonce lookup is
// expected.
func (nm *NonceManager) Nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	return nm.GetNextNonce(ctx, sender)
}
