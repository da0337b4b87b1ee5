package operator

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// HashLister enumerates every registered code hash. It feeds the gate's
// pre-filter.
type HashLister interface {
	ListCodeHashes(ctx context.Context) ([]string, error)
}

// Gate verifies operator codes. It holds no session state.
type Gate struct {
	registry Registry
	pepper   []byte
	lg       *zap.Logger

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewGate creates a Gate over registry using pepper for code hashing.
func NewGate(registry Registry, pepper []byte, lg *zap.Logger) *Gate {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Gate{
		registry: registry,
		pepper:   pepper,
		lg:       lg,
	}
}

// Verify returns the operator owning code or ErrUnauthorized.
func (g *Gate) Verify(ctx context.Context, code string) (*Operator, error) {
	if code == "" {
		return nil, ErrUnauthorized
	}
	hash := HashCode(g.pepper, code)

	g.mu.RLock()
	filter := g.filter
	g.mu.RUnlock()
	if filter != nil && !filter.TestString(hash) {
		return nil, ErrUnauthorized
	}

	op, err := g.registry.FindByCodeHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "lookup operator")
	}

	want, err := hex.DecodeString(hash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	stored, err := hex.DecodeString(op.CodeHash)
	if err != nil || subtle.ConstantTimeCompare(want, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return op, nil
}

// LoadFilter rebuilds the pre-filter from every registered hash. Until it is
// first loaded every code goes to the registry.
func (g *Gate) LoadFilter(ctx context.Context, lister HashLister) error {
	hashes, err := lister.ListCodeHashes(ctx)
	if err != nil {
		return errors.Wrap(err, "list code hashes")
	}
	n := uint(len(hashes))
	if n < 1024 {
		n = 1024
	}
	filter := bloom.NewWithEstimates(n, 0.001)
	for _, h := range hashes {
		filter.AddString(h)
	}

	g.mu.Lock()
	g.filter = filter
	g.mu.Unlock()

	g.lg.Debug("Operator filter loaded", zap.Int("operators", len(hashes)))
	return nil
}
