// Package sessionkey manages the ephemeral per-game keys that sign moves on
// behalf of a wallet.
//
// A key is created for exactly one game, registered with the arbiter before
// first use and invalidated when the game finishes or is disputed. An
// invalidated key refuses to sign; a new game always gets a new key.
package sessionkey

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/luca-patrignani/offchain-games/domain/game"
	"github.com/luca-patrignani/offchain-games/metrics"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
	"github.com/luca-patrignani/offchain-games/signing"
)

// Registrar records a session identity with the arbiter. proof is the
// session key's signature over ProofDigest(gameID, owner).
type Registrar interface {
	RegisterSessionKey(ctx context.Context, gameID game.ID, owner common.Address, id signing.Identity, proof []byte) error
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(ctx context.Context, gameID game.ID, owner common.Address, id signing.Identity, proof []byte) error

func (f RegistrarFunc) RegisterSessionKey(ctx context.Context, gameID game.ID, owner common.Address, id signing.Identity, proof []byte) error {
	return f(ctx, gameID, owner, id, proof)
}

// ProofDigest is what a fresh session key signs to prove possession when it
// is registered for gameID on behalf of owner.
func ProofDigest(gameID game.ID, owner common.Address) []byte {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(gameID))
	return crypto.Keccak256([]byte("offchain-games/session-key"), id[:], owner.Bytes())
}

// SessionKey is a signing key bound to one owner and one game.
type SessionKey struct {
	ID      uuid.UUID
	Owner   common.Address
	Game    game.ID
	key     signing.PrivateKey
	invalid atomic.Bool
}

// Identity returns the public identity registered with the arbiter.
func (k *SessionKey) Identity() signing.Identity { return k.key.Identity() }

// Sign signs digest unless the key was invalidated.
func (k *SessionKey) Sign(digest []byte) ([]byte, error) {
	if k.invalid.Load() {
		return nil, apperrors.WithMetadata(apperrors.CodeKeyInvalidated, "session key invalidated",
			map[string]string{"game": k.Game.String(), "key": k.ID.String()})
	}
	return k.key.Sign(digest)
}

// Invalidated reports whether the key can no longer sign.
func (k *SessionKey) Invalidated() bool { return k.invalid.Load() }

// Manager owns the session keys of one local process.
type Manager struct {
	scheme    signing.Scheme
	registrar Registrar
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu   sync.Mutex
	keys map[game.ID]*SessionKey
	// creating holds the games whose key is being registered.
	creating map[game.ID]struct{}
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a manager generating keys with scheme and registering
// them through registrar.
func NewManager(scheme signing.Scheme, registrar Registrar, opts ...Option) *Manager {
	m := &Manager{
		scheme:    scheme,
		registrar: registrar,
		log:       slog.Default(),
		keys:      make(map[game.ID]*SessionKey),
		creating:  make(map[game.ID]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type createOptions struct {
	registrar Registrar
}

type CreateOption func(*createOptions)

// WithRegistrar registers the key through r instead of the manager's
// registrar. The accepting player uses it to register while joining.
func WithRegistrar(r Registrar) CreateOption {
	return func(o *createOptions) { o.registrar = r }
}

// Create generates a key for gameID, registers it and binds it. A live key
// for the same game is never replaced; an invalidated one is. The game is
// reserved for the whole call, so concurrent calls for it register at most
// one key.
func (m *Manager) Create(ctx context.Context, owner common.Address, gameID game.ID, opts ...CreateOption) (*SessionKey, error) {
	o := createOptions{registrar: m.registrar}
	for _, opt := range opts {
		opt(&o)
	}
	meta := map[string]string{"game": gameID.String(), "owner": owner.Hex()}

	m.mu.Lock()
	if k, ok := m.keys[gameID]; ok && !k.Invalidated() {
		m.mu.Unlock()
		return nil, apperrors.WithMetadata(apperrors.CodeRegistrationFailed, "game already has a live session key", meta)
	}
	if _, busy := m.creating[gameID]; busy {
		m.mu.Unlock()
		return nil, apperrors.WithMetadata(apperrors.CodeRegistrationFailed, "session key registration already in progress", meta)
	}
	m.creating[gameID] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.creating, gameID)
		m.mu.Unlock()
	}()

	priv, err := m.scheme.Generate()
	if err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeRegistrationFailed, "generate session key", meta, err)
	}
	proof, err := priv.Sign(ProofDigest(gameID, owner))
	if err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeRegistrationFailed, "sign proof of possession", meta, err)
	}
	if err := o.registrar.RegisterSessionKey(ctx, gameID, owner, priv.Identity(), proof); err != nil {
		m.log.Warn("session key registration rejected", "game", gameID, "owner", owner.Hex(), "error", err)
		return nil, apperrors.WrapWithMetadata(apperrors.CodeRegistrationFailed, "arbiter rejected session key", meta, err)
	}

	k := &SessionKey{
		ID:    uuid.New(),
		Owner: owner,
		Game:  gameID,
		key:   priv,
	}
	m.mu.Lock()
	m.keys[gameID] = k
	m.mu.Unlock()
	m.metrics.SessionKey("created")
	m.log.Debug("session key created", "game", gameID, "key", k.ID, "address", priv.Identity().Address.Hex())
	return k, nil
}

// Get returns the key bound to gameID, invalidated or not.
func (m *Manager) Get(gameID game.ID) (*SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[gameID]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound, "no session key for game",
			map[string]string{"game": gameID.String()})
	}
	return k, nil
}

// Invalidate makes the key of gameID unusable. Invalidating twice is a no-op.
func (m *Manager) Invalidate(gameID game.ID) error {
	k, err := m.Get(gameID)
	if err != nil {
		return err
	}
	if k.invalid.CompareAndSwap(false, true) {
		m.metrics.SessionKey("invalidated")
		m.log.Debug("session key invalidated", "game", gameID, "key", k.ID)
	}
	return nil
}
