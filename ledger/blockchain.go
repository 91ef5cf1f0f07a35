package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/luca-patrignani/offchain-games/consensus"
	"github.com/luca-patrignani/offchain-games/domain/game"
)

type Blockchain struct {
	mu     sync.RWMutex
	game   game.ID
	blocks []Block
}

// NewBlockchain creates the ledger of one game. The genesis block has index
// 0, previous hash "0" and carries the nonce the game starts from.
func NewBlockchain(gameID game.ID, startNonce uint64) *Blockchain {
	bc := &Blockchain{
		game:   gameID,
		blocks: make([]Block, 0),
	}

	genesis := Block{
		Index:     0,
		Timestamp: time.Now().Unix(),
		PrevHash:  "0",
		Move:      consensus.SignedMove{Game: gameID, Nonce: startNonce},
		Metadata:  Metadata{Extra: map[string]string{"type": "genesis"}},
	}
	genesis.Hash = bc.calculateHash(genesis)
	bc.blocks = append(bc.blocks, genesis)

	return bc
}

// Append adds a signed move to the ledger. The move must either carry the
// next nonce or acknowledge the latest move by adding signatures to the same
// content. It satisfies consensus.Ledger.
func (bc *Blockchain) Append(m consensus.SignedMove) error {
	return bc.append(m, nil)
}

// AppendWithMetadata is Append with extra annotations stored in the block.
func (bc *Blockchain) AppendWithMetadata(m consensus.SignedMove, extra map[string]string) error {
	return bc.append(m, extra)
}

func (bc *Blockchain) append(m consensus.SignedMove, extra map[string]string) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	latest := bc.blocks[len(bc.blocks)-1]

	newBlock := Block{
		Index:     latest.Index + 1,
		Timestamp: time.Now().Unix(),
		PrevHash:  latest.Hash,
		Move:      m.Clone(),
		Metadata: Metadata{
			Ack:   latest.Index > 0 && m.Nonce == latest.Move.Nonce,
			Extra: extra,
		},
	}

	newBlock.Hash = bc.calculateHash(newBlock)

	if err := bc.validateBlock(newBlock, latest); err != nil {
		return fmt.Errorf("invalid block: %w", err)
	}

	bc.blocks = append(bc.blocks, newBlock)

	return nil
}

// GetLatest returns the most recently added block in the blockchain.
func (bc *Blockchain) GetLatest() (Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if len(bc.blocks) == 0 {
		return Block{}, fmt.Errorf("blockchain is empty")
	}

	return bc.blocks[len(bc.blocks)-1], nil
}

// GetByIndex retrieves a block by its index in the chain.
func (bc *Blockchain) GetByIndex(index int) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if index < 0 || index >= len(bc.blocks) {
		return nil, fmt.Errorf("index out of range")
	}

	b := bc.blocks[index]
	return &b, nil
}

// Len returns the number of blocks including genesis.
func (bc *Blockchain) Len() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.blocks)
}

// LatestAcknowledged returns the newest move carrying both signatures. It
// is the strongest evidence a party can bring to the arbiter.
func (bc *Blockchain) LatestAcknowledged() (consensus.SignedMove, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	for i := len(bc.blocks) - 1; i > 0; i-- {
		if bc.blocks[i].Move.Acknowledged() {
			return bc.blocks[i].Move.Clone(), true
		}
	}
	return consensus.SignedMove{}, false
}

// Verify validates the integrity of the entire blockchain by checking the
// genesis block and every subsequent block against its predecessor.
func (bc *Blockchain) Verify() error {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if len(bc.blocks) == 0 {
		return fmt.Errorf("empty blockchain")
	}

	if bc.blocks[0].PrevHash != "0" || bc.blocks[0].Hash != bc.calculateHash(bc.blocks[0]) {
		return fmt.Errorf("invalid genesis block")
	}

	for i := 1; i < len(bc.blocks); i++ {
		current := bc.blocks[i]
		previous := bc.blocks[i-1]

		if err := bc.validateBlock(current, previous); err != nil {
			return fmt.Errorf("block %d invalid: %w", i, err)
		}
	}

	return nil
}

// validateBlock checks index continuity, hash linkage, the block's own hash
// and nonce continuity of the recorded move.
func (bc *Blockchain) validateBlock(current, previous Block) error {
	if current.Index != previous.Index+1 {
		return fmt.Errorf("invalid index: expected %d, got %d", previous.Index+1, current.Index)
	}

	if current.PrevHash != previous.Hash {
		return fmt.Errorf("invalid prev hash: expected %s, got %s", previous.Hash, current.PrevHash)
	}

	expectedHash := bc.calculateHash(current)
	if current.Hash != expectedHash {
		return fmt.Errorf("invalid hash: expected %s, got %s", expectedHash, current.Hash)
	}

	if current.Move.Game != bc.game {
		return fmt.Errorf("move for game %d recorded in ledger of game %d", current.Move.Game, bc.game)
	}

	if len(current.Move.Signatures) == 0 {
		return fmt.Errorf("unsigned move at nonce %d", current.Move.Nonce)
	}

	if current.Metadata.Ack {
		if previous.Index == 0 {
			return fmt.Errorf("acknowledgement without a move")
		}
		if current.Move.Nonce != previous.Move.Nonce ||
			!bytes.Equal(current.Move.Fingerprint(), previous.Move.Fingerprint()) {
			return fmt.Errorf("acknowledgement does not match move at nonce %d", previous.Move.Nonce)
		}
		if len(current.Move.Signatures) <= len(previous.Move.Signatures) {
			return fmt.Errorf("acknowledgement adds no signature at nonce %d", current.Move.Nonce)
		}
		return nil
	}

	if current.Move.Nonce != previous.Move.Nonce+1 {
		return fmt.Errorf("invalid nonce: expected %d, got %d", previous.Move.Nonce+1, current.Move.Nonce)
	}

	return nil
}

// calculateHash computes the SHA256 hash of a block based on its index,
// timestamp, previous hash, move and metadata. The move is JSON marshaled
// before hashing.
func (bc *Blockchain) calculateHash(block Block) string {
	moveBytes, _ := json.Marshal(block.Move)

	metaBytes, _ := json.Marshal(block.Metadata)

	data := fmt.Sprintf("%d%d%s%s%s",
		block.Index,
		block.Timestamp,
		block.PrevHash,
		string(moveBytes),
		string(metaBytes),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
