package ledger

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luca-patrignani/offchain-games/consensus"
	"github.com/luca-patrignani/offchain-games/domain/board"
)

func move(nonce uint64, state byte, slots ...board.PlayerSlot) consensus.SignedMove {
	m := consensus.SignedMove{
		Game:  7,
		Nonce: nonce,
		Move:  []byte{1, 1, 0, 0, 0, state},
		State: []byte{1, 1, 0, 9, state},
	}
	for _, s := range slots {
		m.Signatures = append(m.Signatures, consensus.Signature{
			Slot:   s,
			Signer: common.BytesToAddress([]byte{byte(s) + 1}),
			Sig:    []byte{byte(nonce), byte(s)},
		})
	}
	return m
}

func TestNewBlockchainGenesis(t *testing.T) {
	bc := NewBlockchain(7, 0)
	if bc.Len() != 1 {
		t.Fatalf("expected 1 block (genesis), got %d", bc.Len())
	}
	genesis, err := bc.GetByIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	if genesis.Index != 0 || genesis.PrevHash != "0" {
		t.Fatalf("unexpected genesis %+v", genesis)
	}
	if genesis.Metadata.Extra["type"] != "genesis" {
		t.Fatalf("genesis type should be 'genesis', got %s", genesis.Metadata.Extra["type"])
	}
	if err := bc.Verify(); err != nil {
		t.Fatalf("fresh chain should verify: %v", err)
	}
}

func TestAppendMovesAndAcks(t *testing.T) {
	bc := NewBlockchain(7, 0)
	steps := []consensus.SignedMove{
		move(1, 4, board.PlayerOne),
		move(1, 4, board.PlayerOne, board.PlayerTwo),
		move(2, 0, board.PlayerTwo, board.PlayerOne),
		move(3, 8, board.PlayerOne),
	}
	for i, m := range steps {
		if err := bc.Append(m); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if bc.Len() != 5 {
		t.Fatalf("expected 5 blocks, got %d", bc.Len())
	}
	ack, _ := bc.GetByIndex(2)
	if !ack.Metadata.Ack {
		t.Fatalf("block 2 should be an acknowledgement")
	}
	latest, err := bc.GetLatest()
	if err != nil {
		t.Fatal(err)
	}
	if latest.Index != 4 || latest.Move.Nonce != 3 || latest.Metadata.Ack {
		t.Fatalf("unexpected latest block %+v", latest)
	}
	last, ok := bc.LatestAcknowledged()
	if !ok || last.Nonce != 2 {
		t.Fatalf("latest acknowledged move should be nonce 2, got %d", last.Nonce)
	}
	if err := bc.Verify(); err != nil {
		t.Fatalf("chain should verify: %v", err)
	}
}

func TestAppendRejectsNonceGap(t *testing.T) {
	bc := NewBlockchain(7, 0)
	if err := bc.Append(move(2, 4, board.PlayerOne)); err == nil {
		t.Fatalf("expected nonce gap to be rejected")
	}
	if err := bc.Append(move(1, 4, board.PlayerOne)); err != nil {
		t.Fatal(err)
	}
	if err := bc.Append(move(0, 4, board.PlayerOne)); err == nil {
		t.Fatalf("expected stale nonce to be rejected")
	}
	if bc.Len() != 2 {
		t.Fatalf("rejected blocks must not be appended, got %d blocks", bc.Len())
	}
}

func TestAppendStartsAtGenesisNonce(t *testing.T) {
	bc := NewBlockchain(7, 4)
	if err := bc.Append(move(5, 2, board.PlayerOne)); err != nil {
		t.Fatalf("first move after genesis nonce 4 should be 5: %v", err)
	}
}

func TestAppendRejectsBadAck(t *testing.T) {
	bc := NewBlockchain(7, 0)
	if err := bc.Append(move(1, 4, board.PlayerOne)); err != nil {
		t.Fatal(err)
	}
	if err := bc.Append(move(1, 5, board.PlayerOne, board.PlayerTwo)); err == nil {
		t.Fatalf("acknowledgement of a different state must be rejected")
	}
	if err := bc.Append(move(1, 4, board.PlayerOne)); err == nil {
		t.Fatalf("acknowledgement without a new signature must be rejected")
	}
}

func TestAppendRejectsForeignGameAndUnsigned(t *testing.T) {
	bc := NewBlockchain(7, 0)
	other := move(1, 4, board.PlayerOne)
	other.Game = 8
	if err := bc.Append(other); err == nil {
		t.Fatalf("expected foreign game to be rejected")
	}
	if err := bc.Append(move(1, 4)); err == nil {
		t.Fatalf("expected unsigned move to be rejected")
	}
}

func TestAppendWithExtraMetadata(t *testing.T) {
	bc := NewBlockchain(7, 0)
	if err := bc.AppendWithMetadata(move(1, 4, board.PlayerOne), map[string]string{"source": "local"}); err != nil {
		t.Fatal(err)
	}
	b, _ := bc.GetByIndex(1)
	if b.Metadata.Extra["source"] != "local" {
		t.Fatalf("expected extra source 'local', got %s", b.Metadata.Extra["source"])
	}
}

func TestGetByIndexOutOfRange(t *testing.T) {
	bc := NewBlockchain(7, 0)
	if _, err := bc.GetByIndex(-1); err == nil {
		t.Fatalf("expected error for negative index")
	}
	if _, err := bc.GetByIndex(1); err == nil {
		t.Fatalf("expected error for index past the end")
	}
}

func TestGetLatestEmptyBlockchain(t *testing.T) {
	bc := &Blockchain{}
	if _, err := bc.GetLatest(); err == nil {
		t.Fatalf("expected error on empty blockchain")
	}
	if err := bc.Verify(); err == nil {
		t.Fatalf("expected error verifying empty blockchain")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	bc := NewBlockchain(7, 0)
	for _, m := range []consensus.SignedMove{
		move(1, 4, board.PlayerOne),
		move(2, 0, board.PlayerTwo),
		move(3, 8, board.PlayerOne),
	} {
		if err := bc.Append(m); err != nil {
			t.Fatal(err)
		}
	}

	bc.blocks[2].Move.State[4] = 6
	if err := bc.Verify(); err == nil {
		t.Fatalf("expected tampered state to be detected")
	}
	bc.blocks[2].Move.State[4] = 0
	if err := bc.Verify(); err != nil {
		t.Fatalf("restored chain should verify: %v", err)
	}

	bc.blocks[1].Hash = "deadbeef"
	if err := bc.Verify(); err == nil {
		t.Fatalf("expected broken hash link to be detected")
	}
}

func TestGetByIndexReturnsCopy(t *testing.T) {
	bc := NewBlockchain(7, 0)
	_ = bc.Append(move(1, 4, board.PlayerOne))
	b, _ := bc.GetByIndex(1)
	b.Hash = "changed"
	if err := bc.Verify(); err != nil {
		t.Fatalf("caller modification leaked into the chain: %v", err)
	}
}

func TestConcurrentReads(t *testing.T) {
	bc := NewBlockchain(7, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = bc.GetLatest()
			_ = bc.Verify()
		}()
	}
	for n := uint64(1); n <= 5; n++ {
		if err := bc.Append(move(n, byte(n), board.PlayerSlot((n-1)%2))); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	if err := bc.Verify(); err != nil {
		t.Fatal(err)
	}
}
