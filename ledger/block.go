package ledger

import "github.com/luca-patrignani/offchain-games/consensus"

// Block records one signed move or the acknowledgement of the move before it.
type Block struct {
	Index     int                  `json:"index"`
	Timestamp int64                `json:"timestamp"`
	PrevHash  string               `json:"prev_hash"`
	Hash      string               `json:"hash"`
	Move      consensus.SignedMove `json:"move"`
	Metadata  Metadata             `json:"metadata"`
}

type Metadata struct {
	// Ack is set when the block only adds signatures to the previous move.
	Ack   bool              `json:"ack"`
	Extra map[string]string `json:"extra,omitempty"`
}
