package board

import (
	"encoding/binary"
	"fmt"
)

// Version is the layout revision written in front of every encoding.
const Version uint8 = 1

const (
	stateHeaderLen = 4
	moveLen        = 6
)

// Encode serializes b and its end-of-game flags.
func Encode(b Board, flags StateFlags) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if !flags.valid() {
		return nil, malformed("invalid state flags", "flags", fmt.Sprintf("%#x", uint8(flags)))
	}
	out := make([]byte, stateHeaderLen+len(b.Cells))
	out[0] = Version
	out[1] = uint8(b.Type)
	out[2] = uint8(flags)
	out[3] = uint8(len(b.Cells))
	for i, c := range b.Cells {
		out[stateHeaderLen+i] = uint8(c)
	}
	return out, nil
}

// Decode parses a state produced by Encode.
func Decode(data []byte) (Board, StateFlags, error) {
	if len(data) < stateHeaderLen {
		return Board{}, 0, malformed("state too short", "len", fmt.Sprint(len(data)))
	}
	if data[0] != Version {
		return Board{}, 0, malformed("unsupported state version", "version", fmt.Sprint(data[0]))
	}
	g := GameType(data[1])
	if !g.Valid() {
		return Board{}, 0, malformed("unknown game type", "game_type", g.String())
	}
	flags := StateFlags(data[2])
	if !flags.valid() {
		return Board{}, 0, malformed("invalid state flags", "flags", fmt.Sprintf("%#x", data[2]))
	}
	if int(data[3]) != g.Cells() || len(data) != stateHeaderLen+g.Cells() {
		return Board{}, 0, malformed("state length does not match game type", "len", fmt.Sprint(len(data)))
	}
	b := Board{Type: g, Cells: make([]Cell, g.Cells())}
	for i := range b.Cells {
		b.Cells[i] = Cell(data[stateHeaderLen+i])
	}
	if err := b.Validate(); err != nil {
		return Board{}, 0, err
	}
	return b, flags, nil
}

// EncodeMove serializes m after range-checking it.
func EncodeMove(m Move) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, moveLen)
	out[0] = Version
	out[1] = uint8(m.Game)
	binary.BigEndian.PutUint32(out[2:], m.Packed())
	return out, nil
}

// DecodeMove parses a move produced by EncodeMove.
func DecodeMove(data []byte) (Move, error) {
	if len(data) != moveLen {
		return Move{}, malformed("move has wrong length", "len", fmt.Sprint(len(data)))
	}
	if data[0] != Version {
		return Move{}, malformed("unsupported move version", "version", fmt.Sprint(data[0]))
	}
	m := Unpack(GameType(data[1]), binary.BigEndian.Uint32(data[2:]))
	if err := m.Validate(); err != nil {
		return Move{}, err
	}
	return m, nil
}
