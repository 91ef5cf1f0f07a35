package game

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-viper/mapstructure/v2"
	"github.com/holiman/uint256"

	"github.com/luca-patrignani/offchain-games/domain/board"
)

var (
	addressType  = reflect.TypeOf(common.Address{})
	uint256Type  = reflect.TypeOf(uint256.Int{})
	idType       = reflect.TypeOf(ID(0))
	gameTypeType = reflect.TypeOf(board.GameType(0))
	bytesType    = reflect.TypeOf([]byte(nil))
	uint64Type   = reflect.TypeOf(uint64(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// DecodeEvent turns the loosely typed arguments of a contract log (hex
// strings, big integers, nested maps) into a typed Event.
func DecodeEvent(name string, args map[string]any) (Event, error) {
	var target Event
	switch name {
	case EventGameProposed:
		var e GameProposed
		if err := decodeArgs(args, &e); err != nil {
			return nil, err
		}
		target = e
	case EventGameStarted:
		var e GameStarted
		if err := decodeArgs(args, &e); err != nil {
			return nil, err
		}
		target = e
	case EventGameFinished:
		var e GameFinished
		if err := decodeArgs(args, &e); err != nil {
			return nil, err
		}
		target = e
	case EventPlayerDisqualified:
		var e PlayerDisqualified
		if err := decodeArgs(args, &e); err != nil {
			return nil, err
		}
		target = e
	case EventDisputeOpened:
		var e DisputeOpened
		if err := decodeArgs(args, &e); err != nil {
			return nil, err
		}
		target = e
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
	return target, nil
}

func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			addressHook,
			uint256Hook,
			idHook,
			uint64Hook,
			timeHook,
			gameTypeHook,
			bytesHook,
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

func addressHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != addressType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("invalid address %q", v)
		}
		return common.HexToAddress(v), nil
	case []byte:
		return common.BytesToAddress(v), nil
	}
	return data, nil
}

func uint256Hook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != uint256Type {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		var (
			z   *uint256.Int
			err error
		)
		if strings.HasPrefix(v, "0x") {
			z, err = uint256.FromHex(v)
		} else {
			z, err = uint256.FromDecimal(v)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", v, err)
		}
		return *z, nil
	case *big.Int:
		z, overflow := uint256.FromBig(v)
		if overflow || v.Sign() < 0 {
			return nil, fmt.Errorf("amount %s out of range", v)
		}
		return *z, nil
	case uint64:
		return *uint256.NewInt(v), nil
	case int:
		if v < 0 {
			return nil, fmt.Errorf("negative amount %d", v)
		}
		return *uint256.NewInt(uint64(v)), nil
	case *uint256.Int:
		return *v, nil
	}
	return data, nil
}

func idHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != idType {
		return data, nil
	}
	if v, ok := data.(*big.Int); ok {
		if !v.IsUint64() {
			return nil, fmt.Errorf("game id %s out of range", v)
		}
		return ID(v.Uint64()), nil
	}
	return data, nil
}

func uint64Hook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != uint64Type {
		return data, nil
	}
	if v, ok := data.(*big.Int); ok {
		if !v.IsUint64() {
			return nil, fmt.Errorf("value %s out of range", v)
		}
		return v.Uint64(), nil
	}
	return data, nil
}

// timeHook reads block timestamps, given in unix milliseconds.
func timeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}
	switch v := data.(type) {
	case *big.Int:
		if !v.IsInt64() {
			return nil, fmt.Errorf("timestamp %s out of range", v)
		}
		return time.UnixMilli(v.Int64()), nil
	case uint64:
		return time.UnixMilli(int64(v)), nil
	case int64:
		return time.UnixMilli(v), nil
	case int:
		return time.UnixMilli(int64(v)), nil
	case string:
		return time.Parse(time.RFC3339Nano, v)
	}
	return data, nil
}

func gameTypeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != gameTypeType {
		return data, nil
	}
	if v, ok := data.(string); ok {
		return board.ParseGameType(v)
	}
	return data, nil
}

func bytesHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != bytesType {
		return data, nil
	}
	if v, ok := data.(string); ok {
		return hexutil.Decode(v)
	}
	return data, nil
}
