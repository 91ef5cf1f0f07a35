package memarbiter

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/luca-patrignani/offchain-games/domain/game"
	"github.com/luca-patrignani/offchain-games/signing"
)

// Log is an event the way a contract log decoder reports it: addresses and
// byte strings as hex, integers as big integers and timestamps in unix
// milliseconds. game.DecodeEvent turns it back into a typed event.
type Log struct {
	Name string
	Args map[string]any
}

// EncodeLog flattens e into its log form.
func EncodeLog(e game.Event) Log {
	args := map[string]any{"gameId": new(big.Int).SetUint64(uint64(e.GameID()))}
	switch ev := e.(type) {
	case game.GameProposed:
		args["proposer"] = ev.Proposer.Hex()
		args["rules"] = ev.Rules.Hex()
		args["board"] = ev.Board.String()
		putAmount(args, "stake", ev.Stake)
		if ev.Session.Scheme != "" {
			args["session"] = identityArgs(ev.Session)
		}
	case game.GameStarted:
		args["players"] = []any{ev.Players[0].Hex(), ev.Players[1].Hex()}
		args["sessions"] = []any{identityArgs(ev.Sessions[0]), identityArgs(ev.Sessions[1])}
		putAmount(args, "stake", ev.Stake)
	case game.GameFinished:
		args["winner"] = ev.Winner.Hex()
		args["loser"] = ev.Loser.Hex()
		args["draw"] = ev.Draw
	case game.PlayerDisqualified:
		args["cheater"] = ev.Cheater.Hex()
	case game.DisputeOpened:
		args["challenger"] = ev.Challenger.Hex()
		args["accused"] = ev.Accused.Hex()
		args["nonce"] = new(big.Int).SetUint64(ev.Nonce)
		args["deadline"] = big.NewInt(ev.Deadline.UnixMilli())
	}
	return Log{Name: e.Name(), Args: args}
}

func putAmount(args map[string]any, key string, v *uint256.Int) {
	if v != nil {
		args[key] = v.ToBig()
	}
}

func identityArgs(id signing.Identity) map[string]any {
	out := map[string]any{
		"scheme":  id.Scheme,
		"address": id.Address.Hex(),
	}
	if len(id.PublicKey) > 0 {
		out["publicKey"] = hexutil.Encode(id.PublicKey)
	}
	return out
}

// SubscribeLogs is Subscribe for consumers that read raw contract logs.
func (a *Arbiter) SubscribeLogs(gameID game.ID) (<-chan Log, func()) {
	events, unsub := a.Subscribe(gameID)
	out := make(chan Log, cap(events))
	done := make(chan struct{})
	go func() {
		defer close(out)
		for e := range events {
			select {
			case out <- EncodeLog(e):
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return out, func() {
		once.Do(func() { close(done) })
		unsub()
	}
}
