package network

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/luca-patrignani/offchain-games/consensus"
)

func testMove(nonce uint64) consensus.SignedMove {
	return consensus.SignedMove{
		Game:  3,
		Nonce: nonce,
		Move:  []byte{byte(nonce)},
		State: []byte{0, 1, 2, byte(nonce)},
	}
}

func receive(t *testing.T, p Peer) consensus.SignedMove {
	t.Helper()
	select {
	case m := <-p.Moves():
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no move received")
	}
	return consensus.SignedMove{}
}

func newPair(t *testing.T) (Peer, Peer) {
	t.Helper()
	listeners, addresses := CreateListeners(2)
	a := NewPeer(0, addresses, listeners[0], 5*time.Second)
	b := NewPeer(1, addresses, listeners[1], 5*time.Second)
	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Error(err)
		}
		if err := b.Close(); err != nil {
			t.Error(err)
		}
	})
	return a, b
}

func TestSendAndReceive(t *testing.T) {
	a, b := newPair(t)
	if err := a.Send(context.Background(), testMove(1)); err != nil {
		t.Fatal(err)
	}
	got := receive(t, b)
	if got.Nonce != 1 || !bytes.Equal(got.State, testMove(1).State) {
		t.Fatalf("expected move 1, received %+v", got)
	}

	if err := b.Send(context.Background(), testMove(2)); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, a); got.Nonce != 2 {
		t.Fatalf("expected move 2, received nonce %d", got.Nonce)
	}
}

func TestMovesArriveInOrder(t *testing.T) {
	a, b := newPair(t)
	for n := uint64(1); n <= 5; n++ {
		if err := a.Send(context.Background(), testMove(n)); err != nil {
			t.Fatal(err)
		}
	}
	for n := uint64(1); n <= 5; n++ {
		if got := receive(t, b); got.Nonce != n {
			t.Fatalf("expected nonce %d, received %d", n, got.Nonce)
		}
	}
}

func TestRetriedRequestIsDeliveredOnce(t *testing.T) {
	_, b := newPair(t)
	post := func() int {
		req, err := http.NewRequest(http.MethodPost, "http://"+b.Addresses[1]+movesPath,
			strings.NewReader(`{"game":3,"nonce":1,"move":"AQ==","state":"AAEC"}`))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set(clockHeader, "7")
		req.Header.Set(senderHeader, "0")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		if err := resp.Body.Close(); err != nil {
			t.Fatal(err)
		}
		return resp.StatusCode
	}
	for i := 0; i < 2; i++ {
		if code := post(); code != http.StatusAccepted {
			t.Fatalf("attempt %d: expected status %d, actual %d", i, http.StatusAccepted, code)
		}
	}
	receive(t, b)
	select {
	case m := <-b.Moves():
		t.Fatalf("duplicate delivered: %+v", m)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMalformedRequestsAreRefused(t *testing.T) {
	_, b := newPair(t)
	cases := map[string]struct {
		clock, sender, body string
	}{
		"no clock":    {"", "0", `{"nonce":1}`},
		"bad clock":   {"x", "0", `{"nonce":1}`},
		"no sender":   {"1", "", `{"nonce":1}`},
		"bad payload": {"1", "0", `not json`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, "http://"+b.Addresses[1]+movesPath, strings.NewReader(tc.body))
			if err != nil {
				t.Fatal(err)
			}
			if tc.clock != "" {
				req.Header.Set(clockHeader, tc.clock)
			}
			if tc.sender != "" {
				req.Header.Set(senderHeader, tc.sender)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			if err := resp.Body.Close(); err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected status %d, actual %d", http.StatusBadRequest, resp.StatusCode)
			}
		})
	}
}

func TestSendWaitsForLatePeer(t *testing.T) {
	listeners, addresses := CreateListeners(2)
	a := NewPeer(0, addresses, listeners[0], 5*time.Second)
	defer a.Close()

	// b starts serving only after a first attempt failed.
	addr := listeners[1].Addr().String()
	if err := listeners[1].Close(); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		done <- a.Send(context.Background(), testMove(1))
	}()
	time.Sleep(200 * time.Millisecond)

	l, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("port %s taken again: %v", addr, err)
	}
	b := NewPeer(1, addresses, l, 5*time.Second)
	defer b.Close()

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := receive(t, b); got.Nonce != 1 {
		t.Fatalf("expected nonce 1, received %d", got.Nonce)
	}
}

func TestSendTimesOut(t *testing.T) {
	listeners, addresses := CreateListeners(2)
	a := NewPeer(0, addresses, listeners[0], 300*time.Millisecond)
	defer a.Close()
	if err := listeners[1].Close(); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	err := a.Send(context.Background(), testMove(1))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("send kept retrying for %s", time.Since(start))
	}
}

func TestSendHonoursCancellation(t *testing.T) {
	listeners, addresses := CreateListeners(2)
	a := NewPeer(0, addresses, listeners[0], 0)
	defer a.Close()
	if err := listeners[1].Close(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	if err := a.Send(ctx, testMove(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
