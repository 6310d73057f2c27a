package modbus

import (
	"testing"
	"time"
)

func TestPoller_StartDeliversDataThenStop(t *testing.T) {
	store := NewMemoryStore(0, 0, 10, 0)
	if err := store.Write(HoldingRegisters, 0, 0x1234); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	srv := NewServer(store, 1)

	ln, dial := NewPipeListener()
	go srv.Serve(ln)
	defer ln.Close()

	client := NewClient(dial())
	defer client.Close()

	poller := NewPoller(client, 1, FunctionReadHoldingRegisters, 0, 1, 20*time.Millisecond)

	got := make(chan PollResult, 1)
	poller.OnData(func(r PollResult) {
		select {
		case got <- r:
		default:
		}
	})
	poller.OnError(func(err error) {
		t.Errorf("unexpected poll error: %v", err)
	})

	poller.Start()
	defer poller.Stop()

	select {
	case r := <-got:
		if len(r.Registers) != 1 || r.Registers[0] != 0x1234 {
			t.Errorf("PollResult.Registers = %v, want [0x1234]", r.Registers)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a poll result")
	}
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	store := NewMemoryStore(0, 0, 10, 0)
	srv := NewServer(store, 1)

	ln, dial := NewPipeListener()
	go srv.Serve(ln)
	defer ln.Close()

	client := NewClient(dial())
	defer client.Close()

	poller := NewPoller(client, 1, FunctionReadHoldingRegisters, 0, 1, time.Minute)
	poller.Start()
	poller.Stop()
	poller.Stop()
}
