package modbus

import (
	"testing"
)

func TestClientServer_WriteThenReadHoldingRegister(t *testing.T) {
	store := NewMemoryStore(100, 100, 100, 100)
	srv := NewServer(store, 1)

	ln, dial := NewPipeListener()
	go srv.Serve(ln)
	defer ln.Close()

	client := NewClient(dial())
	defer client.Close()

	if err := client.WriteSingleRegister(1, 10, 0xBEEF); err != nil {
		t.Fatalf("WriteSingleRegister() error = %v", err)
	}

	got, err := client.ReadHoldingRegisters(1, 10, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters() error = %v", err)
	}
	if len(got) != 1 || got[0] != 0xBEEF {
		t.Errorf("ReadHoldingRegisters() = %v, want [0xBEEF]", got)
	}
}

func TestClientServer_ReadCoils(t *testing.T) {
	store := NewMemoryStore(10, 0, 0, 0)
	if err := store.Write(Coils, 0, 1); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := store.Write(Coils, 2, 1); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	srv := NewServer(store, 1)

	ln, dial := NewPipeListener()
	go srv.Serve(ln)
	defer ln.Close()

	client := NewClient(dial())
	defer client.Close()

	got, err := client.ReadCoils(1, 0, 4)
	if err != nil {
		t.Fatalf("ReadCoils() error = %v", err)
	}
	want := []byte{1, 0, 1, 0}
	for i, v := range want {
		if got[i] != v {
			t.Errorf("ReadCoils()[%d] = %d, want %d", i, got[i], v)
		}
	}
}

func TestClientServer_UnitMismatchClosesConnection(t *testing.T) {
	store := NewMemoryStore(10, 10, 10, 10)
	srv := NewServer(store, 2)

	ln, dial := NewPipeListener()
	go srv.Serve(ln)
	defer ln.Close()

	client := NewClient(dial())
	defer client.Close()

	if _, err := client.ReadCoils(1, 0, 1); err == nil {
		t.Error("ReadCoils() error = nil, want an error from the closed connection")
	}
}

func TestClientServer_WriteOutOfRangeYieldsIllegalDataAddress(t *testing.T) {
	store := NewMemoryStore(0, 0, 5, 0)
	srv := NewServer(store, 1)

	ln, dial := NewPipeListener()
	go srv.Serve(ln)
	defer ln.Close()

	client := NewClient(dial())
	defer client.Close()

	err := client.WriteSingleRegister(1, 10, 42)
	if err != ExceptionIllegalDataAddress {
		t.Errorf("WriteSingleRegister() error = %v, want ExceptionIllegalDataAddress", err)
	}
}

func TestClientServer_NonexistentAddressYieldsIllegalDataAddress(t *testing.T) {
	store := NewMemoryStore(5, 0, 0, 0)
	srv := NewServer(store, 1)

	ln, dial := NewPipeListener()
	go srv.Serve(ln)
	defer ln.Close()

	client := NewClient(dial())
	defer client.Close()

	_, err := client.ReadCoils(1, 0, 10)
	if err != ExceptionIllegalDataAddress {
		t.Errorf("ReadCoils() error = %v, want ExceptionIllegalDataAddress", err)
	}
}

// TestClientServer_ZeroLengthPDUClosesConnection sends an MBAP header
// announcing a zero-byte PDU (Length=1, i.e. just the unit ID). The server
// must close the connection cleanly instead of indexing into the empty PDU.
func TestClientServer_ZeroLengthPDUClosesConnection(t *testing.T) {
	store := NewMemoryStore(10, 10, 10, 10)
	srv := NewServer(store, 1)

	ln, dial := NewPipeListener()
	go srv.Serve(ln)
	defer ln.Close()

	ch := dial()
	defer ch.Close()

	header := EncodeHeader(0, 0, 1)
	if err := ch.WriteAll(header); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	if _, err := ch.ReadExact(1); err == nil {
		t.Error("ReadExact() error = nil, want an error once the server closes the connection")
	}
}
