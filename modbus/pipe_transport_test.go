package modbus

import (
	"bytes"
	"testing"
)

func TestPipeChannelPair_WriteAllThenReadExact(t *testing.T) {
	a, b := NewPipeChannelPair()
	defer a.Close()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		done <- a.WriteAll([]byte("hello"))
	}()

	got, err := b.ReadExact(5)
	if err != nil {
		t.Fatalf("ReadExact() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("ReadExact() = %q, want %q", got, "hello")
	}
}

func TestPipeChannelPair_ReadExactAfterCloseErrors(t *testing.T) {
	a, b := NewPipeChannelPair()
	defer a.Close()

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := a.ReadExact(1); err == nil {
		t.Error("ReadExact() error = nil, want an error after the peer closed")
	}
}

func TestPipeChannelPair_CloseIsIdempotent(t *testing.T) {
	a, _ := NewPipeChannelPair()

	if err := a.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
