package sqlstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/tcpmodbus/gomodbus/modbus"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_ReadUnwrittenAddressIsNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Read(modbus.HoldingRegisters, 0); !errors.Is(err, modbus.ErrNotFound) {
		t.Errorf("Read() error = %v, want ErrNotFound", err)
	}
}

func TestStore_WriteThenReadRoundTrips(t *testing.T) {
	s := openTestStore(t)

	if err := s.Write(modbus.HoldingRegisters, 10, 0xBEEF); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := s.Read(modbus.HoldingRegisters, 10)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != 0xBEEF {
		t.Errorf("Read() = %#04x, want 0xBEEF", got)
	}
}

func TestStore_WriteOverwritesExistingValue(t *testing.T) {
	s := openTestStore(t)

	if err := s.Write(modbus.Coils, 1, 1); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := s.Write(modbus.Coils, 1, 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := s.Read(modbus.Coils, 1)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != 0 {
		t.Errorf("Read() = %d, want 0", got)
	}
}

func TestStore_ReadOnlySpaceRejectsWrite(t *testing.T) {
	s := openTestStore(t)

	if err := s.Write(modbus.InputRegisters, 0, 1); !errors.Is(err, modbus.ErrReadOnly) {
		t.Errorf("Write(InputRegisters) error = %v, want ErrReadOnly", err)
	}
	if err := s.Write(modbus.DiscreteInputs, 0, 1); !errors.Is(err, modbus.ErrReadOnly) {
		t.Errorf("Write(DiscreteInputs) error = %v, want ErrReadOnly", err)
	}
}

func TestStore_CoilValueNormalized(t *testing.T) {
	s := openTestStore(t)

	if err := s.Write(modbus.Coils, 3, 42); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := s.Read(modbus.Coils, 3)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != 1 {
		t.Errorf("Read() = %d, want 1", got)
	}
}

func TestStore_SeedPopulatesZeroesWithoutOverwriting(t *testing.T) {
	s := openTestStore(t)

	if err := s.Write(modbus.HoldingRegisters, 2, 99); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := s.Seed(modbus.HoldingRegisters, 5); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	for addr := uint16(0); addr < 5; addr++ {
		got, err := s.Read(modbus.HoldingRegisters, addr)
		if err != nil {
			t.Fatalf("Read(%d) error = %v", addr, err)
		}
		want := uint16(0)
		if addr == 2 {
			want = 99
		}
		if got != want {
			t.Errorf("Read(%d) = %d, want %d", addr, got, want)
		}
	}
}
