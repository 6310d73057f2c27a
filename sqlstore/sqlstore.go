// Package sqlstore is a DataStore implementation backed by SQLite, for
// deployments that want simulator state to survive a process restart.
package sqlstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tcpmodbus/gomodbus/modbus"
)

// tableType is the on-disk encoding of a modbus.Space; it is independent of
// modbus.Space's own numeric values so the schema stays stable even if the
// in-memory enumeration is ever reordered.
type tableType int

const (
	tableCoils tableType = iota
	tableDiscreteInputs
	tableHoldingRegisters
	tableInputRegisters
)

func encodeSpace(space modbus.Space) (tableType, error) {
	switch space {
	case modbus.Coils:
		return tableCoils, nil
	case modbus.DiscreteInputs:
		return tableDiscreteInputs, nil
	case modbus.HoldingRegisters:
		return tableHoldingRegisters, nil
	case modbus.InputRegisters:
		return tableInputRegisters, nil
	default:
		return 0, fmt.Errorf("sqlstore: unknown space %v", space)
	}
}

// Store is a modbus.DataStore backed by a SQLite database. Every Read and
// Write goes straight to the database; there is no in-process cache, so
// concurrent access is serialized by SQLite itself rather than by Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at dsn and ensures
// its schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dsn, err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS modbus_registers (
		table_type INTEGER NOT NULL,
		address INTEGER NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY (table_type, address)
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("sqlstore: init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Read implements modbus.DataStore. An address with no row is
// modbus.ErrNotFound only if it has never been written; callers that need a
// bounded address space should pre-populate rows with Seed.
func (s *Store) Read(space modbus.Space, index uint16) (uint16, error) {
	table, err := encodeSpace(space)
	if err != nil {
		return 0, err
	}
	var value int64
	err = s.db.QueryRow(
		`SELECT value FROM modbus_registers WHERE table_type = ? AND address = ?`,
		table, index,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, modbus.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sqlstore: read %v[%d]: %w", space, index, err)
	}
	return uint16(value), nil
}

// Write implements modbus.DataStore.
func (s *Store) Write(space modbus.Space, index uint16, value uint16) error {
	if space.IsReadOnly() {
		return modbus.ErrReadOnly
	}
	table, err := encodeSpace(space)
	if err != nil {
		return err
	}
	if space.IsBit() && value != 0 {
		value = 1
	}
	_, err = s.db.Exec(
		`INSERT INTO modbus_registers (table_type, address, value) VALUES (?, ?, ?)
		 ON CONFLICT(table_type, address) DO UPDATE SET value = excluded.value`,
		table, index, value,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: write %v[%d]: %w", space, index, err)
	}
	return nil
}

// Seed ensures every address in [0, size) of space exists as a row, so that
// subsequent Reads return 0 instead of ErrNotFound. It does not overwrite
// addresses that already have a row.
func (s *Store) Seed(space modbus.Space, size uint16) error {
	table, err := encodeSpace(space)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlstore: seed %v: %w", space, err)
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO modbus_registers (table_type, address, value) VALUES (?, ?, 0)`,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: seed %v: %w", space, err)
	}
	defer stmt.Close()
	for addr := uint16(0); addr < size; addr++ {
		if _, err := stmt.Exec(table, addr); err != nil {
			return fmt.Errorf("sqlstore: seed %v[%d]: %w", space, addr, err)
		}
		if addr == 0xFFFF {
			break
		}
	}
	return tx.Commit()
}
