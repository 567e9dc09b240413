package datarecording

import (
	"database/sql"
	"fmt"
	"strings"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
)

// TransactionQuery selects transactions. Empty fields match everything.
type TransactionQuery struct {
	Flash string
	Kind  string
	Tag   string

	// Limit caps the number of rows returned if positive.
	Limit int
}

// SQLiteReader reads the tables written by SQLiteRecorder.
type SQLiteReader struct {
	*sql.DB

	filename string
}

// NewSQLiteReader creates a reader for the given database file.
func NewSQLiteReader(filename string) *SQLiteReader {
	return &SQLiteReader{filename: filename}
}

// Init establishes a connection to the database.
func (r *SQLiteReader) Init() error {
	db, err := sql.Open("sqlite3", r.filename)
	if err != nil {
		return err
	}

	r.DB = db

	return nil
}

// ListTransactions returns the transactions matching the query, in the order
// they were recorded.
func (r *SQLiteReader) ListTransactions(
	query TransactionQuery,
) ([]TransactionEntry, error) {
	sqlStr := `
		SELECT id, flash, kind, tag, start_offset, length, data, after_write
		FROM flash_transaction
	`

	conditions, args := []string{}, []any{}
	if query.Flash != "" {
		conditions = append(conditions, "flash = ?")
		args = append(args, query.Flash)
	}

	if query.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, query.Kind)
	}

	if query.Tag != "" {
		conditions = append(conditions, "tag = ?")
		args = append(args, query.Tag)
	}

	if len(conditions) > 0 {
		sqlStr += " WHERE " + strings.Join(conditions, " AND ")
	}

	sqlStr += " ORDER BY rowid"

	if query.Limit > 0 {
		sqlStr += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	rows, err := r.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []TransactionEntry{}
	for rows.Next() {
		var e TransactionEntry

		err := rows.Scan(&e.ID, &e.Flash, &e.Kind, &e.Tag,
			&e.Offset, &e.Length, &e.Data, &e.AfterWrite)
		if err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// CountTransactions returns the number of recorded transactions.
func (r *SQLiteReader) CountTransactions() (int, error) {
	var n int
	err := r.QueryRow("SELECT COUNT(*) FROM flash_transaction").Scan(&n)

	return n, err
}

// ListFaults returns the faults injected into a flash, in injection order.
func (r *SQLiteReader) ListFaults(flash string) ([]FaultEntry, error) {
	rows, err := r.Query(`
		SELECT id, flash, kind, page, byte_offset, bit, cycle
		FROM flash_fault
		WHERE flash = ?
		ORDER BY rowid
	`, flash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	faults := []FaultEntry{}
	for rows.Next() {
		var e FaultEntry

		err := rows.Scan(&e.ID, &e.Flash, &e.Kind,
			&e.Page, &e.Offset, &e.Bit, &e.Cycle)
		if err != nil {
			return nil, err
		}

		faults = append(faults, e)
	}

	return faults, rows.Err()
}

// ListSnapshots returns the snapshot statistics recorded for a flash.
func (r *SQLiteReader) ListSnapshots(flash string) ([]SnapshotEntry, error) {
	rows, err := r.Query(`
		SELECT id, flash, captured_at,
			bytes_read, read_accesses, bytes_written, write_accesses,
			pages_erased, erase_accesses, total_operations,
			transactions_len, stuck_bits, max_page_cycles, last_operation
		FROM flash_snapshot
		WHERE flash = ?
		ORDER BY rowid
	`, flash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := []SnapshotEntry{}
	for rows.Next() {
		var e SnapshotEntry

		err := rows.Scan(&e.ID, &e.Flash, &e.CapturedAt,
			&e.BytesRead, &e.ReadAccesses, &e.BytesWritten, &e.WriteAccesses,
			&e.PagesErased, &e.EraseAccesses, &e.TotalOperations,
			&e.TransactionsLen, &e.StuckBits, &e.MaxPageCycles,
			&e.LastOperation)
		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, e)
	}

	return snapshots, rows.Err()
}
