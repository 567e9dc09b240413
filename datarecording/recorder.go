// Package datarecording stores flash activity in SQLite databases so that
// long simulations can be analyzed after the fact.
package datarecording

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/norflashsim/hooking"
	"github.com/sarchlab/norflashsim/idgen"
	"github.com/sarchlab/norflashsim/mem/norflash"
)

// TransactionEntry is one row of the flash_transaction table. Payloads are
// hex encoded and empty if the flash did not retain them.
type TransactionEntry struct {
	ID         string
	Flash      string
	Kind       string
	Tag        string
	Offset     uint32
	Length     uint32
	Data       string
	AfterWrite string
}

// FaultEntry is one row of the flash_fault table.
type FaultEntry struct {
	ID     string
	Flash  string
	Kind   string
	Page   int
	Offset uint32
	Bit    uint8
	Cycle  uint32
}

// SnapshotEntry is one row of the flash_snapshot table.
type SnapshotEntry struct {
	ID              string
	Flash           string
	CapturedAt      time.Time
	BytesRead       uint64
	ReadAccesses    uint64
	BytesWritten    uint64
	WriteAccesses   uint64
	PagesErased     uint64
	EraseAccesses   uint64
	TotalOperations uint64
	TransactionsLen int
	StuckBits       int
	MaxPageCycles   uint32
	LastOperation   string
}

type named interface {
	Name() string
}

// SQLiteRecorder is a hook that writes the transactions and faults of the
// flashes it is attached to into a SQLite database. Rows are buffered and
// written in batches.
type SQLiteRecorder struct {
	*sql.DB

	dbName    string
	ids       idgen.Generator
	batchSize int

	transactionStmt *sql.Stmt
	faultStmt       *sql.Stmt
	snapshotStmt    *sql.Stmt

	transactions []TransactionEntry
	faults       []FaultEntry
	snapshots    []SnapshotEntry
}

// NewSQLiteRecorder creates a database at path + ".sqlite3". If path is
// empty, a unique name is generated. The file must not exist yet. Buffered
// rows are flushed when the program exits through atexit.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	if path == "" {
		path = "norflash_recording_" + xid.New().String()
	}

	filename := path + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		return nil, fmt.Errorf("file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}

	r, err := NewSQLiteRecorderWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	r.dbName = filename

	log.WithField("database", filename).Info("recording flash activity")

	atexit.Register(func() { r.Flush() })

	return r, nil
}

// NewSQLiteRecorderWithDB creates a recorder on an open database.
func NewSQLiteRecorderWithDB(db *sql.DB) (*SQLiteRecorder, error) {
	r := &SQLiteRecorder{
		DB:        db,
		ids:       idgen.NewSequential(),
		batchSize: 100000,
	}

	err := r.createTables()
	if err != nil {
		return nil, err
	}

	err = r.prepareStatements()
	if err != nil {
		return nil, err
	}

	return r, nil
}

// WithBatchSize sets the number of buffered rows that triggers a flush.
func (r *SQLiteRecorder) WithBatchSize(n int) *SQLiteRecorder {
	r.batchSize = n
	return r
}

// WithIDGenerator sets how row IDs are generated.
func (r *SQLiteRecorder) WithIDGenerator(g idgen.Generator) *SQLiteRecorder {
	r.ids = g
	return r
}

// Filename returns the database file, or an empty string if the recorder
// was created on an existing database.
func (r *SQLiteRecorder) Filename() string {
	return r.dbName
}

func (r *SQLiteRecorder) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS flash_transaction (
			id          VARCHAR(200) NOT NULL,
			flash       VARCHAR(200) NOT NULL,
			kind        VARCHAR(16)  NOT NULL,
			tag         VARCHAR(200),
			start_offset INTEGER     NOT NULL,
			length      INTEGER      NOT NULL,
			data        TEXT,
			after_write TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS flash_transaction_kind_index
			ON flash_transaction (kind);`,
		`CREATE INDEX IF NOT EXISTS flash_transaction_tag_index
			ON flash_transaction (tag);`,
		`CREATE TABLE IF NOT EXISTS flash_fault (
			id          VARCHAR(200) NOT NULL,
			flash       VARCHAR(200) NOT NULL,
			kind        VARCHAR(16)  NOT NULL,
			page        INTEGER      NOT NULL,
			byte_offset INTEGER      NOT NULL,
			bit         INTEGER      NOT NULL,
			cycle       INTEGER      NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS flash_snapshot (
			id               VARCHAR(200) NOT NULL,
			flash            VARCHAR(200) NOT NULL,
			captured_at      TIMESTAMP    NOT NULL,
			bytes_read       INTEGER,
			read_accesses    INTEGER,
			bytes_written    INTEGER,
			write_accesses   INTEGER,
			pages_erased     INTEGER,
			erase_accesses   INTEGER,
			total_operations INTEGER,
			transactions_len INTEGER,
			stuck_bits       INTEGER,
			max_page_cycles  INTEGER,
			last_operation   VARCHAR(200)
		);`,
	}

	for _, s := range statements {
		if _, err := r.Exec(s); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
	}

	return nil
}

func (r *SQLiteRecorder) prepareStatements() error {
	var err error

	r.transactionStmt, err = r.Prepare(
		`INSERT INTO flash_transaction VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	r.faultStmt, err = r.Prepare(
		`INSERT INTO flash_fault VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	r.snapshotStmt, err = r.Prepare(
		`INSERT INTO flash_snapshot VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	return err
}

// Func records transactions and faults reported by a flash.
func (r *SQLiteRecorder) Func(ctx hooking.HookCtx) {
	flashName := ""
	if n, ok := ctx.Domain.(named); ok {
		flashName = n.Name()
	}

	switch item := ctx.Item.(type) {
	case norflash.Transaction:
		r.transactions = append(r.transactions, TransactionEntry{
			ID:         r.ids.Generate(),
			Flash:      flashName,
			Kind:       item.Kind.String(),
			Tag:        item.TagName(),
			Offset:     item.Offset,
			Length:     item.Length,
			Data:       hex.EncodeToString(item.Data),
			AfterWrite: hex.EncodeToString(item.AfterWrite),
		})
	case norflash.Fault:
		r.faults = append(r.faults, FaultEntry{
			ID:     r.ids.Generate(),
			Flash:  flashName,
			Kind:   item.Kind.String(),
			Page:   item.Page,
			Offset: item.Offset,
			Bit:    item.Bit,
			Cycle:  item.Cycle,
		})
		log.WithFields(log.Fields{
			"flash":  flashName,
			"page":   item.Page,
			"offset": item.Offset,
			"bit":    item.Bit,
			"kind":   item.Kind,
		}).Debug("stuck bit injected")
	default:
		return
	}

	r.flushIfFull()
}

// RecordSnapshot stores the statistics of a snapshot. The contents are not
// stored.
func (r *SQLiteRecorder) RecordSnapshot(s norflash.Snapshot) {
	r.snapshots = append(r.snapshots, SnapshotEntry{
		ID:              r.ids.Generate(),
		Flash:           s.Name,
		CapturedAt:      s.CapturedAt,
		BytesRead:       s.Counters.BytesRead,
		ReadAccesses:    s.Counters.ReadAccesses,
		BytesWritten:    s.Counters.BytesWritten,
		WriteAccesses:   s.Counters.WriteAccesses,
		PagesErased:     s.Counters.PagesErased,
		EraseAccesses:   s.Counters.EraseAccesses,
		TotalOperations: s.TotalOperations,
		TransactionsLen: s.TransactionsLen,
		StuckBits:       s.StuckBits,
		MaxPageCycles:   s.MaxPageCycles(),
		LastOperation:   s.LastOperation,
	})

	r.flushIfFull()
}

func (r *SQLiteRecorder) pending() int {
	return len(r.transactions) + len(r.faults) + len(r.snapshots)
}

func (r *SQLiteRecorder) flushIfFull() {
	if r.pending() >= r.batchSize {
		r.Flush()
	}
}

// Flush writes all the buffered rows into the database.
func (r *SQLiteRecorder) Flush() {
	if r.pending() == 0 {
		return
	}

	tx, err := r.Begin()
	if err != nil {
		log.WithError(err).Error("failed to begin transaction")
		panic(err)
	}

	transactions := tx.Stmt(r.transactionStmt)
	faults := tx.Stmt(r.faultStmt)
	snapshots := tx.Stmt(r.snapshotStmt)

	for _, e := range r.transactions {
		mustInsert(transactions,
			e.ID, e.Flash, e.Kind, e.Tag, e.Offset, e.Length,
			e.Data, e.AfterWrite)
	}

	for _, e := range r.faults {
		mustInsert(faults,
			e.ID, e.Flash, e.Kind, e.Page, e.Offset, e.Bit, e.Cycle)
	}

	for _, e := range r.snapshots {
		mustInsert(snapshots,
			e.ID, e.Flash, e.CapturedAt,
			e.BytesRead, e.ReadAccesses,
			e.BytesWritten, e.WriteAccesses,
			e.PagesErased, e.EraseAccesses,
			e.TotalOperations, e.TransactionsLen, e.StuckBits,
			e.MaxPageCycles, e.LastOperation)
	}

	if err := tx.Commit(); err != nil {
		log.WithError(err).Error("failed to commit transaction")
		panic(err)
	}

	log.WithFields(log.Fields{
		"transactions": len(r.transactions),
		"faults":       len(r.faults),
		"snapshots":    len(r.snapshots),
	}).Debug("recorder flushed")

	r.transactions = nil
	r.faults = nil
	r.snapshots = nil
}

// Close flushes the buffered rows and closes the database.
func (r *SQLiteRecorder) Close() error {
	r.Flush()

	for _, stmt := range []*sql.Stmt{
		r.transactionStmt, r.faultStmt, r.snapshotStmt,
	} {
		if err := stmt.Close(); err != nil {
			return err
		}
	}

	return r.DB.Close()
}

func mustInsert(stmt *sql.Stmt, args ...any) {
	_, err := stmt.Exec(args...)
	if err != nil {
		log.WithError(err).Errorf("failed to insert %v", args)
		panic(err)
	}
}
