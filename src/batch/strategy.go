package batch

import (
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/leocalheirosdb1/sql-data-anonymizer/src/anondb"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/fake"
)

// WindowFailure records one rolled-back pagination window under a
// partial-failure-tolerant strategy.
type WindowFailure struct {
	Offset int64
	Err    error
}

func (wf WindowFailure) Error() string {
	return fmt.Sprintf("window at offset %d: %v", wf.Offset, wf.Err)
}

// SingleKeyStrategy anonymizes a table with a single-column primary key.
// One transaction spans the whole column run; any window failure rolls the
// entire column back.
type SingleKeyStrategy struct {
	Dialect   anondb.Dialect
	BatchSize int

	// Windows at or above this row count go through the scratch-table
	// join/merge path instead of a CASE expression. Zero disables the
	// scratch path.
	ScratchTableThreshold int
}

func (s *SingleKeyStrategy) Run(db *sql.DB, col anondb.SensitiveColumn, keyColumns []string,
	generator fake.Generator, totalRows int64, logf LogFunc) error {

	table := anondb.QualifiedTable(s.Dialect, col)
	if totalRows == 0 {
		logf("  %s.%s: table is empty, nothing to do", table, col.ColumnName)
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction for %s: %w", table, err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Warnf("rollback of %s failed: %v", table, rbErr)
			}
		}
	}()

	log.Infof("anonymizing %s.%s in windows of %d rows (single transaction)", table, col.ColumnName, s.BatchSize)

	var offset, processedRows int64
	for offset < totalRows {
		query := s.Dialect.PagedSelectQuery(col, keyColumns, offset, s.BatchSize)
		rows, err := fetchWindow(tx, query, keyColumns)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}

		if err := s.processWindow(tx, col, keyColumns, rows, generator); err != nil {
			return err
		}

		processedRows += int64(len(rows))
		offset += int64(s.BatchSize)
		reportProgress(logf, processedRows, totalRows)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", table, err)
	}
	committed = true
	logf("  Done: %s.%s", table, col.ColumnName)
	return nil
}

func (s *SingleKeyStrategy) processWindow(tx *sql.Tx, col anondb.SensitiveColumn,
	keyColumns []string, rows []Row, generator fake.Generator) error {

	replacements := BuildValueReplacements(rows, generator)
	if len(replacements) == 0 {
		return nil
	}
	replacementFor := func(row Row) (string, bool) {
		replacement, ok := replacements[row.Original]
		return replacement, ok
	}

	if s.ScratchTableThreshold > 0 && len(rows) >= s.ScratchTableThreshold {
		return updateViaScratchTable(tx, s.Dialect, col, keyColumns, rows, replacementFor)
	}

	updateSQL := BuildCaseUpdateSQL(s.Dialect, col, keyColumns, rows, replacementFor)
	if updateSQL == "" {
		return nil
	}
	if _, err := tx.Exec(updateSQL); err != nil {
		return fmt.Errorf("update window of %s: %w", anondb.QualifiedTable(s.Dialect, col), err)
	}
	log.Debugf("updated window of %d rows on %s", len(rows), anondb.QualifiedTable(s.Dialect, col))
	return nil
}

// CompositeKeyStrategy anonymizes a table whose primary key spans two or
// more columns. Each window runs in its own transaction; a failed window is
// rolled back, recorded, and the run continues. Replacements are keyed by
// the concatenated key tuple, so identical values at different keys get
// independent replacements.
type CompositeKeyStrategy struct {
	Dialect   anondb.Dialect
	BatchSize int
}

func (s *CompositeKeyStrategy) Run(db *sql.DB, col anondb.SensitiveColumn, keyColumns []string,
	generator fake.Generator, totalRows int64, logf LogFunc) ([]WindowFailure, error) {

	table := anondb.QualifiedTable(s.Dialect, col)
	if totalRows == 0 {
		logf("  %s.%s: table is empty, nothing to do", table, col.ColumnName)
		return nil, nil
	}

	log.Infof("anonymizing %s.%s with composite key (%d columns) in windows of %d rows",
		table, col.ColumnName, len(keyColumns), s.BatchSize)

	var failures []WindowFailure
	var offset, processedRows int64
	for offset < totalRows {
		windowRows, err := s.runWindow(db, col, keyColumns, generator, offset)
		if err != nil {
			log.Errorf("window of %s.%s at offset %d failed, continuing: %v", table, col.ColumnName, offset, err)
			logf("  Window at offset %d failed: %v", offset, err)
			failures = append(failures, WindowFailure{Offset: offset, Err: err})
			offset += int64(s.BatchSize)
			continue
		}
		if windowRows == 0 {
			break
		}

		processedRows += windowRows
		offset += int64(s.BatchSize)
		reportProgress(logf, processedRows, totalRows)
	}

	logf("  Done (composite key): %s.%s", table, col.ColumnName)
	return failures, nil
}

// runWindow owns one transaction. It returns the number of rows fetched so
// the caller can detect the end of the table.
func (s *CompositeKeyStrategy) runWindow(db *sql.DB, col anondb.SensitiveColumn,
	keyColumns []string, generator fake.Generator, offset int64) (int64, error) {

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin window transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Warnf("window rollback failed: %v", rbErr)
			}
		}
	}()

	query := s.Dialect.PagedSelectQuery(col, keyColumns, offset, s.BatchSize)
	rows, err := fetchWindow(tx, query, keyColumns)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		committed = true
		return 0, tx.Commit()
	}

	replacements := BuildCompositeKeyReplacements(rows, keyColumns, generator)
	replacementFor := func(row Row) (string, bool) {
		replacement, ok := replacements[row.CompositeKey(keyColumns)]
		return replacement, ok
	}
	updateSQL := BuildCaseUpdateSQL(s.Dialect, col, keyColumns, rows, replacementFor)
	if updateSQL != "" {
		if _, err := tx.Exec(updateSQL); err != nil {
			return 0, fmt.Errorf("update window: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit window: %w", err)
	}
	committed = true
	return int64(len(rows)), nil
}

// NoKeyStrategy anonymizes a table without a primary key by paginating over
// a synthetic ordering column. The caller owns the enclosing transaction
// that added the column and will drop it; the strategy only reads and
// updates through it. Failed windows are recorded and the run continues.
type NoKeyStrategy struct {
	Dialect   anondb.Dialect
	BatchSize int
}

func (s *NoKeyStrategy) Run(tx anondb.Querier, col anondb.SensitiveColumn, scratchColumn string,
	generator fake.Generator, totalRows int64, logf LogFunc) []WindowFailure {

	table := anondb.QualifiedTable(s.Dialect, col)
	if totalRows == 0 {
		logf("  %s.%s: table is empty, nothing to do", table, col.ColumnName)
		return nil
	}

	log.Infof("anonymizing %s.%s without primary key via ordering column %s", table, col.ColumnName, scratchColumn)

	var failures []WindowFailure
	// The ordering column is 1-based.
	var processedRows int64
	offset := int64(1)
	for offset <= totalRows {
		query := s.Dialect.ScratchSelectQuery(col, scratchColumn, offset, s.BatchSize)
		rows, err := fetchWindow(tx, query, []string{scratchColumn})
		if err != nil {
			logf("  Window at offset %d failed: %v", offset, err)
			failures = append(failures, WindowFailure{Offset: offset, Err: err})
			offset += int64(s.BatchSize)
			continue
		}
		if len(rows) == 0 {
			break
		}

		if err := s.processWindow(tx, col, scratchColumn, rows, generator); err != nil {
			logf("  Window at offset %d failed: %v", offset, err)
			failures = append(failures, WindowFailure{Offset: offset, Err: err})
			offset += int64(s.BatchSize)
			continue
		}

		processedRows += int64(len(rows))
		offset += int64(s.BatchSize)
		reportProgress(logf, processedRows, totalRows)
	}

	logf("  Done: %s.%s", table, col.ColumnName)
	return failures
}

func (s *NoKeyStrategy) processWindow(tx anondb.Querier, col anondb.SensitiveColumn,
	scratchColumn string, rows []Row, generator fake.Generator) error {

	replacements := BuildValueReplacements(rows, generator)
	if len(replacements) == 0 {
		return nil
	}
	replacementFor := func(row Row) (string, bool) {
		replacement, ok := replacements[row.Original]
		return replacement, ok
	}
	updateSQL := BuildCaseUpdateSQL(s.Dialect, col, []string{scratchColumn}, rows, replacementFor)
	if updateSQL == "" {
		return nil
	}
	if _, err := tx.Exec(updateSQL); err != nil {
		return fmt.Errorf("update window: %w", err)
	}
	return nil
}
