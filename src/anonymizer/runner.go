// Package anonymizer ties the pieces together: the Runner drives one
// anonymization run against a database, and the Service queues runs as jobs
// processed one at a time by a background worker.
package anonymizer

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/leocalheirosdb1/sql-data-anonymizer/src/anondb"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/batch"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/fake"
)

// Runner executes one full anonymization run: discovery, key-shape
// detection, and one batch strategy invocation per sensitive column.
// Column-level failures are logged and do not abort the run; only
// connection and discovery errors do.
type Runner struct {
	Generators            map[string]fake.Generator
	BatchSize             int
	ScratchTableThreshold int
}

func NewRunner(generators map[string]fake.Generator, batchSize, scratchTableThreshold int) *Runner {
	if batchSize <= 0 {
		batchSize = batch.DEFAULT_BATCH_SIZE
	}
	return &Runner{
		Generators:            generators,
		BatchSize:             batchSize,
		ScratchTableThreshold: scratchTableThreshold,
	}
}

func (r *Runner) Run(source *anondb.Source, logf batch.LogFunc) error {
	d, err := anondb.GetDialect(source.DBType)
	if err != nil {
		return err
	}

	db, err := d.Connect(source)
	if err != nil {
		return err
	}
	defer db.Close()

	logf("Detecting sensitive columns...")
	columns, err := anondb.DiscoverSensitiveColumns(db, d)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		logf("No sensitive columns found")
		return nil
	}

	tables := groupByTable(columns)
	logf("Found %d sensitive columns in %d tables", len(columns), len(tables))

	for _, table := range tables {
		r.runTable(db, d, table, logf)
	}
	return nil
}

// tableColumns is one table's worth of discovered sensitive columns.
type tableColumns struct {
	columns []anondb.SensitiveColumn
}

func (tc tableColumns) first() anondb.SensitiveColumn { return tc.columns[0] }

// groupByTable preserves discovery order: tables appear in the order their
// first sensitive column was discovered.
func groupByTable(columns []anondb.SensitiveColumn) []tableColumns {
	index := make(map[string]int)
	var tables []tableColumns
	for _, col := range columns {
		key := col.Schema + "." + col.TableName
		i, ok := index[key]
		if !ok {
			i = len(tables)
			index[key] = i
			tables = append(tables, tableColumns{})
		}
		tables[i].columns = append(tables[i].columns, col)
	}
	return tables
}

// runTable looks up the table's key shape and row count once, then runs the
// matching strategy for each of the table's sensitive columns. Failures are
// reported to the job log and swallowed.
func (r *Runner) runTable(db *sql.DB, d anondb.Dialect, table tableColumns, logf batch.LogFunc) {
	qualified := anondb.QualifiedTable(d, table.first())

	keyColumns, err := anondb.GetPrimaryKeys(db, d, table.first())
	if err != nil {
		logf("Skipping %s: primary key lookup failed: %v", qualified, err)
		log.Errorf("primary key lookup for %s failed: %v", qualified, err)
		return
	}
	totalRows, err := anondb.GetTableRowCount(db, d, table.first())
	if err != nil {
		logf("Skipping %s: row count failed: %v", qualified, err)
		log.Errorf("row count for %s failed: %v", qualified, err)
		return
	}

	if len(keyColumns) == 0 {
		r.runTableWithoutKey(db, d, table, totalRows, logf)
		return
	}

	for _, col := range table.columns {
		generator, ok := r.Generators[col.Category]
		if !ok {
			logf("Warning: no substitution strategy for category %q on %s.%s, skipping", col.Category, qualified, col.ColumnName)
			log.Warnf("no generator registered for category %q", col.Category)
			continue
		}
		logf("Processing %s.%s (category: %s)", qualified, col.ColumnName, col.Category)

		if len(keyColumns) == 1 {
			strategy := &batch.SingleKeyStrategy{
				Dialect:               d,
				BatchSize:             r.BatchSize,
				ScratchTableThreshold: r.ScratchTableThreshold,
			}
			if err := strategy.Run(db, col, keyColumns, generator, totalRows, logf); err != nil {
				logf("Column %s.%s failed and was rolled back: %v", qualified, col.ColumnName, err)
				log.Errorf("single-key run on %s.%s failed: %v", qualified, col.ColumnName, err)
			}
			continue
		}

		strategy := &batch.CompositeKeyStrategy{Dialect: d, BatchSize: r.BatchSize}
		failures, err := strategy.Run(db, col, keyColumns, generator, totalRows, logf)
		if err != nil {
			logf("Column %s.%s failed: %v", qualified, col.ColumnName, err)
			log.Errorf("composite-key run on %s.%s failed: %v", qualified, col.ColumnName, err)
			continue
		}
		if len(failures) > 0 {
			logf("Column %s.%s finished with %d failed windows", qualified, col.ColumnName, len(failures))
		}
	}
}

// runTableWithoutKey owns the enclosing transaction for a key-less table:
// the synthetic ordering column is added once, shared by every sensitive
// column of the table, and dropped exactly once at the end.
func (r *Runner) runTableWithoutKey(db *sql.DB, d anondb.Dialect, table tableColumns, totalRows int64, logf batch.LogFunc) {
	qualified := anondb.QualifiedTable(d, table.first())
	logf("Table %s has no primary key, using a synthetic ordering column", qualified)

	tx, err := db.Begin()
	if err != nil {
		logf("Skipping %s: %v", qualified, err)
		log.Errorf("begin transaction for %s failed: %v", qualified, err)
		return
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Warnf("rollback of %s failed: %v", qualified, rbErr)
			}
		}
	}()

	scratchColumn := fmt.Sprintf("anon_row_%s", shortID())
	for _, stmt := range d.AddScratchColumnSQL(table.first(), scratchColumn) {
		if _, err := tx.Exec(stmt); err != nil {
			logf("Skipping %s: adding ordering column failed: %v", qualified, err)
			log.Errorf("add ordering column on %s failed: %v", qualified, err)
			return
		}
	}

	strategy := &batch.NoKeyStrategy{Dialect: d, BatchSize: r.BatchSize}
	for _, col := range table.columns {
		generator, ok := r.Generators[col.Category]
		if !ok {
			logf("Warning: no substitution strategy for category %q on %s.%s, skipping", col.Category, qualified, col.ColumnName)
			continue
		}
		logf("Processing %s.%s (category: %s)", qualified, col.ColumnName, col.Category)
		failures := strategy.Run(tx, col, scratchColumn, generator, totalRows, logf)
		if len(failures) > 0 {
			logf("Column %s.%s finished with %d failed windows", qualified, col.ColumnName, len(failures))
		}
	}

	for _, stmt := range d.DropScratchColumnSQL(table.first(), scratchColumn) {
		if _, err := tx.Exec(stmt); err != nil {
			// Never escalate cleanup failures past a warning.
			logf("Warning: dropping ordering column on %s failed: %v", qualified, err)
			log.Warnf("drop ordering column on %s failed: %v", qualified, err)
			break
		}
	}

	if err := tx.Commit(); err != nil {
		logf("Table %s failed to commit: %v", qualified, err)
		log.Errorf("commit of %s failed: %v", qualified, err)
		return
	}
	committed = true
}

func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
