package batch

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/leocalheirosdb1/sql-data-anonymizer/src/anondb"
)

// BuildCaseUpdateSQL produces one UPDATE whose SET is a CASE expression
// keyed by key-column equality, guarded by a WHERE clause restricted to the
// rows just computed. replacementFor looks up the row's replacement; rows
// without one are left out. Returns "" when no row qualifies.
func BuildCaseUpdateSQL(d anondb.Dialect, col anondb.SensitiveColumn, keyColumns []string,
	rows []Row, replacementFor func(Row) (string, bool)) string {

	var whenClauses []string
	var whereConditions []string
	for _, row := range rows {
		if !row.hasValue() {
			continue
		}
		replacement, ok := replacementFor(row)
		if !ok {
			continue
		}

		conditions := make([]string, len(keyColumns))
		for i, key := range keyColumns {
			conditions[i] = fmt.Sprintf("%s = '%s'", d.QuoteIdentifier(key), d.EscapeLiteral(row.KeyValues[key]))
		}
		match := strings.Join(conditions, " AND ")
		whenClauses = append(whenClauses, fmt.Sprintf("WHEN %s THEN '%s'", match, d.EscapeLiteral(replacement)))
		whereConditions = append(whereConditions, fmt.Sprintf("(%s)", match))
	}
	if len(whenClauses) == 0 {
		return ""
	}

	column := d.QuoteIdentifier(col.ColumnName)
	return fmt.Sprintf("UPDATE %s SET %s = CASE %s ELSE %s END WHERE %s",
		anondb.QualifiedTable(d, col), column, strings.Join(whenClauses, " "),
		column, strings.Join(whereConditions, " OR "))
}

// updateViaScratchTable stages (key, replacement) pairs into a scratch table
// in chunked inserts and applies them with one dialect join/merge. The
// scratch table is dropped on every exit path.
func updateViaScratchTable(db anondb.Querier, d anondb.Dialect, col anondb.SensitiveColumn,
	keyColumns []string, rows []Row, replacementFor func(Row) (string, bool)) error {

	scratchRows := buildScratchRows(rows, keyColumns, replacementFor)
	if len(scratchRows) == 0 {
		return nil
	}

	name := d.NewScratchTableName()
	if _, err := db.Exec(d.CreateScratchTableSQL(name, keyColumns)); err != nil {
		return fmt.Errorf("create scratch table %s: %w", name, err)
	}
	defer dropScratchTableSafely(db, d, name)

	for _, chunk := range lo.Chunk(scratchRows, scratchInsertChunkSize) {
		if _, err := db.Exec(d.BatchInsertSQL(name, keyColumns, chunk)); err != nil {
			return fmt.Errorf("stage rows into scratch table %s: %w", name, err)
		}
	}

	if _, err := db.Exec(d.UpdateFromScratchTableSQL(name, col, keyColumns)); err != nil {
		return fmt.Errorf("apply scratch table %s: %w", name, err)
	}
	return nil
}

func buildScratchRows(rows []Row, keyColumns []string, replacementFor func(Row) (string, bool)) []anondb.ScratchRow {
	var scratchRows []anondb.ScratchRow
	for _, row := range rows {
		if !row.hasValue() {
			continue
		}
		replacement, ok := replacementFor(row)
		if !ok {
			continue
		}

		keyValues := make(map[string]string, len(keyColumns))
		for _, key := range keyColumns {
			keyValues[key] = truncate(row.KeyValues[key], keyValueMaxLength)
		}
		scratchRows = append(scratchRows, anondb.ScratchRow{KeyValues: keyValues, Replacement: replacement})
	}
	return scratchRows
}

// dropScratchTableSafely never escalates: failing to drop a temporary
// artifact must not mask the outcome of the anonymization itself.
func dropScratchTableSafely(db anondb.Querier, d anondb.Dialect, name string) {
	if _, err := db.Exec(d.DropScratchTableSQL(name)); err != nil {
		log.Warnf("failed to drop scratch table %s: %v", name, err)
	}
}

func truncate(value string, maxLength int) string {
	if len(value) > maxLength {
		return value[:maxLength]
	}
	return value
}
