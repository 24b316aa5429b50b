// Package batch drives one table-column anonymization run to completion. The
// pagination and commit behavior depends on the table's key shape: a single
// primary key column, a composite key, or no key at all.
package batch

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/leocalheirosdb1/sql-data-anonymizer/src/anondb"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/fake"
)

const (
	DEFAULT_BATCH_SIZE = 5000

	// One INSERT statement stages at most this many scratch rows.
	scratchInsertChunkSize = 500

	// Scratch table key columns are VARCHAR(255); longer key values are
	// truncated before staging.
	keyValueMaxLength = 255

	compositeKeySeparator = "|"
)

// LogFunc receives human-readable progress lines. The orchestrator wires it
// to the job's log so status polling can follow a run.
type LogFunc func(format string, args ...any)

// Row is one fetched row of a pagination window: the key column values (or
// the synthetic ordering column's value) plus the sensitive column's current
// value.
type Row struct {
	KeyValues map[string]string
	Original  string
}

// CompositeKey joins the row's key values in key-column order. Replacements
// under the composite-key strategy are looked up by this string, not by the
// original value.
func (r Row) CompositeKey(keyColumns []string) string {
	parts := lo.Map(keyColumns, func(key string, _ int) string { return r.KeyValues[key] })
	return strings.Join(parts, compositeKeySeparator)
}

func (r Row) hasValue() bool {
	return strings.TrimSpace(r.Original) != ""
}

// BuildValueReplacements maps each distinct non-empty original value in the
// window to one generated replacement, so repeated values within the window
// stay consistent. The first occurrence wins.
func BuildValueReplacements(rows []Row, generator fake.Generator) map[string]string {
	replacements := make(map[string]string, len(rows))
	for _, row := range rows {
		if !row.hasValue() {
			continue
		}
		if _, ok := replacements[row.Original]; ok {
			continue
		}
		replacements[row.Original] = generator.Generate(row.Original)
	}
	return replacements
}

// BuildCompositeKeyReplacements maps each row's composite key to a generated
// replacement. Identical original values at different keys diverge.
func BuildCompositeKeyReplacements(rows []Row, keyColumns []string, generator fake.Generator) map[string]string {
	replacements := make(map[string]string, len(rows))
	for _, row := range rows {
		if !row.hasValue() {
			continue
		}
		replacements[row.CompositeKey(keyColumns)] = generator.Generate(row.Original)
	}
	return replacements
}

// fetchWindow runs a window SELECT and scans key values plus the sensitive
// column, in that order. NULLs scan as empty strings and are later skipped
// by the empty-value guard.
func fetchWindow(db anondb.Querier, query string, keyColumns []string) ([]Row, error) {
	sqlRows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}
	defer sqlRows.Close()

	var rows []Row
	scanTargets := make([]any, len(keyColumns)+1)
	for sqlRows.Next() {
		values := make([]*string, len(keyColumns)+1)
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := sqlRows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan window row: %w", err)
		}

		row := Row{KeyValues: make(map[string]string, len(keyColumns))}
		for i, key := range keyColumns {
			if values[i] != nil {
				row.KeyValues[key] = *values[i]
			}
		}
		if values[len(keyColumns)] != nil {
			row.Original = *values[len(keyColumns)]
		}
		rows = append(rows, row)
	}
	if err := sqlRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate window rows: %w", err)
	}
	return rows, nil
}

func reportProgress(logf LogFunc, processedRows, totalRows int64) {
	percent := float64(processedRows) / float64(totalRows) * 100
	logf("  Progress: %d/%d (%.2f%%)", processedRows, totalRows, percent)
}
