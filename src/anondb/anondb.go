package anondb

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/samber/lo"
)

// Supported database engine kinds.
const (
	SQLSERVER = "sqlserver"
	ORACLE    = "oracle"
	MYSQL     = "mysql"
)

// Sensitive data categories inferred from column names.
const (
	CATEGORY_EMAIL   = "email"
	CATEGORY_CPF     = "cpf"
	CATEGORY_PHONE   = "phone"
	CATEGORY_UNKNOWN = "unknown"
)

// SensitiveColumn describes one column flagged by catalog discovery.
type SensitiveColumn struct {
	Schema     string
	TableName  string
	ColumnName string
	DataType   string
	Category   string
}

// ScratchRow is one (key tuple, replacement) pair staged into a scratch table.
type ScratchRow struct {
	KeyValues   map[string]string
	Replacement string
}

// Querier is the subset of *sql.DB / *sql.Tx the anonymization code runs against.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

/*
Dialect generates engine-specific SQL for the engine-agnostic operations the
anonymizer needs: catalog discovery, pagination, identifier quoting, scratch
object lifecycle and bulk updates. All builders are pure string producers;
every interpolated value must already have passed through EscapeLiteral.
*/
type Dialect interface {
	Kind() string

	ConnectionString(source *Source) string
	Connect(source *Source) (*sql.DB, error)

	SensitiveColumnsQuery() string
	PrimaryKeysQuery(schema, table string) string
	RowCountQuery(col SensitiveColumn) string

	PagedSelectQuery(col SensitiveColumn, keyColumns []string, offset int64, batchSize int) string
	ScratchSelectQuery(col SensitiveColumn, scratchColumn string, offset int64, batchSize int) string

	AddScratchColumnSQL(col SensitiveColumn, scratchColumn string) []string
	DropScratchColumnSQL(col SensitiveColumn, scratchColumn string) []string

	NewScratchTableName() string
	CreateScratchTableSQL(name string, keyColumns []string) string
	BatchInsertSQL(name string, keyColumns []string, rows []ScratchRow) string
	UpdateFromScratchTableSQL(name string, col SensitiveColumn, keyColumns []string) string
	DropScratchTableSQL(name string) string

	QuoteIdentifier(identifier string) string
	EscapeLiteral(value string) string
}

var dialects = map[string]Dialect{
	MYSQL:     newMySQL(),
	ORACLE:    newOracle(),
	SQLSERVER: newSQLServer(),
}

// UnsupportedEngineError is returned when a requested engine kind has no
// registered dialect. It is surfaced to the submitter before any job exists.
type UnsupportedEngineError struct {
	Kind string
}

func (e UnsupportedEngineError) Error() string {
	return fmt.Sprintf("unsupported database type %q (supported: %s)",
		e.Kind, strings.Join(SupportedKinds(), ", "))
}

func GetDialect(kind string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(kind)]
	if !ok {
		return nil, UnsupportedEngineError{Kind: kind}
	}
	return d, nil
}

func SupportedKinds() []string {
	kinds := lo.Keys(dialects)
	sort.Strings(kinds)
	return kinds
}

// QualifiedTable returns the dialect-quoted, schema-qualified table name.
func QualifiedTable(d Dialect, col SensitiveColumn) string {
	if col.Schema == "" {
		return d.QuoteIdentifier(col.TableName)
	}
	return fmt.Sprintf("%s.%s", d.QuoteIdentifier(col.Schema), d.QuoteIdentifier(col.TableName))
}

// DiscoverSensitiveColumns runs the dialect's catalog query and returns every
// base-table column whose name matches a known sensitive-data pattern.
func DiscoverSensitiveColumns(db Querier, d Dialect) ([]SensitiveColumn, error) {
	query := d.SensitiveColumnsQuery()
	log.Infof("discovering sensitive columns on %s", d.Kind())

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query sensitive columns: %w", err)
	}
	defer rows.Close()

	var columns []SensitiveColumn
	for rows.Next() {
		var col SensitiveColumn
		if err := rows.Scan(&col.Schema, &col.TableName, &col.ColumnName, &col.DataType, &col.Category); err != nil {
			return nil, fmt.Errorf("scan sensitive column row: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sensitive columns: %w", err)
	}
	log.Infof("found %d sensitive columns", len(columns))
	return columns, nil
}

// GetPrimaryKeys returns the table's key column names in ordinal position
// order. An empty result means the table has no primary key.
func GetPrimaryKeys(db Querier, d Dialect, col SensitiveColumn) ([]string, error) {
	query := d.PrimaryKeysQuery(col.Schema, col.TableName)

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query primary keys of %s: %w", QualifiedTable(d, col), err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan primary key column: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary keys: %w", err)
	}
	return keys, nil
}

func GetTableRowCount(db Querier, d Dialect, col SensitiveColumn) (int64, error) {
	query := d.RowCountQuery(col)

	var rowCount int64
	if err := db.QueryRow(query).Scan(&rowCount); err != nil {
		return 0, fmt.Errorf("query row count of %s: %w", QualifiedTable(d, col), err)
	}
	log.Infof("table %s has %d rows", QualifiedTable(d, col), rowCount)
	return rowCount, nil
}

func quoteAll(d Dialect, identifiers []string) []string {
	return lo.Map(identifiers, func(id string, _ int) string { return d.QuoteIdentifier(id) })
}
