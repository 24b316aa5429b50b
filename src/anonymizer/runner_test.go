package anonymizer

import (
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leocalheirosdb1/sql-data-anonymizer/src/anondb"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/fake"
)

type countingGenerator struct {
	category string
	calls    int
}

func (g *countingGenerator) Category() string { return g.category }

func (g *countingGenerator) Generate(string) string {
	g.calls++
	return fmt.Sprintf("gen-%d", g.calls)
}

func testGenerators() map[string]fake.Generator {
	return map[string]fake.Generator{
		anondb.CATEGORY_EMAIL: &countingGenerator{category: anondb.CATEGORY_EMAIL},
		anondb.CATEGORY_CPF:   &countingGenerator{category: anondb.CATEGORY_CPF},
	}
}

func mysqlDialect(t *testing.T) anondb.Dialect {
	d, err := anondb.GetDialect(anondb.MYSQL)
	require.NoError(t, err)
	return d
}

func collectLog(lines *[]string) func(string, ...any) {
	return func(format string, args ...any) {
		*lines = append(*lines, fmt.Sprintf(format, args...))
	}
}

func TestGroupByTablePreservesOrder(t *testing.T) {
	columns := []anondb.SensitiveColumn{
		{Schema: "app", TableName: "customers", ColumnName: "email_address", Category: anondb.CATEGORY_EMAIL},
		{Schema: "app", TableName: "orders", ColumnName: "contact_phone", Category: anondb.CATEGORY_PHONE},
		{Schema: "app", TableName: "customers", ColumnName: "cpf_number", Category: anondb.CATEGORY_CPF},
	}

	tables := groupByTable(columns)
	require.Len(t, tables, 2)
	assert.Len(t, tables[0].columns, 2)
	assert.Equal(t, "customers", tables[0].first().TableName)
	assert.Equal(t, "orders", tables[1].first().TableName)
}

func TestRunTableSkipsUnmappedCategory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// PK lookup and row count, then nothing: phone has no generator here.
	mock.ExpectQuery("KEY_COLUMN_USAGE").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))
	mock.ExpectQuery("COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(10))

	runner := NewRunner(testGenerators(), 5000, 0)
	table := tableColumns{columns: []anondb.SensitiveColumn{
		{Schema: "app", TableName: "orders", ColumnName: "contact_phone", Category: anondb.CATEGORY_PHONE},
	}}

	var lines []string
	runner.runTable(db, mysqlDialect(t), table, collectLog(&lines))

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "no substitution strategy")
	assert.Contains(t, lines[0], "phone")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTableSingleKeyEmptyTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("KEY_COLUMN_USAGE").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))
	mock.ExpectQuery("COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))

	runner := NewRunner(testGenerators(), 5000, 0)
	table := tableColumns{columns: []anondb.SensitiveColumn{
		{Schema: "app", TableName: "customers", ColumnName: "email_address", Category: anondb.CATEGORY_EMAIL},
	}}

	var lines []string
	runner.runTable(db, mysqlDialect(t), table, collectLog(&lines))

	// Zero rows: no transaction, no updates, a log line per column.
	assert.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "nothing to do")
}

func TestRunTableWithoutKeySharesOrderingColumn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	emptyWindow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"anon_row", "value"})
	}

	// One enclosing transaction: add column once, paginate each of the two
	// columns, drop once, commit.
	mock.ExpectBegin()
	mock.ExpectExec("ALTER TABLE .+ ADD .*anon_row_").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("BETWEEN 1 AND 5000").WillReturnRows(emptyWindow())
	mock.ExpectQuery("BETWEEN 1 AND 5000").WillReturnRows(emptyWindow())
	mock.ExpectExec("ALTER TABLE .+ DROP COLUMN .*anon_row_").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	runner := NewRunner(testGenerators(), 5000, 0)
	table := tableColumns{columns: []anondb.SensitiveColumn{
		{Schema: "app", TableName: "audit_log", ColumnName: "user_email", Category: anondb.CATEGORY_EMAIL},
		{Schema: "app", TableName: "audit_log", ColumnName: "user_cpf", Category: anondb.CATEGORY_CPF},
	}}

	var lines []string
	runner.runTableWithoutKey(db, mysqlDialect(t), table, 100, collectLog(&lines))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTableWithoutKeyContinuesAfterColumnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	window := sqlmock.NewRows([]string{"anon_row", "value"}).AddRow("1", "a@x.com")

	mock.ExpectBegin()
	mock.ExpectExec("ALTER TABLE .+ ADD ").WillReturnResult(sqlmock.NewResult(0, 0))
	// First column's only window fails; second column still runs; the
	// ordering column is still dropped exactly once.
	mock.ExpectQuery("BETWEEN 1 AND 2").WillReturnError(fmt.Errorf("table is locked"))
	mock.ExpectQuery("BETWEEN 3 AND 4").WillReturnRows(sqlmock.NewRows([]string{"anon_row", "value"}))
	mock.ExpectQuery("BETWEEN 1 AND 2").WillReturnRows(window)
	mock.ExpectExec("^UPDATE ").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("BETWEEN 3 AND 4").WillReturnRows(sqlmock.NewRows([]string{"anon_row", "value"}))
	mock.ExpectExec("ALTER TABLE .+ DROP COLUMN ").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	runner := NewRunner(testGenerators(), 2, 0)
	table := tableColumns{columns: []anondb.SensitiveColumn{
		{Schema: "app", TableName: "audit_log", ColumnName: "user_email", Category: anondb.CATEGORY_EMAIL},
		{Schema: "app", TableName: "audit_log", ColumnName: "user_cpf", Category: anondb.CATEGORY_CPF},
	}}

	var lines []string
	runner.runTableWithoutKey(db, mysqlDialect(t), table, 3, collectLog(&lines))

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, fmt.Sprint(lines), "failed windows")
}
