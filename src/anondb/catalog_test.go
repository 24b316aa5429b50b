package anondb

import (
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (sqlmock.Sqlmock, Querier) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, db
}

func TestDiscoverSensitiveColumns(t *testing.T) {
	mock, db := newMockDB(t)
	mysql := newMySQL()

	rows := sqlmock.NewRows([]string{"TABLE_SCHEMA", "TABLE_NAME", "COLUMN_NAME", "DATA_TYPE", "category"}).
		AddRow("app", "customers", "email_address", "varchar", "email").
		AddRow("app", "customers", "cpf_number", "varchar", "cpf").
		AddRow("app", "orders", "contact_telefone", "varchar", "phone")
	mock.ExpectQuery(mysql.SensitiveColumnsQuery()).WillReturnRows(rows)

	columns, err := DiscoverSensitiveColumns(db, mysql)
	require.NoError(t, err)
	require.Len(t, columns, 3)
	assert.Equal(t, SensitiveColumn{
		Schema: "app", TableName: "customers", ColumnName: "email_address",
		DataType: "varchar", Category: CATEGORY_EMAIL,
	}, columns[0])
	assert.Equal(t, CATEGORY_CPF, columns[1].Category)
	assert.Equal(t, CATEGORY_PHONE, columns[2].Category)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDiscoverSensitiveColumnsQueryError(t *testing.T) {
	mock, db := newMockDB(t)
	mysql := newMySQL()

	mock.ExpectQuery(mysql.SensitiveColumnsQuery()).
		WillReturnError(fmt.Errorf("access denied"))

	_, err := DiscoverSensitiveColumns(db, mysql)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query sensitive columns")
}

func TestGetPrimaryKeys(t *testing.T) {
	mock, db := newMockDB(t)
	sqlserver := newSQLServer()

	col := SensitiveColumn{Schema: "dbo", TableName: "orders", ColumnName: "contact_phone"}
	rows := sqlmock.NewRows([]string{"COLUMN_NAME"}).
		AddRow("tenant_id").
		AddRow("order_id")
	mock.ExpectQuery(sqlserver.PrimaryKeysQuery("dbo", "orders")).WillReturnRows(rows)

	keys, err := GetPrimaryKeys(db, sqlserver, col)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant_id", "order_id"}, keys)
}

func TestGetPrimaryKeysNoPK(t *testing.T) {
	mock, db := newMockDB(t)
	mysql := newMySQL()

	col := SensitiveColumn{Schema: "app", TableName: "audit_log", ColumnName: "user_email"}
	mock.ExpectQuery(mysql.PrimaryKeysQuery("app", "audit_log")).
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}))

	keys, err := GetPrimaryKeys(db, mysql, col)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestGetTableRowCount(t *testing.T) {
	mock, db := newMockDB(t)
	mysql := newMySQL()

	col := SensitiveColumn{Schema: "app", TableName: "customers", ColumnName: "email_address"}
	mock.ExpectQuery(mysql.RowCountQuery(col)).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(12000))

	rowCount, err := GetTableRowCount(db, mysql, col)
	require.NoError(t, err)
	assert.Equal(t, int64(12000), rowCount)
}
