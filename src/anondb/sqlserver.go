package anondb

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/samber/lo"
)

type SQLServer struct{}

func newSQLServer() *SQLServer {
	return &SQLServer{}
}

func (ss *SQLServer) Kind() string {
	return SQLSERVER
}

func (ss *SQLServer) ConnectionString(source *Source) string {
	if source.Uri != "" {
		return source.Uri
	}
	source.ApplyPortDefault()

	query := url.Values{}
	query.Add("database", source.DBName)
	if source.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if source.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", source.ConnectionTimeout))
	}
	source.Uri = fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(source.User), url.QueryEscape(source.Password),
		source.Host, source.Port, query.Encode())
	return source.Uri
}

func (ss *SQLServer) Connect(source *Source) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", ss.ConnectionString(source))
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection to %s: %w", source.Host, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlserver database %q on %s: %w", source.DBName, source.Host, err)
	}
	return db, nil
}

func (ss *SQLServer) SensitiveColumnsQuery() string {
	return `SELECT
		t.TABLE_SCHEMA,
		t.TABLE_NAME,
		c.COLUMN_NAME,
		c.DATA_TYPE,
		CASE
			WHEN c.COLUMN_NAME LIKE '%EMAIL%' THEN 'email'
			WHEN c.COLUMN_NAME LIKE '%CPF%' THEN 'cpf'
			WHEN c.COLUMN_NAME LIKE '%PHONE%' OR c.COLUMN_NAME LIKE '%TELEFONE%' THEN 'phone'
			ELSE 'unknown'
		END AS category
	FROM INFORMATION_SCHEMA.TABLES t
	INNER JOIN INFORMATION_SCHEMA.COLUMNS c
		ON t.TABLE_NAME = c.TABLE_NAME
		AND t.TABLE_SCHEMA = c.TABLE_SCHEMA
	WHERE t.TABLE_TYPE = 'BASE TABLE'
		AND (
			c.COLUMN_NAME LIKE '%EMAIL%'
			OR c.COLUMN_NAME LIKE '%CPF%'
			OR c.COLUMN_NAME LIKE '%PHONE%'
			OR c.COLUMN_NAME LIKE '%TELEFONE%'
		)
	ORDER BY t.TABLE_NAME, c.COLUMN_NAME`
}

func (ss *SQLServer) PrimaryKeysQuery(schema, table string) string {
	return fmt.Sprintf(`SELECT COLUMN_NAME
	FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
	WHERE OBJECTPROPERTY(OBJECT_ID(CONSTRAINT_SCHEMA + '.' + CONSTRAINT_NAME), 'IsPrimaryKey') = 1
		AND TABLE_SCHEMA = '%s'
		AND TABLE_NAME = '%s'
	ORDER BY ORDINAL_POSITION`, ss.EscapeLiteral(schema), ss.EscapeLiteral(table))
}

func (ss *SQLServer) RowCountQuery(col SensitiveColumn) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", QualifiedTable(ss, col))
}

func (ss *SQLServer) PagedSelectQuery(col SensitiveColumn, keyColumns []string, offset int64, batchSize int) string {
	keyList := strings.Join(quoteAll(ss, keyColumns), ", ")
	return fmt.Sprintf("SELECT %s, %s FROM %s WITH (NOLOCK) ORDER BY %s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY",
		keyList, ss.QuoteIdentifier(col.ColumnName), QualifiedTable(ss, col), keyList, offset, batchSize)
}

func (ss *SQLServer) ScratchSelectQuery(col SensitiveColumn, scratchColumn string, offset int64, batchSize int) string {
	return fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s BETWEEN %d AND %d AND %s IS NOT NULL",
		ss.QuoteIdentifier(scratchColumn), ss.QuoteIdentifier(col.ColumnName), QualifiedTable(ss, col),
		ss.QuoteIdentifier(scratchColumn), offset, offset+int64(batchSize)-1, ss.QuoteIdentifier(col.ColumnName))
}

func (ss *SQLServer) AddScratchColumnSQL(col SensitiveColumn, scratchColumn string) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s ADD %s BIGINT IDENTITY(1,1)",
			QualifiedTable(ss, col), ss.QuoteIdentifier(scratchColumn)),
	}
}

func (ss *SQLServer) DropScratchColumnSQL(col SensitiveColumn, scratchColumn string) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", QualifiedTable(ss, col), ss.QuoteIdentifier(scratchColumn)),
	}
}

func (ss *SQLServer) NewScratchTableName() string {
	return fmt.Sprintf("#scratch_anon_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}

func (ss *SQLServer) CreateScratchTableSQL(name string, keyColumns []string) string {
	keyDefs := lo.Map(keyColumns, func(key string, _ int) string {
		return fmt.Sprintf("%s VARCHAR(255) NOT NULL", ss.QuoteIdentifier(key))
	})
	return fmt.Sprintf("CREATE TABLE %s (%s, %s NVARCHAR(MAX) NOT NULL, PRIMARY KEY (%s))",
		name, strings.Join(keyDefs, ", "), ss.QuoteIdentifier(scratchValueColumn),
		strings.Join(quoteAll(ss, keyColumns), ", "))
}

func (ss *SQLServer) BatchInsertSQL(name string, keyColumns []string, rows []ScratchRow) string {
	values := lo.Map(rows, func(row ScratchRow, _ int) string {
		keyValues := lo.Map(keyColumns, func(key string, _ int) string {
			return fmt.Sprintf("'%s'", ss.EscapeLiteral(row.KeyValues[key]))
		})
		return fmt.Sprintf("(%s, '%s')", strings.Join(keyValues, ", "), ss.EscapeLiteral(row.Replacement))
	})
	return fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES %s",
		name, strings.Join(quoteAll(ss, keyColumns), ", "), ss.QuoteIdentifier(scratchValueColumn),
		strings.Join(values, ", "))
}

func (ss *SQLServer) UpdateFromScratchTableSQL(name string, col SensitiveColumn, keyColumns []string) string {
	joins := lo.Map(keyColumns, func(key string, _ int) string {
		return fmt.Sprintf("t.%s = s.%s", ss.QuoteIdentifier(key), ss.QuoteIdentifier(key))
	})
	return fmt.Sprintf("UPDATE t WITH (ROWLOCK) SET t.%s = s.%s FROM %s t INNER JOIN %s s ON %s OPTION (OPTIMIZE FOR UNKNOWN)",
		ss.QuoteIdentifier(col.ColumnName), ss.QuoteIdentifier(scratchValueColumn),
		QualifiedTable(ss, col), name, strings.Join(joins, " AND "))
}

func (ss *SQLServer) DropScratchTableSQL(name string) string {
	return fmt.Sprintf("IF OBJECT_ID('tempdb..%s') IS NOT NULL DROP TABLE %s", name, name)
}

func (ss *SQLServer) QuoteIdentifier(identifier string) string {
	return fmt.Sprintf("[%s]", identifier)
}

// T-SQL strings only need single quotes doubled; backslash is not an escape
// character. Newlines are kept out of generated literals for log readability.
func (ss *SQLServer) EscapeLiteral(value string) string {
	replacer := strings.NewReplacer(
		"'", "''",
		"\n", " ",
		"\r", " ",
	)
	return replacer.Replace(value)
}
