package anondb

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Name of the staged replacement column inside scratch tables, shared by all
// dialects.
const scratchValueColumn = "replacement_value"

type MySQL struct{}

func newMySQL() *MySQL {
	return &MySQL{}
}

func (ms *MySQL) Kind() string {
	return MYSQL
}

func (ms *MySQL) ConnectionString(source *Source) string {
	if source.Uri != "" {
		return source.Uri
	}
	source.ApplyPortDefault()
	source.Uri = fmt.Sprintf("%s:%s@(%s:%d)/%s?timeout=%ds", source.User, source.Password,
		source.Host, source.Port, source.DBName, source.ConnectionTimeout)
	return source.Uri
}

func (ms *MySQL) Connect(source *Source) (*sql.DB, error) {
	db, err := sql.Open("mysql", ms.ConnectionString(source))
	if err != nil {
		return nil, fmt.Errorf("open mysql connection to %s: %w", source.Host, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql database %q on %s: %w", source.DBName, source.Host, err)
	}
	return db, nil
}

func (ms *MySQL) SensitiveColumnsQuery() string {
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
		AND t.TABLE_SCHEMA NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')
		AND (
			c.COLUMN_NAME LIKE '%EMAIL%'
			OR c.COLUMN_NAME LIKE '%CPF%'
			OR c.COLUMN_NAME LIKE '%PHONE%'
			OR c.COLUMN_NAME LIKE '%TELEFONE%'
		)
	ORDER BY t.TABLE_NAME, c.COLUMN_NAME`
}

func (ms *MySQL) PrimaryKeysQuery(schema, table string) string {
	return fmt.Sprintf(`SELECT COLUMN_NAME
	FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
	WHERE CONSTRAINT_NAME = 'PRIMARY'
		AND TABLE_SCHEMA = '%s'
		AND TABLE_NAME = '%s'
	ORDER BY ORDINAL_POSITION`, ms.EscapeLiteral(schema), ms.EscapeLiteral(table))
}

func (ms *MySQL) RowCountQuery(col SensitiveColumn) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", QualifiedTable(ms, col))
}

func (ms *MySQL) PagedSelectQuery(col SensitiveColumn, keyColumns []string, offset int64, batchSize int) string {
	keyList := strings.Join(quoteAll(ms, keyColumns), ", ")
	return fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s LIMIT %d OFFSET %d",
		keyList, ms.QuoteIdentifier(col.ColumnName), QualifiedTable(ms, col), keyList, batchSize, offset)
}

func (ms *MySQL) ScratchSelectQuery(col SensitiveColumn, scratchColumn string, offset int64, batchSize int) string {
	return fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s BETWEEN %d AND %d AND %s IS NOT NULL",
		ms.QuoteIdentifier(scratchColumn), ms.QuoteIdentifier(col.ColumnName), QualifiedTable(ms, col),
		ms.QuoteIdentifier(scratchColumn), offset, offset+int64(batchSize)-1, ms.QuoteIdentifier(col.ColumnName))
}

func (ms *MySQL) AddScratchColumnSQL(col SensitiveColumn, scratchColumn string) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s ADD %s BIGINT AUTO_INCREMENT, ADD INDEX (%s)",
			QualifiedTable(ms, col), ms.QuoteIdentifier(scratchColumn), ms.QuoteIdentifier(scratchColumn)),
	}
}

func (ms *MySQL) DropScratchColumnSQL(col SensitiveColumn, scratchColumn string) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", QualifiedTable(ms, col), ms.QuoteIdentifier(scratchColumn)),
	}
}

func (ms *MySQL) NewScratchTableName() string {
	return fmt.Sprintf("scratch_anon_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}

func (ms *MySQL) CreateScratchTableSQL(name string, keyColumns []string) string {
	keyDefs := lo.Map(keyColumns, func(key string, _ int) string {
		return fmt.Sprintf("%s VARCHAR(255) NOT NULL", ms.QuoteIdentifier(key))
	})
	return fmt.Sprintf("CREATE TEMPORARY TABLE %s (%s, %s TEXT NOT NULL, PRIMARY KEY (%s)) ENGINE=MEMORY",
		name, strings.Join(keyDefs, ", "), ms.QuoteIdentifier(scratchValueColumn),
		strings.Join(quoteAll(ms, keyColumns), ", "))
}

func (ms *MySQL) BatchInsertSQL(name string, keyColumns []string, rows []ScratchRow) string {
	values := lo.Map(rows, func(row ScratchRow, _ int) string {
		keyValues := lo.Map(keyColumns, func(key string, _ int) string {
			return fmt.Sprintf("'%s'", ms.EscapeLiteral(row.KeyValues[key]))
		})
		return fmt.Sprintf("(%s, '%s')", strings.Join(keyValues, ", "), ms.EscapeLiteral(row.Replacement))
	})
	return fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES %s",
		name, strings.Join(quoteAll(ms, keyColumns), ", "), ms.QuoteIdentifier(scratchValueColumn),
		strings.Join(values, ", "))
}

func (ms *MySQL) UpdateFromScratchTableSQL(name string, col SensitiveColumn, keyColumns []string) string {
	joins := lo.Map(keyColumns, func(key string, _ int) string {
		return fmt.Sprintf("t.%s = s.%s", ms.QuoteIdentifier(key), ms.QuoteIdentifier(key))
	})
	return fmt.Sprintf("UPDATE %s t INNER JOIN %s s ON %s SET t.%s = s.%s",
		QualifiedTable(ms, col), name, strings.Join(joins, " AND "),
		ms.QuoteIdentifier(col.ColumnName), ms.QuoteIdentifier(scratchValueColumn))
}

func (ms *MySQL) DropScratchTableSQL(name string) string {
	return fmt.Sprintf("DROP TEMPORARY TABLE IF EXISTS %s", name)
}

func (ms *MySQL) QuoteIdentifier(identifier string) string {
	return fmt.Sprintf("`%s`", identifier)
}

func (ms *MySQL) EscapeLiteral(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
	)
	return replacer.Replace(value)
}
