package anondb

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/godror/godror"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Oracle struct{}

func newOracle() *Oracle {
	return &Oracle{}
}

func (ora *Oracle) Kind() string {
	return ORACLE
}

func (ora *Oracle) ConnectionString(source *Source) string {
	if source.Uri != "" {
		return source.Uri
	}
	source.ApplyPortDefault()
	connectString := getOracleConnectString(source.Host, source.Port, source.DBName, source.DBSid, source.TNSAlias)
	source.Uri = fmt.Sprintf(`user="%s" password="%s" connectString="%s"`,
		source.User, source.Password, connectString)
	return source.Uri
}

func getOracleConnectString(host string, port int, dbname string, dbsid string, tnsalias string) string {
	switch {
	case dbsid != "":
		return fmt.Sprintf(`(DESCRIPTION=(ADDRESS=(PROTOCOL=TCP)(HOST=%s)(PORT=%d))(CONNECT_DATA=(SID=%s)))`,
			host, port, dbsid)
	case tnsalias != "":
		return tnsalias
	default:
		return fmt.Sprintf(`(DESCRIPTION=(ADDRESS=(PROTOCOL=TCP)(HOST=%s)(PORT=%d))(CONNECT_DATA=(SERVICE_NAME=%s)))`,
			host, port, dbname)
	}
}

func (ora *Oracle) Connect(source *Source) (*sql.DB, error) {
	db, err := sql.Open("godror", ora.ConnectionString(source))
	if err != nil {
		return nil, fmt.Errorf("open oracle connection to %s: %w", source.Host, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping oracle database %q on %s: %w", source.DBName, source.Host, err)
	}
	return db, nil
}

func (ora *Oracle) SensitiveColumnsQuery() string {
	return `SELECT
		atc.OWNER,
		atc.TABLE_NAME,
		atc.COLUMN_NAME,
		atc.DATA_TYPE,
		CASE
			WHEN UPPER(atc.COLUMN_NAME) LIKE '%EMAIL%' THEN 'email'
			WHEN UPPER(atc.COLUMN_NAME) LIKE '%CPF%' THEN 'cpf'
			WHEN UPPER(atc.COLUMN_NAME) LIKE '%PHONE%' OR UPPER(atc.COLUMN_NAME) LIKE '%TELEFONE%' THEN 'phone'
			ELSE 'unknown'
		END AS category
	FROM ALL_TAB_COLUMNS atc
	INNER JOIN ALL_TABLES at ON atc.OWNER = at.OWNER AND atc.TABLE_NAME = at.TABLE_NAME
	WHERE atc.OWNER NOT IN ('SYS', 'SYSTEM', 'OUTLN', 'DBSNMP', 'WMSYS', 'XDB', 'CTXSYS', 'MDSYS', 'OLAPSYS', 'ORDSYS')
		AND (
			UPPER(atc.COLUMN_NAME) LIKE '%EMAIL%'
			OR UPPER(atc.COLUMN_NAME) LIKE '%CPF%'
			OR UPPER(atc.COLUMN_NAME) LIKE '%PHONE%'
			OR UPPER(atc.COLUMN_NAME) LIKE '%TELEFONE%'
		)
	ORDER BY atc.TABLE_NAME, atc.COLUMN_NAME`
}

func (ora *Oracle) PrimaryKeysQuery(schema, table string) string {
	return fmt.Sprintf(`SELECT acc.COLUMN_NAME
	FROM ALL_CONSTRAINTS ac
	INNER JOIN ALL_CONS_COLUMNS acc
		ON ac.OWNER = acc.OWNER
		AND ac.CONSTRAINT_NAME = acc.CONSTRAINT_NAME
	WHERE ac.CONSTRAINT_TYPE = 'P'
		AND ac.OWNER = '%s'
		AND ac.TABLE_NAME = '%s'
	ORDER BY acc.POSITION`, ora.EscapeLiteral(schema), ora.EscapeLiteral(table))
}

func (ora *Oracle) RowCountQuery(col SensitiveColumn) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", QualifiedTable(ora, col))
}

// Oracle has no LIMIT/OFFSET; pagination goes through a ROW_NUMBER() window
// subquery ordered by the key columns.
func (ora *Oracle) PagedSelectQuery(col SensitiveColumn, keyColumns []string, offset int64, batchSize int) string {
	keyList := strings.Join(quoteAll(ora, keyColumns), ", ")
	column := ora.QuoteIdentifier(col.ColumnName)
	return fmt.Sprintf("SELECT %s, %s FROM (SELECT %s, %s, ROW_NUMBER() OVER (ORDER BY %s) AS rn FROM %s) WHERE rn > %d AND rn <= %d",
		keyList, column, keyList, column, keyList, QualifiedTable(ora, col), offset, offset+int64(batchSize))
}

func (ora *Oracle) ScratchSelectQuery(col SensitiveColumn, scratchColumn string, offset int64, batchSize int) string {
	return fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s BETWEEN %d AND %d AND %s IS NOT NULL",
		ora.QuoteIdentifier(scratchColumn), ora.QuoteIdentifier(col.ColumnName), QualifiedTable(ora, col),
		ora.QuoteIdentifier(scratchColumn), offset, offset+int64(batchSize)-1, ora.QuoteIdentifier(col.ColumnName))
}

// The ordering column is backed by a sequence; both statements must run, and
// DropScratchColumnSQL mirrors them in reverse.
func (ora *Oracle) AddScratchColumnSQL(col SensitiveColumn, scratchColumn string) []string {
	return []string{
		fmt.Sprintf("CREATE SEQUENCE %s START WITH 1", scratchSequenceName(scratchColumn)),
		fmt.Sprintf("ALTER TABLE %s ADD %s NUMBER DEFAULT %s.NEXTVAL",
			QualifiedTable(ora, col), ora.QuoteIdentifier(scratchColumn), scratchSequenceName(scratchColumn)),
	}
}

func (ora *Oracle) DropScratchColumnSQL(col SensitiveColumn, scratchColumn string) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", QualifiedTable(ora, col), ora.QuoteIdentifier(scratchColumn)),
		fmt.Sprintf("DROP SEQUENCE %s", scratchSequenceName(scratchColumn)),
	}
}

func scratchSequenceName(scratchColumn string) string {
	return fmt.Sprintf("SEQ_%s", scratchColumn)
}

// Oracle identifier names are capped at 30 bytes on older releases, so the
// generated name keeps only part of the uuid.
func (ora *Oracle) NewScratchTableName() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:18]
	return fmt.Sprintf("GTT_ANON_%s", strings.ToUpper(id))
}

func (ora *Oracle) CreateScratchTableSQL(name string, keyColumns []string) string {
	keyDefs := lo.Map(keyColumns, func(key string, _ int) string {
		return fmt.Sprintf("%s VARCHAR2(255) NOT NULL", ora.QuoteIdentifier(key))
	})
	return fmt.Sprintf("CREATE GLOBAL TEMPORARY TABLE %s (%s, %s CLOB NOT NULL, CONSTRAINT %s PRIMARY KEY (%s)) ON COMMIT PRESERVE ROWS",
		name, strings.Join(keyDefs, ", "), ora.QuoteIdentifier(scratchValueColumn),
		strings.Replace(name, "GTT_ANON_", "PK_ANON_", 1),
		strings.Join(quoteAll(ora, keyColumns), ", "))
}

func (ora *Oracle) BatchInsertSQL(name string, keyColumns []string, rows []ScratchRow) string {
	var sb strings.Builder
	sb.WriteString("INSERT ALL")
	for _, row := range rows {
		keyValues := lo.Map(keyColumns, func(key string, _ int) string {
			return fmt.Sprintf("'%s'", ora.EscapeLiteral(row.KeyValues[key]))
		})
		sb.WriteString(fmt.Sprintf(" INTO %s (%s, %s) VALUES (%s, '%s')",
			name, strings.Join(quoteAll(ora, keyColumns), ", "), ora.QuoteIdentifier(scratchValueColumn),
			strings.Join(keyValues, ", "), ora.EscapeLiteral(row.Replacement)))
	}
	sb.WriteString(" SELECT 1 FROM DUAL")
	return sb.String()
}

func (ora *Oracle) UpdateFromScratchTableSQL(name string, col SensitiveColumn, keyColumns []string) string {
	joins := lo.Map(keyColumns, func(key string, _ int) string {
		return fmt.Sprintf("t.%s = s.%s", ora.QuoteIdentifier(key), ora.QuoteIdentifier(key))
	})
	return fmt.Sprintf("MERGE INTO %s t USING %s s ON (%s) WHEN MATCHED THEN UPDATE SET t.%s = s.%s",
		QualifiedTable(ora, col), name, strings.Join(joins, " AND "),
		ora.QuoteIdentifier(col.ColumnName), ora.QuoteIdentifier(scratchValueColumn))
}

// Global temporary tables are schema objects; dropping one mid-transaction
// fails, so cleanup purges the staged rows instead.
func (ora *Oracle) DropScratchTableSQL(name string) string {
	return fmt.Sprintf("DELETE FROM %s", name)
}

func (ora *Oracle) QuoteIdentifier(identifier string) string {
	return fmt.Sprintf(`"%s"`, identifier)
}

func (ora *Oracle) EscapeLiteral(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		"'", "''",
		"\n", `\n`,
		"\r", `\r`,
	)
	return replacer.Replace(value)
}
