package anondb

// Default ports per engine kind.
const (
	SQLSERVER_DEFAULT_PORT = 1433
	ORACLE_DEFAULT_PORT    = 1521
	MYSQL_DEFAULT_PORT     = 3306
)

// Source carries everything needed to reach one target database. The engine
// dialect turns it into a driver connection string.
type Source struct {
	DBType                 string `json:"db_type"`
	Host                   string `json:"host"`
	Port                   int    `json:"port"`
	User                   string `json:"user"`
	Password               string `json:"password"`
	DBName                 string `json:"db_name"`
	Schema                 string `json:"schema"`
	DBSid                  string `json:"db_sid"`
	TNSAlias               string `json:"tns_alias"`
	ConnectionTimeout      int    `json:"connection_timeout"`
	TrustServerCertificate bool   `json:"trust_server_certificate"`
	Uri                    string `json:"-"`
}

func (s *Source) Clone() *Source {
	newS := *s
	return &newS
}

// ApplyPortDefault fills in the engine's well-known port when none is set.
func (s *Source) ApplyPortDefault() {
	if s.Port > 0 {
		return
	}
	switch s.DBType {
	case MYSQL:
		s.Port = MYSQL_DEFAULT_PORT
	case ORACLE:
		s.Port = ORACLE_DEFAULT_PORT
	case SQLSERVER:
		s.Port = SQLSERVER_DEFAULT_PORT
	}
}
