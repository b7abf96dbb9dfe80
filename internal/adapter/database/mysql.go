package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/adapt/offsite/internal/domain"
)

type MySQLDatabase struct {
	spec       domain.ConnectionSpec
	policy     *domain.SchemaOnlyPolicy
	compressor domain.Compressor
	binary     string
}

func NewMySQL(spec domain.ConnectionSpec, policy *domain.SchemaOnlyPolicy, comp domain.Compressor, binary string) *MySQLDatabase {
	if binary == "" {
		binary = "mysqldump"
	}
	return &MySQLDatabase{spec: spec, policy: policy, compressor: comp, binary: binary}
}

func (m *MySQLDatabase) connectionArgs() []string {
	return []string{
		fmt.Sprintf("--host=%s", m.spec.Host),
		fmt.Sprintf("--port=%d", m.spec.Port),
		fmt.Sprintf("--user=%s", m.spec.User),
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
	}
}

// fullPasses dumps everything except the schema-only tables, then appends
// those tables' structure without rows. Both passes share one output stream.
func (m *MySQLDatabase) fullPasses() [][]string {
	args := append(m.connectionArgs(), "--routines", "--triggers", "--events")
	for _, t := range m.policy.Tables() {
		args = append(args, fmt.Sprintf("--ignore-table=%s.%s", m.spec.Name, t))
	}
	passes := [][]string{append(args, m.spec.Name)}
	if !m.policy.Empty() {
		passes = append(passes, m.schemaOnlyArgs())
	}
	return passes
}

func (m *MySQLDatabase) schemaOnlyArgs() []string {
	args := append(m.connectionArgs(), domain.EngineMySQL.SchemaOnlyFlag(), m.spec.Name)
	return append(args, m.policy.Tables()...)
}

// env passes the password out of band so it never shows up in ps output.
func (m *MySQLDatabase) env() []string {
	return []string{"MYSQL_PWD=" + m.spec.Password.Reveal()}
}

func (m *MySQLDatabase) Dump(ctx context.Context, outputPath string) error {
	return runDump(ctx, m.binary, m.fullPasses(), m.env(), m.compressor, outputPath)
}

func (m *MySQLDatabase) DumpSchemaOnly(ctx context.Context, outputPath string) error {
	if m.policy.Empty() {
		return fmt.Errorf("no schema-only tables configured")
	}
	return runDump(ctx, m.binary, [][]string{m.schemaOnlyArgs()}, m.env(), m.compressor, outputPath)
}

func (m *MySQLDatabase) GetName() string {
	return m.spec.Name
}

func (m *MySQLDatabase) GetEngine() domain.Engine {
	return domain.EngineMySQL
}

func (m *MySQLDatabase) dsn() string {
	cfg := mysql.NewConfig()
	cfg.User = m.spec.User
	cfg.Passwd = m.spec.Password.Reveal()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(m.spec.Host, strconv.Itoa(m.spec.Port))
	cfg.DBName = m.spec.Name
	return cfg.FormatDSN()
}

func (m *MySQLDatabase) Ping(ctx context.Context) error {
	db, err := sql.Open("mysql", m.dsn())
	if err != nil {
		return fmt.Errorf("mysql ping failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql ping failed: %w", err)
	}
	return nil
}
