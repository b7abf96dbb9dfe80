package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/adapt/offsite/internal/domain"
)

type PostgreSQLDatabase struct {
	spec       domain.ConnectionSpec
	policy     *domain.SchemaOnlyPolicy
	compressor domain.Compressor
	binary     string
}

func NewPostgreSQL(spec domain.ConnectionSpec, policy *domain.SchemaOnlyPolicy, comp domain.Compressor, binary string) *PostgreSQLDatabase {
	if binary == "" {
		binary = "pg_dump"
	}
	return &PostgreSQLDatabase{spec: spec, policy: policy, compressor: comp, binary: binary}
}

func (p *PostgreSQLDatabase) connectionArgs() []string {
	return []string{
		fmt.Sprintf("--host=%s", p.spec.Host),
		fmt.Sprintf("--port=%d", p.spec.Port),
		fmt.Sprintf("--username=%s", p.spec.User),
		"--no-password",
		"--format=plain",
	}
}

func (p *PostgreSQLDatabase) fullArgs() []string {
	args := p.connectionArgs()
	for _, t := range p.policy.Tables() {
		args = append(args, fmt.Sprintf("--exclude-table-data=%s", t))
	}
	return append(args, p.spec.Name)
}

func (p *PostgreSQLDatabase) schemaOnlyArgs() []string {
	args := append(p.connectionArgs(), domain.EnginePostgres.SchemaOnlyFlag())
	for _, t := range p.policy.Tables() {
		args = append(args, fmt.Sprintf("--table=%s", t))
	}
	return append(args, p.spec.Name)
}

func (p *PostgreSQLDatabase) env() []string {
	return []string{"PGPASSWORD=" + p.spec.Password.Reveal()}
}

func (p *PostgreSQLDatabase) Dump(ctx context.Context, outputPath string) error {
	return runDump(ctx, p.binary, [][]string{p.fullArgs()}, p.env(), p.compressor, outputPath)
}

func (p *PostgreSQLDatabase) DumpSchemaOnly(ctx context.Context, outputPath string) error {
	if p.policy.Empty() {
		return fmt.Errorf("no schema-only tables configured")
	}
	return runDump(ctx, p.binary, [][]string{p.schemaOnlyArgs()}, p.env(), p.compressor, outputPath)
}

func (p *PostgreSQLDatabase) GetName() string {
	return p.spec.Name
}

func (p *PostgreSQLDatabase) GetEngine() domain.Engine {
	return domain.EnginePostgres
}

func (p *PostgreSQLDatabase) connString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.spec.User, p.spec.Password.Reveal()),
		Host:   net.JoinHostPort(p.spec.Host, strconv.Itoa(p.spec.Port)),
		Path:   "/" + p.spec.Name,
	}
	return u.String()
}

func (p *PostgreSQLDatabase) Ping(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, p.connString())
	if err != nil {
		return fmt.Errorf("postgresql ping failed: %w", err)
	}
	defer conn.Close(ctx)

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("postgresql ping failed: %w", err)
	}
	return nil
}
