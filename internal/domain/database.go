package domain

import (
	"context"
	"fmt"
	"strings"
)

// Engine is the tagged set of supported database engines. Adding an engine
// means a new constant plus an arm in each switch below and in the dumper
// selection of the database adapter.
type Engine string

const (
	EngineMySQL    Engine = "mysql"
	EnginePostgres Engine = "postgres"
)

// ParseEngine accepts the engine names used by hosting platforms and DSN
// schemes.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql", "mariadb":
		return EngineMySQL, nil
	case "postgres", "postgresql", "pgsql":
		return EnginePostgres, nil
	default:
		return "", fmt.Errorf("unsupported database engine %q", s)
	}
}

func (e Engine) DefaultPort() int {
	switch e {
	case EngineMySQL:
		return 3306
	case EnginePostgres:
		return 5432
	default:
		return 0
	}
}

// SchemaOnlyFlag is the dump option that omits row data.
func (e Engine) SchemaOnlyFlag() string {
	switch e {
	case EngineMySQL:
		return "--no-data"
	case EnginePostgres:
		return "--schema-only"
	default:
		return ""
	}
}

func (e Engine) Valid() bool {
	switch e {
	case EngineMySQL, EnginePostgres:
		return true
	default:
		return false
	}
}

// ConnectionSpec is immutable once an orchestrator has been built from it.
type ConnectionSpec struct {
	Engine   Engine
	Host     string
	Port     int
	Name     string
	User     string
	Password Secret
}

// WithDefaults fills host and the engine default port.
func (c ConnectionSpec) WithDefaults() ConnectionSpec {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = c.Engine.DefaultPort()
	}
	return c
}

func (c ConnectionSpec) Validate() error {
	switch {
	case !c.Engine.Valid():
		return fmt.Errorf("database engine %q is not supported", c.Engine)
	case c.Name == "":
		return fmt.Errorf("database name is required")
	case c.User == "":
		return fmt.Errorf("database user is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("database port %d is out of range", c.Port)
	}
	return nil
}

// DrupalCacheTables are cache tables whose rows are never worth restoring.
var DrupalCacheTables = []string{
	"cache_config",
	"cache_data",
	"cache_default",
	"cache_discovery",
	"cache_dynamic_page_cache",
	"cache_entity",
	"cache_menu",
	"cache_page",
	"cache_render",
}

// SchemaOnlyPolicy lists tables dumped without row data. A nil policy means
// no schema-only artifact is produced at all.
type SchemaOnlyPolicy struct {
	tables []string
}

func NewSchemaOnlyPolicy(tables ...string) *SchemaOnlyPolicy {
	p := &SchemaOnlyPolicy{}
	seen := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		p.tables = append(p.tables, t)
	}
	return p
}

// WithDrupalDefaults unions the Drupal cache baseline with extra.
func WithDrupalDefaults(extra ...string) *SchemaOnlyPolicy {
	tables := append(append([]string{}, DrupalCacheTables...), extra...)
	return NewSchemaOnlyPolicy(tables...)
}

func (p *SchemaOnlyPolicy) Tables() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.tables...)
}

func (p *SchemaOnlyPolicy) Empty() bool {
	return p == nil || len(p.tables) == 0
}

// Database is a dumpable database.
type Database interface {
	Dump(ctx context.Context, outputPath string) error
	DumpSchemaOnly(ctx context.Context, outputPath string) error
	Ping(ctx context.Context) error
	GetName() string
	GetEngine() Engine
}
