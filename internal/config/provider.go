package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/adapt/offsite/internal/domain"
	"github.com/spf13/viper"
)

const (
	PlatformRelationshipsVar = "PLATFORM_RELATIONSHIPS"

	EnvContainer = "OFFSITE_BACKUP_CONTAINER"
	EnvEndpoint  = "OFFSITE_BACKUP_ENDPOINT"
	EnvSAS       = "OFFSITE_BACKUP_SAS"
	EnvSalt      = "OFFSITE_BACKUP_SALT"
	EnvSecret    = "OFFSITE_BACKUP_SECRET"
)

// Credentials is everything a run needs that must not live in the settings
// file.
type Credentials struct {
	Database  domain.ConnectionSpec
	Container string
	Endpoint  string
	SAS       domain.Secret
	Salt      string
	Secret    domain.Secret
}

// AzureConnectionString joins the endpoint and SAS. The result contains the
// SAS and must not be logged.
func (c *Credentials) AzureConnectionString() string {
	return "BlobEndpoint=" + c.Endpoint + ";SharedAccessSignature=" + c.SAS.Reveal()
}

// Provider supplies credentials from one source.
type Provider interface {
	Name() string
	Load() (*Credentials, error)
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

func errNotConfigured() error {
	return domain.NewError(domain.KindConfiguration, "backup not configured", nil)
}

// PlatformProvider reads the database relationship from a hosting platform's
// base64 JSON relationships variable and the backup keys from the
// environment.
type PlatformProvider struct {
	lookup       LookupFunc
	relationship string
}

func NewPlatformProvider(lookup LookupFunc) *PlatformProvider {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &PlatformProvider{lookup: lookup, relationship: "database"}
}

func (p *PlatformProvider) Name() string { return "platform" }

// Detected reports whether the relationships variable is present.
func (p *PlatformProvider) Detected() bool {
	v, ok := p.lookup(PlatformRelationshipsVar)
	return ok && v != ""
}

type relationship struct {
	Scheme   string `json:"scheme"`
	Path     string `json:"path"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

func (p *PlatformProvider) Load() (*Credentials, error) {
	raw, _ := p.lookup(PlatformRelationshipsVar)
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "platform relationships are not valid base64", err)
	}

	var rels map[string][]relationship
	if err := json.Unmarshal(decoded, &rels); err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "platform relationships are not valid JSON", err)
	}
	entries := rels[p.relationship]
	if len(entries) == 0 {
		return nil, domain.NewError(domain.KindConfiguration,
			fmt.Sprintf("platform relationship %q not found", p.relationship), nil)
	}
	rel := entries[0]

	engine, err := domain.ParseEngine(rel.Scheme)
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "platform database relationship", err)
	}

	get := func(key string) string {
		v, _ := p.lookup(key)
		return v
	}
	return buildCredentials(domain.ConnectionSpec{
		Engine:   engine,
		Host:     rel.Host,
		Port:     rel.Port,
		Name:     rel.Path,
		User:     rel.Username,
		Password: domain.NewSecret(rel.Password),
	}, get)
}

// LocalProvider reads a dotenv file. Process environment variables win over
// values in the file.
type LocalProvider struct {
	path string
}

func NewLocalProvider(dotenvPath string) *LocalProvider {
	return &LocalProvider{path: dotenvPath}
}

func (l *LocalProvider) Name() string { return "local" }

func (l *LocalProvider) Load() (*Credentials, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetDefault("scheme", string(domain.EngineMySQL))

	if l.path != "" {
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewError(domain.KindConfiguration, "failed to read dotenv file", err)
		}
	}

	engine, err := domain.ParseEngine(v.GetString("scheme"))
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "local database scheme", err)
	}

	return buildCredentials(domain.ConnectionSpec{
		Engine:   engine,
		Host:     v.GetString("host"),
		Port:     v.GetInt("port"),
		Name:     v.GetString("database"),
		User:     v.GetString("username"),
		Password: domain.NewSecret(v.GetString("password")),
	}, func(key string) string { return v.GetString(strings.ToLower(key)) })
}

func buildCredentials(db domain.ConnectionSpec, get func(string) string) (*Credentials, error) {
	secret := get(EnvSecret)
	if secret == "" {
		return nil, errNotConfigured()
	}
	return &Credentials{
		Database:  db,
		Container: get(EnvContainer),
		Endpoint:  get(EnvEndpoint),
		SAS:       domain.NewSecret(get(EnvSAS)),
		Salt:      get(EnvSalt),
		Secret:    domain.NewSecret(secret),
	}, nil
}

// DetectProvider prefers the hosting platform when its relationships variable
// is set and falls back to the local dotenv file.
func DetectProvider(lookup LookupFunc, dotenvPath string) Provider {
	platform := NewPlatformProvider(lookup)
	if platform.Detected() {
		return platform
	}
	return NewLocalProvider(dotenvPath)
}
