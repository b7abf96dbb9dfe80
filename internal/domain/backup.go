package domain

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultRunName = "backup"

	// RunTimestampLayout gives run identifiers minute resolution.
	RunTimestampLayout = "2006-01-02-15-04"

	EncryptedSuffix = ".encrypted"
)

type ArtifactKind string

const (
	ArtifactDatabaseFull       ArtifactKind = "db-full"
	ArtifactDatabaseSchemaOnly ArtifactKind = "db-schema-only"
	ArtifactFilesArchive       ArtifactKind = "files-archive"
	ArtifactConfigSnapshot     ArtifactKind = "config-snapshot"
)

// Run identifies one backup execution and owns its scratch directory.
type Run struct {
	Name      string
	Timestamp time.Time
	WorkDir   string
}

// NewRun derives the run identity for name at t. The working directory is
// <tempDir>/<ID> but is not created here.
func NewRun(name string, t time.Time, tempDir string) Run {
	if name == "" {
		name = DefaultRunName
	}
	r := Run{Name: name, Timestamp: t.Truncate(time.Minute)}
	r.WorkDir = filepath.Join(tempDir, r.ID())
	return r
}

func (r Run) ID() string {
	return r.Name + "-" + r.Timestamp.Format(RunTimestampLayout)
}

// ArtifactPath returns <WorkDir>/<ID>-<suffix>.
func (r Run) ArtifactPath(suffix string) string {
	return filepath.Join(r.WorkDir, r.ID()+"-"+suffix)
}

type Artifact struct {
	Kind ArtifactKind
	Path string
}

type EncryptedArtifact struct {
	Source Artifact
	Path   string
}

func (e EncryptedArtifact) BaseName() string {
	return filepath.Base(e.Path)
}

// EncryptedPath returns the sibling path that holds the ciphertext of path.
func EncryptedPath(path string) string {
	return path + EncryptedSuffix
}

// PlaintextName strips the encryption suffix from an object or file name.
// The second return is false when name does not carry the suffix.
func PlaintextName(name string) (string, bool) {
	if !strings.HasSuffix(name, EncryptedSuffix) || len(name) == len(EncryptedSuffix) {
		return name, false
	}
	return strings.TrimSuffix(name, EncryptedSuffix), true
}

// RemoteKey addresses one uploaded object. Path always starts with the
// run ID so a prefix listing recovers exactly one run.
type RemoteKey struct {
	Container string
	Path      string
}

func NewRemoteKey(container, runID, baseName string) RemoteKey {
	return RemoteKey{Container: container, Path: runID + "/" + baseName}
}

func (k RemoteKey) String() string {
	return fmt.Sprintf("%s/%s", k.Container, k.Path)
}

// Producer materializes one artifact at outputPath.
type Producer interface {
	Produce(ctx context.Context, outputPath string) error
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, outputPath string) error

func (f ProducerFunc) Produce(ctx context.Context, outputPath string) error {
	return f(ctx, outputPath)
}
