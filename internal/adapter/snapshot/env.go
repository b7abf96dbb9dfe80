// Package snapshot writes the process environment to a JSON artifact.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// EnvironSource returns KEY=VALUE pairs, like os.Environ.
type EnvironSource func() []string

// EnvSnapshot serializes the environment verbatim. Keys listed in omit are
// left out; by default nothing is.
type EnvSnapshot struct {
	environ EnvironSource
	omit    map[string]struct{}
}

func NewEnvSnapshot(environ EnvironSource, omit ...string) *EnvSnapshot {
	if environ == nil {
		environ = os.Environ
	}
	s := &EnvSnapshot{environ: environ, omit: make(map[string]struct{}, len(omit))}
	for _, k := range omit {
		s.omit[k] = struct{}{}
	}
	return s
}

func (s *EnvSnapshot) Values() map[string]string {
	values := make(map[string]string)
	for _, kv := range s.environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		if _, skip := s.omit[k]; skip {
			continue
		}
		values[k] = v
	}
	return values
}

func (s *EnvSnapshot) Produce(ctx context.Context, outputPath string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close snapshot file: %w", cerr)
		}
	}()

	if err := json.NewEncoder(f).Encode(s.Values()); err != nil {
		return fmt.Errorf("failed to encode environment: %w", err)
	}
	return nil
}
