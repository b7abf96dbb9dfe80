package database

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/adapt/offsite/internal/domain"
)

// Options overrides the dump binaries, mainly for tests and hosts where the
// tools are not on PATH.
type Options struct {
	MySQLDumpPath string
	PgDumpPath    string
}

// New selects the dumper for spec's engine.
func New(spec domain.ConnectionSpec, policy *domain.SchemaOnlyPolicy, comp domain.Compressor, opts Options) (domain.Database, error) {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	switch spec.Engine {
	case domain.EngineMySQL:
		return NewMySQL(spec, policy, comp, opts.MySQLDumpPath), nil
	case domain.EnginePostgres:
		return NewPostgreSQL(spec, policy, comp, opts.PgDumpPath), nil
	default:
		return nil, fmt.Errorf("unsupported database engine %q", spec.Engine)
	}
}

// stderrLimit caps how much tool output ends up in an error message.
const stderrLimit = 4096

// runDump runs binary once per argument list and streams each stdout, in
// order, through one comp stream into outputPath. The partially written file
// is left in place on failure for inspection.
func runDump(ctx context.Context, binary string, passes [][]string, env []string, comp domain.Compressor, outputPath string) (err error) {
	outputFile, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := outputFile.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}()

	writer, err := comp.NewWriter(outputFile)
	if err != nil {
		return err
	}

	var runErr error
	for _, args := range passes {
		if runErr = runPass(ctx, binary, args, env, writer); runErr != nil {
			break
		}
	}
	closeErr := writer.Close()
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("failed to finish compression: %w", closeErr)
	}
	return nil
}

func runPass(ctx context.Context, binary string, args, env []string, stdout io.Writer) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = stdout
	cmd.Stderr = &limitedBuffer{buf: &stderr, limit: stderrLimit}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w, output: %s", binary, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

type limitedBuffer struct {
	buf   *bytes.Buffer
	limit int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.limit - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}
