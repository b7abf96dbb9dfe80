package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adapt/offsite/internal/crypto"
	"github.com/adapt/offsite/internal/domain"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// DumpSuffix is appended to the database name for both dump artifacts.
const DumpSuffix = ".sql.gz"

// BackupConfig is built once, validated, and never changed by a run.
type BackupConfig struct {
	Name      string
	TempDir   string
	Container string
	Secret    domain.Secret
	Salt      string
	// SchemaOnly enables the schema-only dump step.
	SchemaOnly bool
	// KeepLocal retains the run directory after a successful upload.
	KeepLocal bool
}

func (c BackupConfig) Validate() error {
	if c.Secret.Empty() {
		return domain.NewError(domain.KindConfiguration, "backup not configured", nil)
	}
	if c.Container == "" {
		return domain.NewError(domain.KindConfiguration, "container is required", nil)
	}
	if c.TempDir == "" {
		return domain.NewError(domain.KindConfiguration, "temp dir is required", nil)
	}
	if _, err := crypto.DecodeSalt(c.Salt); err != nil {
		return err
	}
	return nil
}

// Sources are the artifact producers of a run.
type Sources struct {
	Database domain.Database
	Files    domain.Producer
	Snapshot domain.Producer
}

type step struct {
	state    domain.RunState
	kind     domain.ArtifactKind
	suffix   string
	producer domain.Producer
}

type Backup struct {
	cfg       BackupConfig
	sources   Sources
	encryptor *Encryptor
	uploader  *Uploader
	notifier  domain.Notifier
	logger    Logger
	now       func() time.Time
}

type BackupOption func(*Backup)

func WithNotifier(n domain.Notifier) BackupOption {
	return func(b *Backup) { b.notifier = n }
}

func WithClock(now func() time.Time) BackupOption {
	return func(b *Backup) { b.now = now }
}

func NewBackup(
	cfg BackupConfig,
	sources Sources,
	store domain.ObjectStore,
	logger Logger,
	opts ...BackupOption,
) (*Backup, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sources.Database == nil || sources.Files == nil || sources.Snapshot == nil {
		return nil, domain.NewError(domain.KindConfiguration, "database, files and snapshot sources are required", nil)
	}

	b := &Backup{
		cfg:       cfg,
		sources:   sources,
		encryptor: NewEncryptor(logger),
		uploader:  NewUploader(store, logger),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (uc *Backup) steps() []step {
	db := uc.sources.Database
	steps := []step{{
		state:  domain.StateDumping,
		kind:   domain.ArtifactDatabaseFull,
		suffix: db.GetName() + DumpSuffix,
		producer: domain.ProducerFunc(func(ctx context.Context, out string) error {
			if err := db.Ping(ctx); err != nil {
				return fmt.Errorf("database ping: %w", err)
			}
			return db.Dump(ctx, out)
		}),
	}}
	if uc.cfg.SchemaOnly {
		steps = append(steps, step{
			state:    domain.StateSchemaDumping,
			kind:     domain.ArtifactDatabaseSchemaOnly,
			suffix:   db.GetName() + "-schema-only" + DumpSuffix,
			producer: domain.ProducerFunc(db.DumpSchemaOnly),
		})
	}
	return append(steps,
		step{state: domain.StateArchiving, kind: domain.ArtifactFilesArchive, suffix: "files.zip", producer: uc.sources.Files},
		step{state: domain.StateSnapshotting, kind: domain.ArtifactConfigSnapshot, suffix: "config.json", producer: uc.sources.Snapshot},
	)
}

// Execute performs one run. The returned report is never nil; err is the
// first failure, typed as a *domain.Error.
func (uc *Backup) Execute(ctx context.Context) (report *domain.Report, err error) {
	started := uc.now()
	run := domain.NewRun(uc.cfg.Name, started, uc.cfg.TempDir)
	report = &domain.Report{RunID: run.ID(), State: domain.StateInit, StartedAt: started}

	defer func() {
		report.FinishedAt = uc.now()
		if err != nil {
			report.FailedStep = report.State
			report.State = domain.StateFailed
			report.Err = err
			uc.logger.Errorf("[%s] Backup failed at %s: %v", run.ID(), report.FailedStep, err)
		} else {
			report.State = domain.StateDone
			uc.logger.Infof("[%s] Backup completed in %s, %d object(s) uploaded",
				run.ID(), report.Duration().Round(time.Second), len(report.Uploads))
		}
		uc.notify(report)
	}()

	uc.logger.Infof("[%s] Starting backup...", run.ID())

	if err := os.MkdirAll(uc.cfg.TempDir, 0o700); err != nil {
		return report, domain.NewError(domain.KindArtifactProduction, "failed to create temp dir", err).
			WithRun(run.ID(), string(domain.StateInit))
	}
	// Mkdir, not MkdirAll: a run directory is never shared.
	if err := os.Mkdir(run.WorkDir, 0o700); err != nil {
		return report, domain.NewError(domain.KindArtifactProduction, "failed to create run directory", err).
			WithRun(run.ID(), string(domain.StateInit))
	}

	for _, s := range uc.steps() {
		report.State = s.state
		artifact, err := uc.produce(ctx, run, s)
		if err != nil {
			return report, err
		}
		report.Artifacts = append(report.Artifacts, artifact)
	}

	report.State = domain.StateEncrypting
	key, err := crypto.DeriveKeyFromConfig(uc.cfg.Secret, uc.cfg.Salt)
	if err != nil {
		return report, withRunContext(err, run.ID(), domain.StateEncrypting)
	}
	defer key.Wipe()

	encrypted, err := uc.encryptor.Encrypt(ctx, report.Artifacts, key)
	if err != nil {
		return report, withRunContext(err, run.ID(), domain.StateEncrypting)
	}
	report.Encrypted = encrypted

	report.State = domain.StateUploading
	report.Uploads = uc.uploader.Upload(ctx, uc.cfg.Container, run.ID(), encrypted)
	for _, u := range report.Uploads {
		if u.Err != nil {
			return report, domain.NewError(domain.KindUpload, "upload failed", u.Err).
				WithRun(run.ID(), string(domain.StateUploading)).
				WithArtifact(u.Artifact.Source.Kind).
				WithRemoteKey(u.Key.Path)
		}
	}

	if !uc.cfg.KeepLocal {
		if err := os.RemoveAll(run.WorkDir); err != nil {
			uc.logger.Warnf("[%s] Failed to remove run directory: %v", run.ID(), err)
		}
	}
	return report, nil
}

func (uc *Backup) produce(ctx context.Context, run domain.Run, s step) (domain.Artifact, error) {
	artifact := domain.Artifact{Kind: s.kind, Path: run.ArtifactPath(s.suffix)}

	if err := ctx.Err(); err != nil {
		return artifact, domain.NewError(domain.KindArtifactProduction, "cancelled", err).
			WithRun(run.ID(), string(s.state)).WithArtifact(s.kind)
	}

	uc.logger.Infof("[%s] Producing %s: %s", run.ID(), s.kind, filepath.Base(artifact.Path))
	if err := s.producer.Produce(ctx, artifact.Path); err != nil {
		return artifact, domain.NewError(domain.KindArtifactProduction, "failed to produce artifact", err).
			WithRun(run.ID(), string(s.state)).WithArtifact(s.kind)
	}

	if info, err := os.Stat(artifact.Path); err == nil {
		uc.logger.Infof("[%s] Produced %s, size: %.2f MB", run.ID(), s.kind, float64(info.Size())/(1024*1024))
	}
	return artifact, nil
}

func (uc *Backup) notify(report *domain.Report) {
	if uc.notifier == nil {
		return
	}
	// A cancelled run still gets its notification.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := uc.notifier.Notify(ctx, report); err != nil {
		uc.logger.Warnf("[%s] Notification failed: %v", report.RunID, err)
	}
}

// withRunContext fills run and step on a *domain.Error without changing
// its kind.
func withRunContext(err error, runID string, state domain.RunState) error {
	var de *domain.Error
	if errors.As(err, &de) {
		if de.RunID == "" {
			de.WithRun(runID, string(state))
		}
		return err
	}
	return domain.NewError(domain.KindEncryption, "", err).WithRun(runID, string(state))
}
