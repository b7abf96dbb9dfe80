package app

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/adapt/offsite/internal/adapter/archive"
	"github.com/adapt/offsite/internal/adapter/compressor"
	"github.com/adapt/offsite/internal/adapter/database"
	"github.com/adapt/offsite/internal/adapter/notifier"
	"github.com/adapt/offsite/internal/adapter/snapshot"
	"github.com/adapt/offsite/internal/config"
	"github.com/adapt/offsite/internal/domain"
	"github.com/adapt/offsite/internal/infrastructure/logger"
	"github.com/adapt/offsite/internal/infrastructure/scheduler"
	"github.com/adapt/offsite/internal/usecase"
)

// cleanupSchedule prunes old scratch run directories daily at 3 AM.
const cleanupSchedule = "0 0 3 * * *"

type App struct {
	config   *config.Config
	logger   *logger.Logger
	provider config.Provider

	// newNotifier is called at most once, on the first run that needs it.
	newNotifier  func(token string, chatID int64, appName string) (domain.Notifier, error)
	notifierOnce sync.Once
	notifier     domain.Notifier
}

func newTelegramNotifier(token string, chatID int64, appName string) (domain.Notifier, error) {
	return notifier.NewTelegram(token, chatID, appName)
}

func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	provider := config.DetectProvider(os.LookupEnv, cfg.Dotenv)
	log.Infof("Starting %s (credentials: %s, storage: %s)", cfg.App.Name, provider.Name(), cfg.Storage.Type)

	return &App{
		config:      cfg,
		logger:      log,
		provider:    provider,
		newNotifier: newTelegramNotifier,
	}, nil
}

func (a *App) Logger() *logger.Logger {
	return a.logger
}

// runNotifier returns the shared run notifier, or nil when notifications are
// off or the notifier could not be created.
func (a *App) runNotifier() domain.Notifier {
	a.notifierOnce.Do(func() {
		tg := a.config.Notify.Telegram
		if !tg.Enabled {
			return
		}
		n, err := a.newNotifier(tg.BotToken, tg.ChatID, a.config.App.Name)
		if err != nil {
			a.logger.Warnf("Telegram notifications disabled: %v", err)
			return
		}
		a.notifier = n
	})
	return a.notifier
}

func (a *App) schemaOnlyPolicy() *domain.SchemaOnlyPolicy {
	so := a.config.Backup.SchemaOnly
	if so.DrupalDefaults {
		return domain.WithDrupalDefaults(so.Tables...)
	}
	if len(so.Tables) == 0 {
		return nil
	}
	return domain.NewSchemaOnlyPolicy(so.Tables...)
}

func (a *App) newBackup(ctx context.Context) (*usecase.Backup, error) {
	creds, err := a.provider.Load()
	if err != nil {
		return nil, err
	}

	store, err := newObjectStore(ctx, a.config, creds)
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "failed to initialize storage", err)
	}

	policy := a.schemaOnlyPolicy()
	db, err := database.New(creds.Database, policy, compressor.NewGzip(), database.Options{
		MySQLDumpPath: a.config.Backup.MySQLDumpPath,
		PgDumpPath:    a.config.Backup.PgDumpPath,
	})
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "invalid database configuration", err)
	}

	folders := domain.FolderSpec{Folders: a.config.Backup.Folders, Exclude: a.config.Backup.Exclude}
	if err := folders.Validate(); err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "invalid folders", err)
	}

	opts := []usecase.BackupOption{}
	if n := a.runNotifier(); n != nil {
		opts = append(opts, usecase.WithNotifier(n))
	}

	return usecase.NewBackup(
		usecase.BackupConfig{
			Name:       a.config.Backup.Name,
			TempDir:    a.config.Backup.TempDir,
			Container:  creds.Container,
			Secret:     creds.Secret,
			Salt:       creds.Salt,
			SchemaOnly: !policy.Empty(),
			KeepLocal:  a.config.Backup.KeepLocal,
		},
		usecase.Sources{
			Database: db,
			Files:    archive.NewZip(folders),
			Snapshot: snapshot.NewEnvSnapshot(os.Environ, a.config.Backup.SnapshotRedact...),
		},
		store,
		a.logger,
		opts...,
	)
}

// RunBackup performs one backup run.
func (a *App) RunBackup(ctx context.Context) (*domain.Report, error) {
	uc, err := a.newBackup(ctx)
	if err != nil {
		return nil, err
	}
	return uc.Execute(ctx)
}

// Download restores every object under prefix into destDir. An empty
// container falls back to the configured one.
func (a *App) Download(ctx context.Context, container, prefix, destDir string, extract bool) (*domain.RestoreReport, error) {
	creds, err := a.provider.Load()
	if err != nil {
		return nil, err
	}
	if container == "" {
		container = creds.Container
	}

	store, err := newObjectStore(ctx, a.config, creds)
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "failed to initialize storage", err)
	}

	uc, err := usecase.NewRestore(usecase.RestoreConfig{
		Secret:      creds.Secret,
		Salt:        creds.Salt,
		Concurrency: a.config.Restore.Concurrency,
		Extract:     extract,
	}, store, compressor.NewGzip(), a.logger)
	if err != nil {
		return nil, err
	}
	return uc.Run(ctx, container, prefix, destDir)
}

// Cleanup prunes expired scratch run directories.
func (a *App) Cleanup(ctx context.Context) (int, error) {
	return usecase.NewCleanup(a.config.Backup.TempDir, a.config.Backup.Name, a.config.Backup.RetentionDays, a.logger).
		Execute(ctx)
}

// Schedule runs backups on the configured cron spec until ctx is done.
func (a *App) Schedule(ctx context.Context) error {
	// Fail before scheduling when credentials or storage are unusable.
	if _, err := a.newBackup(ctx); err != nil {
		return err
	}

	sched := scheduler.New(a.logger)

	err := sched.AddJob("backup", a.config.Backup.Schedule, func(ctx context.Context) error {
		_, err := a.RunBackup(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if a.config.Backup.RetentionDays > 0 {
		a.logger.Infof("Scheduling cleanup: %s", cleanupSchedule)
		err := sched.AddJob("cleanup", cleanupSchedule, func(ctx context.Context) error {
			_, err := a.Cleanup(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	sched.Start()
	a.logger.Infof("Scheduler started, backup schedule: %s", a.config.Backup.Schedule)

	<-ctx.Done()
	a.logger.Infof("Stopping scheduler...")
	sched.Stop()
	return nil
}

func (a *App) Shutdown() {
	a.logger.Close()
}

// AuthorizeGDrive runs the one-shot OAuth flow and returns a refresh token.
func (a *App) AuthorizeGDrive(ctx context.Context) (string, error) {
	gd := a.config.Storage.GDrive
	auth, err := NewGDriveAuth(a.logger, gd.ClientSecretFile)
	if err != nil {
		return "", err
	}
	return auth.Run(ctx, gd.AuthListenAddress)
}
