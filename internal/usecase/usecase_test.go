package usecase

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/adapt/offsite/internal/adapter/archive"
	"github.com/adapt/offsite/internal/adapter/compressor"
	"github.com/adapt/offsite/internal/adapter/snapshot"
	"github.com/adapt/offsite/internal/adapter/storage"
	"github.com/adapt/offsite/internal/domain"
)

const testSalt = "MDEyMzQ1Njc4OWFiY2RlZg=="

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

// fakeDatabase writes fixed dump content instead of running a dump tool.
type fakeDatabase struct {
	name    string
	dump    string
	schema  string
	pingErr error
	dumpErr error
}

func (f *fakeDatabase) Dump(ctx context.Context, out string) error {
	if f.dumpErr != nil {
		return f.dumpErr
	}
	return os.WriteFile(out, []byte(f.dump), 0o600)
}

func (f *fakeDatabase) DumpSchemaOnly(ctx context.Context, out string) error {
	return os.WriteFile(out, []byte(f.schema), 0o600)
}

func (f *fakeDatabase) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeDatabase) GetName() string                { return f.name }
func (f *fakeDatabase) GetEngine() domain.Engine       { return domain.EngineMySQL }

// failingStore fails the Nth Put (1-based) and delegates everything else.
type failingStore struct {
	domain.ObjectStore
	failOn int
	mu     sync.Mutex
	puts   int
}

func (f *failingStore) Put(ctx context.Context, container, key, localPath string) error {
	f.mu.Lock()
	f.puts++
	n := f.puts
	f.mu.Unlock()
	if n == f.failOn {
		return errors.New("service unavailable")
	}
	return f.ObjectStore.Put(ctx, container, key, localPath)
}

type recordingNotifier struct {
	reports []*domain.Report
	err     error
}

func (r *recordingNotifier) Notify(ctx context.Context, report *domain.Report) error {
	r.reports = append(r.reports, report)
	return r.err
}

func writeTree(root string, files map[string]string) {
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		So(os.MkdirAll(filepath.Dir(p), 0o755), ShouldBeNil)
		So(os.WriteFile(p, []byte(content), 0o644), ShouldBeNil)
	}
}

func zipNames(path string) []string {
	r, err := zip.OpenReader(path)
	So(err, ShouldBeNil)
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestBackupConfigValidate(t *testing.T) {
	Convey("Given a backup configuration", t, func() {
		cfg := BackupConfig{
			Name:      "backup",
			TempDir:   "tmp",
			Container: "site",
			Secret:    domain.NewSecret("secret"),
			Salt:      testSalt,
		}

		Convey("A complete configuration is valid", func() {
			So(cfg.Validate(), ShouldBeNil)
		})

		Convey("A missing secret means not configured", func() {
			cfg.Secret = domain.Secret{}
			err := cfg.Validate()
			So(errors.Is(err, domain.ErrConfiguration), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "backup not configured")
		})

		Convey("A malformed salt is a key derivation error", func() {
			cfg.Salt = "short"
			So(errors.Is(cfg.Validate(), domain.ErrKeyDerivation), ShouldBeTrue)
		})

		Convey("Validation errors never contain the secret", func() {
			cfg.Secret = domain.NewSecret("super-secret-value")
			cfg.Container = ""
			err := cfg.Validate()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldNotContainSubstring, "super-secret-value")
		})
	})
}

func TestBackupAndRestore(t *testing.T) {
	Convey("Given a site with a database and a files folder", t, func() {
		root, err := os.MkdirTemp("", "usecase_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(root)

		filesDir := filepath.Join(root, "site", "files")
		writeTree(filesDir, map[string]string{
			"a.txt":       "alpha",
			"b.txt":       "bravo",
			"other/c.txt": "charlie",
			"cache/x.txt": "excluded",
		})

		store, err := storage.NewLocal(filepath.Join(root, "remote"))
		So(err, ShouldBeNil)

		db := &fakeDatabase{
			name:   "drupal",
			dump:   "CREATE TABLE node; INSERT INTO node VALUES (1); CREATE TABLE users; INSERT INTO users VALUES (1);",
			schema: "CREATE TABLE cache_page;",
		}
		sources := Sources{
			Database: db,
			Files: archive.NewZip(domain.FolderSpec{
				Folders: map[string]string{"files": filesDir},
				Exclude: []string{"files/cache"},
			}),
			Snapshot: snapshot.NewEnvSnapshot(func() []string { return []string{"APP_ENV=test"} }),
		}
		cfg := BackupConfig{
			Name:      "backup",
			TempDir:   filepath.Join(root, "tmp"),
			Container: "site",
			Secret:    domain.NewSecret("correct horse battery staple"),
			Salt:      testSalt,
			KeepLocal: true,
		}
		now := time.Date(2024, 3, 9, 14, 30, 12, 0, time.Local)
		notifier := &recordingNotifier{}

		Convey("When a backup runs without a schema-only policy", func() {
			uc, err := NewBackup(cfg, sources, store, nopLogger{}, WithClock(fixedClock(now)), WithNotifier(notifier))
			So(err, ShouldBeNil)

			report, err := uc.Execute(context.Background())

			Convey("It should produce, encrypt and upload three artifacts", func() {
				So(err, ShouldBeNil)
				So(report.State, ShouldEqual, domain.StateDone)
				So(report.RunID, ShouldEqual, "backup-2024-03-09-14-30")

				var kinds []domain.ArtifactKind
				for _, a := range report.Artifacts {
					kinds = append(kinds, a.Kind)
				}
				So(kinds, ShouldResemble, []domain.ArtifactKind{
					domain.ArtifactDatabaseFull, domain.ArtifactFilesArchive, domain.ArtifactConfigSnapshot,
				})

				keys, err := store.List(context.Background(), "site", report.RunID)
				So(err, ShouldBeNil)
				So(keys, ShouldResemble, []string{
					"backup-2024-03-09-14-30/backup-2024-03-09-14-30-config.json.encrypted",
					"backup-2024-03-09-14-30/backup-2024-03-09-14-30-drupal.sql.gz.encrypted",
					"backup-2024-03-09-14-30/backup-2024-03-09-14-30-files.zip.encrypted",
				})
			})

			Convey("The local layout should hold plaintext and ciphertext side by side", func() {
				workDir := filepath.Join(cfg.TempDir, report.RunID)
				for _, suffix := range []string{"drupal.sql.gz", "files.zip", "config.json"} {
					base := filepath.Join(workDir, report.RunID+"-"+suffix)
					_, err := os.Stat(base)
					So(err, ShouldBeNil)
					_, err = os.Stat(base + ".encrypted")
					So(err, ShouldBeNil)
				}
			})

			Convey("The notifier should receive the report", func() {
				So(len(notifier.reports), ShouldEqual, 1)
				So(notifier.reports[0].Succeeded(), ShouldBeTrue)
			})

			Convey("A restore should recover the original bytes", func() {
				restore, err := NewRestore(RestoreConfig{Secret: cfg.Secret, Salt: testSalt, Concurrency: 2}, store, nil, nopLogger{})
				So(err, ShouldBeNil)

				dest := filepath.Join(root, "restored")
				rr, err := restore.Run(context.Background(), "site", report.RunID, dest)
				So(err, ShouldBeNil)
				So(len(rr.Objects), ShouldEqual, 3)
				So(rr.Failed(), ShouldBeEmpty)

				dump, err := os.ReadFile(filepath.Join(dest, report.RunID+"-drupal.sql.gz"))
				So(err, ShouldBeNil)
				So(string(dump), ShouldEqual, db.dump)

				So(zipNames(filepath.Join(dest, report.RunID+"-files.zip")), ShouldResemble, []string{
					"files/a.txt", "files/b.txt", "files/other/c.txt",
				})

				leftovers, _ := filepath.Glob(filepath.Join(dest, "*.download"))
				So(leftovers, ShouldBeEmpty)
			})

			Convey("A second run in the same minute refuses the existing directory", func() {
				_, err := uc.Execute(context.Background())
				So(err, ShouldNotBeNil)
				So(errors.Is(err, domain.ErrArtifactProduction), ShouldBeTrue)
			})
		})

		Convey("When a schema-only policy is configured", func() {
			cfg.SchemaOnly = true
			uc, err := NewBackup(cfg, sources, store, nopLogger{}, WithClock(fixedClock(now)))
			So(err, ShouldBeNil)

			report, err := uc.Execute(context.Background())
			So(err, ShouldBeNil)
			So(len(report.Artifacts), ShouldEqual, 4)
			So(report.Artifacts[1].Kind, ShouldEqual, domain.ArtifactDatabaseSchemaOnly)
			So(filepath.Base(report.Artifacts[1].Path), ShouldEqual, report.RunID+"-drupal-schema-only.sql.gz")
		})

		Convey("When local retention is off", func() {
			cfg.KeepLocal = false
			uc, err := NewBackup(cfg, sources, store, nopLogger{}, WithClock(fixedClock(now)))
			So(err, ShouldBeNil)

			report, err := uc.Execute(context.Background())
			So(err, ShouldBeNil)

			_, err = os.Stat(filepath.Join(cfg.TempDir, report.RunID))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("When the database dump fails", func() {
			db.dumpErr = errors.New("mysqldump: access denied")
			uc, err := NewBackup(cfg, sources, store, nopLogger{}, WithClock(fixedClock(now)), WithNotifier(notifier))
			So(err, ShouldBeNil)

			report, err := uc.Execute(context.Background())

			Convey("The run fails before anything is uploaded", func() {
				So(errors.Is(err, domain.ErrArtifactProduction), ShouldBeTrue)
				So(report.State, ShouldEqual, domain.StateFailed)
				So(report.FailedStep, ShouldEqual, domain.StateDumping)
				So(err.Error(), ShouldContainSubstring, "artifact=db-full")
				So(err.Error(), ShouldContainSubstring, "run=backup-2024-03-09-14-30")

				keys, _ := store.List(context.Background(), "site", "")
				So(keys, ShouldBeEmpty)
				So(notifier.reports[0].Succeeded(), ShouldBeFalse)
			})
		})

		Convey("When the database cannot be reached", func() {
			db.pingErr = errors.New("connection refused")
			uc, _ := NewBackup(cfg, sources, store, nopLogger{}, WithClock(fixedClock(now)))

			_, err := uc.Execute(context.Background())
			So(errors.Is(err, domain.ErrArtifactProduction), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "database ping")
		})

		Convey("When the second of three uploads fails", func() {
			flaky := &failingStore{ObjectStore: store, failOn: 2}
			uc, err := NewBackup(cfg, sources, flaky, nopLogger{}, WithClock(fixedClock(now)))
			So(err, ShouldBeNil)

			report, err := uc.Execute(context.Background())

			Convey("The first object stays and the failure names the second", func() {
				So(errors.Is(err, domain.ErrUpload), ShouldBeTrue)
				So(report.FailedStep, ShouldEqual, domain.StateUploading)

				var de *domain.Error
				So(errors.As(err, &de), ShouldBeTrue)
				So(de.Artifact, ShouldEqual, domain.ArtifactFilesArchive)
				So(de.RemoteKey, ShouldEqual, "backup-2024-03-09-14-30/backup-2024-03-09-14-30-files.zip.encrypted")

				So(report.Uploads[0].Err, ShouldBeNil)
				So(report.Uploads[1].Err, ShouldNotBeNil)
				So(report.Uploads[2].Err, ShouldBeNil)

				keys, _ := store.List(context.Background(), "site", report.RunID)
				So(keys, ShouldContain, "backup-2024-03-09-14-30/backup-2024-03-09-14-30-drupal.sql.gz.encrypted")
				So(keys, ShouldNotContain, "backup-2024-03-09-14-30/backup-2024-03-09-14-30-files.zip.encrypted")
			})
		})

		Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			uc, _ := NewBackup(cfg, sources, store, nopLogger{}, WithClock(fixedClock(now)))

			report, err := uc.Execute(ctx)
			So(err, ShouldNotBeNil)
			So(report.FailedStep, ShouldEqual, domain.StateDumping)
			keys, _ := store.List(context.Background(), "site", "")
			So(keys, ShouldBeEmpty)
		})

		Convey("A failing notifier does not change the outcome", func() {
			notifier.err = errors.New("telegram down")
			uc, _ := NewBackup(cfg, sources, store, nopLogger{}, WithClock(fixedClock(now)), WithNotifier(notifier))

			report, err := uc.Execute(context.Background())
			So(err, ShouldBeNil)
			So(report.Succeeded(), ShouldBeTrue)
		})
	})
}

func TestRestore(t *testing.T) {
	Convey("Given two runs in the same container", t, func() {
		root, err := os.MkdirTemp("", "restore_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(root)

		store, err := storage.NewLocal(filepath.Join(root, "remote"))
		So(err, ShouldBeNil)

		secret := domain.NewSecret("correct horse battery staple")
		cfg := BackupConfig{
			Name:      "backup",
			TempDir:   filepath.Join(root, "tmp"),
			Container: "site",
			Secret:    secret,
			Salt:      testSalt,
			KeepLocal: true,
		}
		sources := Sources{
			Database: &fakeDatabase{name: "drupal", dump: "dump"},
			Files: domain.ProducerFunc(func(ctx context.Context, out string) error {
				return os.WriteFile(out, []byte("zip"), 0o600)
			}),
			Snapshot: domain.ProducerFunc(func(ctx context.Context, out string) error {
				return os.WriteFile(out, []byte("{}"), 0o600)
			}),
		}

		var runIDs []string
		for _, at := range []time.Time{
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local),
			time.Date(2024, 1, 2, 0, 0, 0, 0, time.Local),
		} {
			uc, err := NewBackup(cfg, sources, store, nopLogger{}, WithClock(fixedClock(at)))
			So(err, ShouldBeNil)
			report, err := uc.Execute(context.Background())
			So(err, ShouldBeNil)
			runIDs = append(runIDs, report.RunID)
		}

		restore, err := NewRestore(RestoreConfig{Secret: secret, Salt: testSalt}, store, compressor.NewGzip(), nopLogger{})
		So(err, ShouldBeNil)
		dest := filepath.Join(root, "restored")

		Convey("Listing one run returns only that run's objects", func() {
			report, err := restore.Run(context.Background(), "site", runIDs[0], dest)
			So(err, ShouldBeNil)
			So(len(report.Objects), ShouldEqual, 3)
			for _, o := range report.Objects {
				So(o.Key, ShouldStartWith, runIDs[0]+"/")
				So(o.Err, ShouldBeNil)
			}
		})

		Convey("A tampered object fails alone", func() {
			tampered := fmt.Sprintf("%s/%s-files.zip.encrypted", runIDs[0], runIDs[0])
			p := store.GetPath("site", tampered)
			raw, err := os.ReadFile(p)
			So(err, ShouldBeNil)
			raw[len(raw)-1] ^= 0x01
			So(os.WriteFile(p, raw, 0o600), ShouldBeNil)

			report, err := restore.Run(context.Background(), "site", runIDs[0], dest)
			So(err, ShouldBeNil)

			failed := report.Failed()
			So(len(failed), ShouldEqual, 1)
			So(failed[0].Key, ShouldEqual, tampered)
			So(errors.Is(failed[0].Err, domain.ErrRestoreObject), ShouldBeTrue)

			_, err = os.Stat(filepath.Join(dest, runIDs[0]+"-files.zip"))
			So(os.IsNotExist(err), ShouldBeTrue)
			_, err = os.Stat(filepath.Join(dest, runIDs[0]+"-config.json"))
			So(err, ShouldBeNil)
		})

		Convey("Objects without the encrypted suffix are reported, not decrypted", func() {
			plain := filepath.Join(root, "plain.txt")
			So(os.WriteFile(plain, []byte("x"), 0o600), ShouldBeNil)
			So(store.Put(context.Background(), "site", runIDs[1]+"/notes.txt", plain), ShouldBeNil)

			report, err := restore.Run(context.Background(), "site", runIDs[1], dest)
			So(err, ShouldBeNil)
			So(len(report.Failed()), ShouldEqual, 1)
			So(report.Failed()[0].Err.Error(), ShouldContainSubstring, "not encrypted")
		})

		Convey("A wrong secret fails every object", func() {
			wrong, err := NewRestore(RestoreConfig{Secret: domain.NewSecret("nope"), Salt: testSalt}, store, nil, nopLogger{})
			So(err, ShouldBeNil)

			report, err := wrong.Run(context.Background(), "site", runIDs[1], dest)
			So(err, ShouldBeNil)
			So(len(report.Failed()), ShouldEqual, 3)
		})

		Convey("A listing failure is fatal", func() {
			_, err := restore.Run(context.Background(), "../bad", runIDs[0], dest)
			So(errors.Is(err, domain.ErrRestoreList), ShouldBeTrue)
		})
	})
}

func TestCleanup(t *testing.T) {
	Convey("Given old and recent run directories", t, func() {
		tempDir, err := os.MkdirTemp("", "cleanup_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tempDir)

		for _, name := range []string{
			"backup-2024-01-01-02-00",
			"backup-2024-01-09-02-00",
			"unrelated",
			"nightly-2023-01-01-00-00",
		} {
			So(os.Mkdir(filepath.Join(tempDir, name), 0o700), ShouldBeNil)
		}

		uc := NewCleanup(tempDir, "backup", 7, nopLogger{})
		uc.now = fixedClock(time.Date(2024, 1, 10, 0, 0, 0, 0, time.Local))

		Convey("Only expired runs of this name are removed", func() {
			deleted, err := uc.Execute(context.Background())
			So(err, ShouldBeNil)
			So(deleted, ShouldEqual, 1)

			entries, _ := os.ReadDir(tempDir)
			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}
			So(names, ShouldResemble, []string{"backup-2024-01-09-02-00", "nightly-2023-01-01-00-00", "unrelated"})
		})

		Convey("Zero retention disables pruning", func() {
			uc.retentionDays = 0
			deleted, err := uc.Execute(context.Background())
			So(err, ShouldBeNil)
			So(deleted, ShouldEqual, 0)
		})
	})
}
