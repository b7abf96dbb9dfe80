package usecase

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/adapt/offsite/internal/crypto"
	"github.com/adapt/offsite/internal/domain"
)

type RestoreConfig struct {
	Secret domain.Secret
	Salt   string
	// Concurrency bounds parallel object restores; 1 is sequential.
	Concurrency int
	// Extract decompresses plaintexts that carry the decompressor's
	// extension and removes the compressed copy.
	Extract bool
}

// Restore lists one backup prefix and turns each object back into a local
// plaintext file.
type Restore struct {
	cfg          RestoreConfig
	store        domain.ObjectStore
	decompressor domain.Compressor
	logger       Logger
}

func NewRestore(cfg RestoreConfig, store domain.ObjectStore, decompressor domain.Compressor, logger Logger) (*Restore, error) {
	if cfg.Secret.Empty() {
		return nil, domain.NewError(domain.KindConfiguration, "backup not configured", nil)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Extract && decompressor == nil {
		return nil, domain.NewError(domain.KindConfiguration, "extract needs a decompressor", nil)
	}
	return &Restore{cfg: cfg, store: store, decompressor: decompressor, logger: logger}, nil
}

// Run restores every object under prefix into destDir. Listing and key
// failures are returned as errors; per-object failures are recorded in the
// report and never stop the other objects.
func (uc *Restore) Run(ctx context.Context, container, prefix, destDir string) (*domain.RestoreReport, error) {
	report := &domain.RestoreReport{Prefix: prefix}

	key, err := crypto.DeriveKeyFromConfig(uc.cfg.Secret, uc.cfg.Salt)
	if err != nil {
		return report, err
	}
	defer key.Wipe()

	keys, err := uc.store.List(ctx, container, prefix)
	if err != nil {
		return report, domain.NewError(domain.KindRestoreList, "failed to list backup objects", err).
			WithRemoteKey(container + "/" + prefix)
	}
	uc.logger.Infof("Found %d object(s) under %s/%s", len(keys), container, prefix)

	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return report, domain.NewError(domain.KindRestoreList, "failed to create destination", err)
	}

	report.Objects = make([]domain.RestoredObject, len(keys))
	seen := make(map[string]string, len(keys))

	var g errgroup.Group
	g.SetLimit(uc.cfg.Concurrency)

	for i, objectKey := range keys {
		report.Objects[i].Key = objectKey

		plain, ok := domain.PlaintextName(path.Base(objectKey))
		if !ok {
			report.Objects[i].Err = uc.objectError(objectKey, "object is not encrypted", nil)
			continue
		}
		if other, dup := seen[plain]; dup {
			report.Objects[i].Err = uc.objectError(objectKey, "same file name as "+other, nil)
			continue
		}
		seen[plain] = objectKey

		// Each worker writes only its own slot.
		obj := &report.Objects[i]
		g.Go(func() error {
			obj.Path, obj.Err = uc.restoreObject(ctx, container, objectKey, plain, destDir, key)
			if obj.Err != nil {
				uc.logger.Errorf("Failed to restore %s: %v", objectKey, obj.Err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return report, nil
}

func (uc *Restore) restoreObject(ctx context.Context, container, objectKey, plain, destDir string, key *crypto.Key) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", uc.objectError(objectKey, "cancelled", err)
	}

	// The ciphertext is transient and named so that concurrent downloads
	// cannot collide.
	download := filepath.Join(destDir, fmt.Sprintf(".%s.%s.download", plain, uuid.NewString()))
	defer os.Remove(download)

	if err := uc.store.Get(ctx, container, objectKey, download); err != nil {
		return "", uc.objectError(objectKey, "download failed", err)
	}

	dst := filepath.Join(destDir, plain)
	if err := crypto.DecryptFile(download, dst, key); err != nil {
		return "", uc.objectError(objectKey, "decrypt failed", err)
	}
	uc.logger.Infof("Downloaded and decrypted: %s", plain)

	if !uc.cfg.Extract || !strings.HasSuffix(plain, uc.decompressor.Extension()) {
		return dst, nil
	}

	extracted := strings.TrimSuffix(dst, uc.decompressor.Extension())
	if err := uc.decompressor.Decompress(dst, extracted); err != nil {
		return dst, uc.objectError(objectKey, "extract failed", err)
	}
	if err := os.Remove(dst); err != nil {
		uc.logger.Warnf("Failed to remove %s after extracting: %v", dst, err)
	}
	return extracted, nil
}

func (uc *Restore) objectError(objectKey, msg string, cause error) error {
	return domain.NewError(domain.KindRestoreObject, msg, cause).WithRemoteKey(objectKey)
}
