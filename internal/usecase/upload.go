package usecase

import (
	"context"
	"os"

	"github.com/adapt/offsite/internal/domain"
)

// Uploader puts encrypted artifacts under <runID>/ in a container. Each
// object is a single create-or-overwrite; nothing is read back or retried.
type Uploader struct {
	store  domain.ObjectStore
	logger Logger
}

func NewUploader(store domain.ObjectStore, logger Logger) *Uploader {
	return &Uploader{store: store, logger: logger}
}

// Upload attempts every artifact and reports each outcome in input order.
// A failure does not remove objects already uploaded. Once ctx is done the
// remaining artifacts are not started.
func (u *Uploader) Upload(ctx context.Context, container, runID string, encrypted []domain.EncryptedArtifact) []domain.UploadResult {
	results := make([]domain.UploadResult, 0, len(encrypted))
	for _, enc := range encrypted {
		res := domain.UploadResult{
			Artifact: enc,
			Key:      domain.NewRemoteKey(container, runID, enc.BaseName()),
		}

		if err := ctx.Err(); err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}

		if info, err := os.Stat(enc.Path); err == nil {
			res.Size = info.Size()
		}

		u.logger.Infof("Uploading %s", res.Key)
		if err := u.store.Put(ctx, container, res.Key.Path, enc.Path); err != nil {
			u.logger.Errorf("Failed to upload %s: %v", res.Key, err)
			res.Err = err
		} else {
			u.logger.Infof("Uploaded %s (%.2f MB)", res.Key, float64(res.Size)/(1024*1024))
		}
		results = append(results, res)
	}
	return results
}
