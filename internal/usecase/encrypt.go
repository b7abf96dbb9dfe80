package usecase

import (
	"context"
	"path/filepath"

	"github.com/adapt/offsite/internal/crypto"
	"github.com/adapt/offsite/internal/domain"
)

// Encryptor writes one .encrypted sibling per artifact. Plaintext stays on
// disk.
type Encryptor struct {
	logger Logger
}

func NewEncryptor(logger Logger) *Encryptor {
	return &Encryptor{logger: logger}
}

// Encrypt returns the encrypted artifacts in input order. The first failure
// stops the batch.
func (e *Encryptor) Encrypt(ctx context.Context, artifacts []domain.Artifact, key *crypto.Key) ([]domain.EncryptedArtifact, error) {
	out := make([]domain.EncryptedArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return out, domain.NewError(domain.KindEncryption, "cancelled", err).WithArtifact(a.Kind)
		}

		enc := domain.EncryptedArtifact{Source: a, Path: domain.EncryptedPath(a.Path)}
		e.logger.Infof("Encrypting %s", filepath.Base(a.Path))
		if err := crypto.EncryptFile(a.Path, enc.Path, key); err != nil {
			return out, domain.NewError(domain.KindEncryption, "failed to encrypt artifact", err).WithArtifact(a.Kind)
		}
		out = append(out, enc)
	}
	return out, nil
}
