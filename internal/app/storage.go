package app

import (
	"context"
	"fmt"

	"github.com/adapt/offsite/internal/adapter/storage"
	"github.com/adapt/offsite/internal/config"
	"github.com/adapt/offsite/internal/domain"
)

// newObjectStore builds the configured backend. Azure takes its endpoint and
// SAS from the credentials; the others from the settings file.
func newObjectStore(ctx context.Context, cfg *config.Config, creds *config.Credentials) (domain.ObjectStore, error) {
	switch cfg.Storage.Type {
	case config.StorageAzure:
		if creds.Endpoint == "" || creds.SAS.Empty() {
			return nil, fmt.Errorf("%s and %s are required for azure storage", config.EnvEndpoint, config.EnvSAS)
		}
		return storage.NewAzure(creds.AzureConnectionString())

	case config.StorageS3:
		s3 := cfg.Storage.S3
		return storage.NewS3(ctx, storage.S3Options{
			Region:    s3.Region,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Endpoint:  s3.Endpoint,
			PathStyle: s3.PathStyle,
			Prefix:    s3.Prefix,
		})

	case config.StorageGDrive:
		gd := cfg.Storage.GDrive
		return storage.NewGDrive(ctx, storage.GDriveOptions{
			CredentialsFile: gd.CredentialsFile,
			ClientID:        gd.ClientID,
			ClientSecret:    gd.ClientSecret,
			RefreshToken:    gd.RefreshToken,
			FolderID:        gd.FolderID,
		})

	case config.StorageLocal:
		return storage.NewLocal(cfg.Storage.Local.Path)

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}
