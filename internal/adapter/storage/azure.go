package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-pipeline-go/pipeline"
	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureConnection is the parsed form of an
// "BlobEndpoint=...;SharedAccessSignature=..." connection string.
type AzureConnection struct {
	BlobEndpoint          string
	SharedAccessSignature string
}

// ConnectionString renders the endpoint and SAS in connection-string form.
func (c AzureConnection) ConnectionString() string {
	return "BlobEndpoint=" + c.BlobEndpoint + ";SharedAccessSignature=" + c.SharedAccessSignature
}

// ParseAzureConnectionString accepts the subset of Azure connection strings
// that carry a blob endpoint and a shared access signature.
func ParseAzureConnectionString(s string) (AzureConnection, error) {
	var conn AzureConnection
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(k) {
		case "blobendpoint":
			conn.BlobEndpoint = strings.TrimRight(v, "/")
		case "sharedaccesssignature":
			conn.SharedAccessSignature = strings.TrimPrefix(v, "?")
		}
	}
	if conn.BlobEndpoint == "" {
		return conn, fmt.Errorf("azure connection string has no BlobEndpoint")
	}
	if conn.SharedAccessSignature == "" {
		return conn, fmt.Errorf("azure connection string has no SharedAccessSignature")
	}
	return conn, nil
}

type AzureStorage struct {
	endpoint url.URL
	sas      string
	pipeline pipeline.Pipeline
}

func NewAzure(connectionString string) (*AzureStorage, error) {
	conn, err := ParseAzureConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	endpoint, err := url.Parse(conn.BlobEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Azure blob endpoint: %w", err)
	}

	// The SAS travels in the URL query, so the credential is anonymous.
	// Retries stay off; a failed upload is reported, not repeated.
	pipeline := azblob.NewPipeline(azblob.NewAnonymousCredential(), azblob.PipelineOptions{
		Retry: azblob.RetryOptions{MaxTries: 1},
	})

	return &AzureStorage{
		endpoint: *endpoint,
		sas:      conn.SharedAccessSignature,
		pipeline: pipeline,
	}, nil
}

func (a *AzureStorage) containerURL(container string) azblob.ContainerURL {
	u := a.endpoint
	u.Path = strings.TrimRight(u.Path, "/") + "/" + container
	u.RawQuery = a.sas
	return azblob.NewContainerURL(u, a.pipeline)
}

func (a *AzureStorage) Put(ctx context.Context, container, key, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	blobURL := a.containerURL(container).NewBlockBlobURL(key)

	// Files up to the single-request limit go up as one Put Blob; larger ones
	// are staged in blocks of that size and committed as a whole.
	_, err = azblob.UploadFileToBlockBlob(ctx, file, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   azblob.BlockBlobMaxUploadBlobBytes,
		Parallelism: 1,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to Azure: %w", err)
	}
	return nil
}

func (a *AzureStorage) List(ctx context.Context, container, prefix string) ([]string, error) {
	containerURL := a.containerURL(container)

	var keys []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		listResponse, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs from Azure: %w", err)
		}

		for _, blob := range listResponse.Segment.BlobItems {
			keys = append(keys, blob.Name)
		}
		marker = listResponse.NextMarker
	}
	return keys, nil
}

func (a *AzureStorage) Get(ctx context.Context, container, key, localPath string) (err error) {
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
	}()

	blobURL := a.containerURL(container).NewBlobURL(key)
	err = azblob.DownloadBlobToFile(ctx, blobURL, 0, azblob.CountToEnd, file, azblob.DownloadFromBlobOptions{
		Parallelism: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to download %s from Azure: %w", key, err)
	}
	return nil
}
