package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

type GDriveOptions struct {
	// CredentialsFile is a service account key. When empty the OAuth client
	// fields and RefreshToken are used instead.
	CredentialsFile string
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	// FolderID is the parent folder; each container is a sub-folder of it.
	FolderID string
}

// GDriveStorage stores each object as a file named by its full key inside a
// per-container folder.
type GDriveStorage struct {
	service  *drive.Service
	folderID string
}

func NewGDrive(ctx context.Context, opts GDriveOptions) (*GDriveStorage, error) {
	if opts.FolderID == "" {
		return nil, fmt.Errorf("gdrive folder id is required")
	}

	var clientOpt option.ClientOption
	switch {
	case opts.CredentialsFile != "":
		clientOpt = option.WithCredentialsFile(opts.CredentialsFile)
	case opts.RefreshToken != "":
		conf := &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{drive.DriveFileScope},
		}
		ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: opts.RefreshToken})
		clientOpt = option.WithTokenSource(ts)
	default:
		return nil, fmt.Errorf("gdrive needs a credentials file or a refresh token")
	}

	service, err := drive.NewService(ctx, clientOpt)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDriveStorage{
		service:  service,
		folderID: opts.FolderID,
	}, nil
}

func quoteQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// containerFolder returns the id of the container folder, creating it when
// create is set.
func (g *GDriveStorage) containerFolder(ctx context.Context, container string, create bool) (string, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and mimeType='%s' and trashed=false",
		quoteQuery(g.folderID), quoteQuery(container), folderMimeType)

	fileList, err := g.service.Files.List().
		Q(query).
		Fields("files(id)").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to find container folder: %w", err)
	}
	if len(fileList.Files) > 0 {
		return fileList.Files[0].Id, nil
	}
	if !create {
		return "", nil
	}

	folder, err := g.service.Files.Create(&drive.File{
		Name:     container,
		MimeType: folderMimeType,
		Parents:  []string{g.folderID},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create container folder: %w", err)
	}
	return folder.Id, nil
}

func (g *GDriveStorage) findFile(ctx context.Context, folderID, key string) (string, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false",
		quoteQuery(folderID), quoteQuery(key))

	fileList, err := g.service.Files.List().
		Q(query).
		Fields("files(id)").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to find file: %w", err)
	}
	if len(fileList.Files) == 0 {
		return "", nil
	}
	return fileList.Files[0].Id, nil
}

// Put creates the object or replaces the content of an existing one.
func (g *GDriveStorage) Put(ctx context.Context, container, key, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	folderID, err := g.containerFolder(ctx, container, true)
	if err != nil {
		return err
	}

	existing, err := g.findFile(ctx, folderID, key)
	if err != nil {
		return err
	}

	if existing != "" {
		_, err = g.service.Files.Update(existing, &drive.File{}).
			Media(file).
			Context(ctx).
			Do()
	} else {
		_, err = g.service.Files.Create(&drive.File{
			Name:    key,
			Parents: []string{folderID},
		}).Media(file).Context(ctx).Do()
	}
	if err != nil {
		return fmt.Errorf("failed to upload to gdrive: %w", err)
	}
	return nil
}

func (g *GDriveStorage) List(ctx context.Context, container, prefix string) ([]string, error) {
	folderID, err := g.containerFolder(ctx, container, false)
	if err != nil {
		return nil, err
	}
	if folderID == "" {
		return nil, nil
	}

	query := fmt.Sprintf("'%s' in parents and trashed=false", quoteQuery(folderID))

	var keys []string
	err = g.service.Files.List().
		Q(query).
		Fields("nextPageToken, files(name)").
		Context(ctx).
		Pages(ctx, func(page *drive.FileList) error {
			for _, file := range page.Files {
				if strings.HasPrefix(file.Name, prefix) {
					keys = append(keys, file.Name)
				}
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

func (g *GDriveStorage) Get(ctx context.Context, container, key, localPath string) (err error) {
	folderID, err := g.containerFolder(ctx, container, false)
	if err != nil {
		return err
	}
	if folderID == "" {
		return fmt.Errorf("container not found: %s", container)
	}

	fileID, err := g.findFile(ctx, folderID, key)
	if err != nil {
		return err
	}
	if fileID == "" {
		return fmt.Errorf("file not found: %s", key)
	}

	resp, err := g.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("failed to download %s from gdrive: %w", key, err)
	}
	defer resp.Body.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
	}()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
