package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/adapt/offsite/internal/domain"
)

// ZipArchiver writes the folders of a FolderSpec into one zip archive, each
// under its key as archive root.
type ZipArchiver struct {
	spec domain.FolderSpec
}

func NewZip(spec domain.FolderSpec) *ZipArchiver {
	return &ZipArchiver{spec: spec}
}

func (z *ZipArchiver) Produce(ctx context.Context, outputPath string) (err error) {
	if err := z.spec.Validate(); err != nil {
		return err
	}

	zipFile, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create zip file %s: %w", outputPath, err)
	}
	zipWriter := zip.NewWriter(zipFile)

	// The writer and file are closed on every path; the first error wins.
	defer func() {
		if cerr := zipWriter.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close zip writer: %w", cerr)
		}
		if cerr := zipFile.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close zip file handle: %w", cerr)
		}
	}()

	for _, key := range z.spec.Keys() {
		if err := z.addFolder(ctx, zipWriter, key, z.spec.Folders[key]); err != nil {
			return err
		}
	}
	return nil
}

func (z *ZipArchiver) addFolder(ctx context.Context, zw *zip.Writer, key, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("failed to stat folder %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("folder %s is not a directory", root)
	}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", p, err)
		}
		archivePath := path.Join(key, filepath.ToSlash(relPath))

		if relPath != "." && z.spec.Excluded(archivePath) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		return addFile(zw, p, archivePath)
	})
	if err != nil {
		return fmt.Errorf("failed during zip creation for %s: %w", root, err)
	}
	return nil
}

func addFile(zw *zip.Writer, src, archivePath string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header for %s: %w", src, err)
	}
	header.Name = archivePath
	header.Method = zip.Deflate

	entry, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry for %s: %w", archivePath, err)
	}

	fileToZip, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", src, err)
	}
	defer fileToZip.Close()

	if _, err := io.Copy(entry, fileToZip); err != nil {
		return fmt.Errorf("failed to copy file content for %s: %w", src, err)
	}
	return nil
}
