package domain

import "io"

type Compressor interface {
	NewWriter(w io.Writer) (io.WriteCloser, error)
	Decompress(sourcePath, destPath string) error
	Extension() string
}
