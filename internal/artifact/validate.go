// Package artifact validates, previews, and optionally publishes rendered
// output files.
package artifact

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// ValidationError means the output file is missing or corrupt despite the
// renderer reporting success. The runner treats it like a render failure.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("artifact %s: %s", e.Path, e.Reason)
}

// exrMagic is the OpenEXR file signature.
var exrMagic = []byte{0x76, 0x2f, 0x31, 0x01}

// Validate checks that the artifact at path is a plausible render output.
// A zero-length or truncated file from a crashed render must not pass: PNG
// and JPEG artifacts are fully decoded, EXR and HDR checked by signature.
func Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &ValidationError{Path: path, Reason: "file missing"}
	}
	if info.Size() == 0 {
		return &ValidationError{Path: path, Reason: "file is empty"}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		if _, err := imaging.Open(path); err != nil {
			return &ValidationError{Path: path, Reason: fmt.Sprintf("decode failed: %v", err)}
		}
	case ".exr":
		header := make([]byte, len(exrMagic))
		if err := readHeader(path, header); err != nil {
			return &ValidationError{Path: path, Reason: err.Error()}
		}
		if !bytes.Equal(header, exrMagic) {
			return &ValidationError{Path: path, Reason: "not an EXR file"}
		}
	case ".hdr":
		header := make([]byte, 2)
		if err := readHeader(path, header); err != nil {
			return &ValidationError{Path: path, Reason: err.Error()}
		}
		if string(header) != "#?" {
			return &ValidationError{Path: path, Reason: "not a Radiance HDR file"}
		}
	}
	return nil
}

func readHeader(path string, buf []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %v", err)
	}
	defer f.Close()
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("read header: %v", err)
	}
	return nil
}
