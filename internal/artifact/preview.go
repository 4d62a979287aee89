package artifact

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// WritePreview saves a downscaled JPEG next to a rendered artifact, named
// `<base>_preview.jpg`. Only decodable formats get previews; EXR/HDR outputs
// are skipped silently since their tonemapped previews ship with the HDRI
// assets themselves.
func WritePreview(path string, width int) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
	default:
		return "", nil
	}
	src, err := imaging.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact for preview: %w", err)
	}
	thumb := imaging.Resize(src, width, 0, imaging.Lanczos)
	base := strings.TrimSuffix(path, filepath.Ext(path))
	previewPath := base + "_preview.jpg"
	if err := imaging.Save(thumb, previewPath, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("save preview: %w", err)
	}
	return previewPath, nil
}
