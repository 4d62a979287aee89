package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AssetMetadata mirrors the `<name>_asset_metadata.json` file the Poly Haven
// downloader writes alongside each HDRI. Only the availability summary is
// consumed here; the rest of the document is ignored.
type AssetMetadata struct {
	AssetID              string              `json:"asset_id"`
	AvailableResolutions []string            `json:"available_resolutions"`
	FormatsPerResolution map[string][]string `json:"formats_per_resolution"`
}

// loadAssetMetadata reads and validates the metadata file for one HDRI folder.
func loadAssetMetadata(hdriDir, name string) (AssetMetadata, error) {
	path := filepath.Join(hdriDir, name, name+"_asset_metadata.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return AssetMetadata{}, errf(name, "missing asset metadata file %s", filepath.Base(path))
		}
		return AssetMetadata{}, fmt.Errorf("read asset metadata for %s: %w", name, err)
	}
	var meta AssetMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return AssetMetadata{}, errf(name, "malformed asset metadata: %v", err)
	}
	if len(meta.AvailableResolutions) == 0 {
		return AssetMetadata{}, errf(name, "asset metadata lists no resolutions")
	}
	return meta, nil
}

// Offers reports whether the asset provides the given resolution and format.
func (m AssetMetadata) Offers(resolution, format string) bool {
	formats, ok := m.FormatsPerResolution[resolution]
	if !ok {
		return false
	}
	for _, f := range formats {
		if f == format {
			return true
		}
	}
	return false
}

// hdriFilePath returns the resolution-specific image file for an HDRI, as the
// downloader names it: `<name>_<res>.<fmt>` inside the asset folder.
func hdriFilePath(hdriDir, name, resolution, format string) string {
	return filepath.Join(hdriDir, name, fmt.Sprintf("%s_%s.%s", name, resolution, format))
}
