// Package catalog enumerates the full (scene, HDRI, variant, camera) task
// space into an ordered, deterministically identified task list. The builder
// is pure with respect to its inputs: the same scenes, HDRIs and plan always
// yield the same ordering and the same task ids, so shards launched at
// different times agree on the global task positions they partition over.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hdri-render-farm/internal/models"
	"hdri-render-farm/internal/plan"
)

// sceneExtensions are the scene asset types the render script can open.
var sceneExtensions = map[string]bool{
	".blend": true,
	".fbx":   true,
	".obj":   true,
	".glb":   true,
}

// Builder collects catalog inputs. RendersDir is only used to derive output
// paths; it is not read.
type Builder struct {
	ScenesDir  string
	HDRIDir    string
	RendersDir string
	Plan       plan.Plan
}

// Build enumerates the ordered catalog. Ordering is lexicographic over
// (scene_id, hdri_name, resolution, format, camera_id); adding new scenes or
// HDRIs inserts tasks but never changes the identity or output path of
// existing ones.
func (b Builder) Build() ([]models.Task, error) {
	scenes, err := b.scanScenes()
	if err != nil {
		return nil, err
	}
	hdris, err := b.scanHDRIs()
	if err != nil {
		return nil, err
	}

	variants := append([]plan.Variant(nil), b.Plan.Variants...)
	sort.Slice(variants, func(i, j int) bool {
		if variants[i].Resolution != variants[j].Resolution {
			return variants[i].Resolution < variants[j].Resolution
		}
		return variants[i].Format < variants[j].Format
	})
	cameras := append([]string(nil), b.Plan.Cameras...)
	sort.Strings(cameras)

	var tasks []models.Task
	for _, scene := range scenes {
		for _, h := range hdris {
			for _, v := range variants {
				if !h.meta.Offers(v.Resolution, v.Format) {
					// The downloader may have fallen back to a different
					// resolution for this asset; absence is not an error.
					continue
				}
				hdriPath := hdriFilePath(b.HDRIDir, h.name, v.Resolution, v.Format)
				if _, err := os.Stat(hdriPath); err != nil {
					return nil, errf(h.name, "metadata lists %s but %s is missing", v, filepath.Base(hdriPath))
				}
				for _, cam := range cameras {
					tasks = append(tasks, models.Task{
						ID:         TaskID(scene.id, h.name, v.Resolution, v.Format, cam),
						SceneID:    scene.id,
						ScenePath:  scene.path,
						HDRIName:   h.name,
						HDRIPath:   hdriPath,
						CameraID:   cam,
						Resolution: v.Resolution,
						Format:     v.Format,
						OutputPath: OutputPath(b.RendersDir, scene.id, h.name, v.Resolution, v.Format, cam),
					})
				}
			}
		}
	}
	if len(tasks) == 0 {
		return nil, errf(b.ScenesDir, "catalog is empty: no scene/HDRI/variant combination matched")
	}
	return tasks, nil
}

type sceneEntry struct {
	id   string
	path string
}

func (b Builder) scanScenes() ([]sceneEntry, error) {
	entries, err := os.ReadDir(b.ScenesDir)
	if err != nil {
		return nil, fmt.Errorf("read scenes dir: %w", err)
	}
	byID := make(map[string]string)
	var scenes []sceneEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !sceneExtensions[ext] {
			continue
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if prev, ok := byID[id]; ok {
			return nil, errf(id, "scene id collision between %s and %s", prev, e.Name())
		}
		byID[id] = e.Name()
		scenes = append(scenes, sceneEntry{id: id, path: filepath.Join(b.ScenesDir, e.Name())})
	}
	if len(scenes) == 0 {
		return nil, errf(b.ScenesDir, "no scene files found")
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].id < scenes[j].id })
	return scenes, nil
}

type hdriEntry struct {
	name string
	meta AssetMetadata
}

func (b Builder) scanHDRIs() ([]hdriEntry, error) {
	entries, err := os.ReadDir(b.HDRIDir)
	if err != nil {
		return nil, fmt.Errorf("read hdri dir: %w", err)
	}
	var hdris []hdriEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := loadAssetMetadata(b.HDRIDir, e.Name())
		if err != nil {
			return nil, err
		}
		hdris = append(hdris, hdriEntry{name: e.Name(), meta: meta})
	}
	if len(hdris) == 0 {
		return nil, errf(b.HDRIDir, "no HDRI folders found")
	}
	sort.Slice(hdris, func(i, j int) bool { return hdris[i].name < hdris[j].name })
	return hdris, nil
}
