package models

// Task is the unit of render work: one scene lit by one HDRI variant,
// captured from one camera. Identity is fully determined by the five
// semantic fields; ID and OutputPath are derived from them and never
// from catalog position.
type Task struct {
	ID         string `json:"task_id"`
	SceneID    string `json:"scene_id"`
	ScenePath  string `json:"scene_path"`
	HDRIName   string `json:"hdri_name"`
	HDRIPath   string `json:"hdri_path"`
	CameraID   string `json:"camera_id"`
	Resolution string `json:"resolution"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
}
