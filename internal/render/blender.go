// Package render invokes the external Blender process for one task. The core
// treats it as opaque: only the exit code matters here, and artifact
// validation happens separately in the runner.
package render

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"hdri-render-farm/internal/models"
	"hdri-render-farm/internal/plan"
)

// Renderer produces the artifact for a task, or an error on non-zero exit.
// Implementations must respect context cancellation by killing the subprocess.
type Renderer interface {
	Render(ctx context.Context, task models.Task) error
}

// BlenderRenderer shells out to Blender in background mode, running the
// render script with the task parameters after the "--" separator.
type BlenderRenderer struct {
	BlenderPath string
	ScriptPath  string
	Settings    plan.Settings
}

func NewBlenderRenderer(blenderPath, scriptPath string, settings plan.Settings) *BlenderRenderer {
	return &BlenderRenderer{BlenderPath: blenderPath, ScriptPath: scriptPath, Settings: settings}
}

// Render launches one Blender process and waits for it to exit. Cancelling
// the context kills the process, which is how the runner enforces the render
// timeout.
func (r *BlenderRenderer) Render(ctx context.Context, task models.Task) error {
	if err := os.MkdirAll(filepath.Dir(task.OutputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	args := []string{
		task.ScenePath,
		"--background",
		"--python", r.ScriptPath,
		"--",
		"--hdri", task.HDRIPath,
		"--camera", task.CameraID,
		"--resolution", task.Resolution,
		"--format", task.Format,
		"--output", task.OutputPath,
		"--samples", strconv.Itoa(r.Settings.Samples),
		"--hdri-strength", strconv.FormatFloat(r.Settings.HDRIStrength, 'f', -1, 64),
		"--hdri-rotation", strconv.FormatFloat(r.Settings.HDRIRotationDeg, 'f', -1, 64),
	}
	if r.Settings.Denoise {
		args = append(args, "--denoise")
	}

	cmd := exec.CommandContext(ctx, r.BlenderPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	log.Printf("render %s: launching blender for %s/%s/%s", shortID(task.ID), task.SceneID, task.HDRIName, task.CameraID)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start blender: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go streamOutput(&wg, stdout, "blender")
	go streamOutput(&wg, stderr, "blender!")
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("blender exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("blender: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func streamOutput(wg *sync.WaitGroup, pipe io.Reader, prefix string) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		log.Printf("[%s] %s", prefix, scanner.Text())
	}
}
