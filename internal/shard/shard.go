// Package shard partitions the catalog across parallel worker processes.
// Assignment is interleaved: shard i owns the tasks at positions p with
// p % count == i. Interleaving balances load even when task cost correlates
// with catalog order (all 8k variants of one HDRI are adjacent), and it is
// stable under catalog growth for a fixed shard count: appended tasks land on
// some shard without moving any existing assignment.
package shard

import (
	"fmt"
	"os"
	"strconv"

	"hdri-render-farm/internal/models"
)

// InvalidShardError reports shard arguments outside 0 <= index < count.
type InvalidShardError struct {
	Index int
	Count int
}

func (e *InvalidShardError) Error() string {
	return fmt.Sprintf("invalid shard: index %d must satisfy 0 <= index < count (count=%d)", e.Index, e.Count)
}

// Validate checks shard arguments.
func Validate(index, count int) error {
	if count < 1 || index < 0 || index >= count {
		return &InvalidShardError{Index: index, Count: count}
	}
	return nil
}

// Partition returns the sub-sequence of tasks assigned to one shard,
// preserving catalog order. The union over all indices for a fixed count is
// the whole catalog, each task exactly once.
func Partition(tasks []models.Task, index, count int) ([]models.Task, error) {
	if err := Validate(index, count); err != nil {
		return nil, err
	}
	assigned := make([]models.Task, 0, (len(tasks)+count-1-index)/count)
	for p := index; p < len(tasks); p += count {
		assigned = append(assigned, tasks[p])
	}
	return assigned, nil
}

// FromEnv infers (index, count) from SLURM array environment variables, for
// workers launched as array jobs without explicit flags. Returns (0, 1) when
// no array is active or the variables are incomplete, matching a single
// standalone worker.
func FromEnv() (index, count int) {
	tid, err := strconv.Atoi(os.Getenv("SLURM_ARRAY_TASK_ID"))
	if err != nil {
		return 0, 1
	}
	min := 0
	if v := os.Getenv("SLURM_ARRAY_TASK_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			min = n
		}
	}
	maxEnv := os.Getenv("SLURM_ARRAY_TASK_MAX")
	if maxEnv == "" {
		// Bounds unknown: treat as a single task rather than guessing.
		return 0, 1
	}
	max, err := strconv.Atoi(maxEnv)
	if err != nil {
		return 0, 1
	}
	step := 1
	if v := os.Getenv("SLURM_ARRAY_TASK_STEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			step = n
		}
	}
	count = (max-min)/step + 1
	index = (tid - min) / step
	if count < 1 || index < 0 || index >= count {
		return 0, 1
	}
	return index, count
}
