package shard

import (
	"errors"
	"fmt"
	"testing"

	"hdri-render-farm/internal/models"
)

func makeTasks(n int) []models.Task {
	tasks := make([]models.Task, n)
	for i := range tasks {
		tasks[i] = models.Task{ID: fmt.Sprintf("task-%03d", i)}
	}
	return tasks
}

func TestPartitionIsExactCover(t *testing.T) {
	tasks := makeTasks(37)
	for _, count := range []int{1, 2, 3, 4, 5, 11, 37, 50} {
		seen := make(map[string]int)
		for index := 0; index < count; index++ {
			part, err := Partition(tasks, index, count)
			if err != nil {
				t.Fatalf("partition %d/%d: %v", index, count, err)
			}
			for _, task := range part {
				seen[task.ID]++
			}
		}
		if len(seen) != len(tasks) {
			t.Fatalf("count=%d: union covers %d of %d tasks", count, len(seen), len(tasks))
		}
		for id, n := range seen {
			if n != 1 {
				t.Fatalf("count=%d: task %s assigned %d times", count, id, n)
			}
		}
	}
}

func TestPartitionInterleaving(t *testing.T) {
	tasks := makeTasks(10)
	want := [][]int{
		{0, 4, 8},
		{1, 5, 9},
		{2, 6},
		{3, 7},
	}
	for index, positions := range want {
		part, err := Partition(tasks, index, 4)
		if err != nil {
			t.Fatalf("partition: %v", err)
		}
		if len(part) != len(positions) {
			t.Fatalf("shard %d: expected %d tasks, got %d", index, len(positions), len(part))
		}
		for i, p := range positions {
			if part[i].ID != tasks[p].ID {
				t.Fatalf("shard %d position %d: expected catalog index %d", index, i, p)
			}
		}
	}
}

func TestPartitionStableUnderGrowth(t *testing.T) {
	small := makeTasks(10)
	grown := makeTasks(17) // same prefix, 7 appended

	for index := 0; index < 4; index++ {
		before, _ := Partition(small, index, 4)
		after, _ := Partition(grown, index, 4)
		for i, task := range before {
			if after[i].ID != task.ID {
				t.Fatalf("shard %d: growth moved task %s", index, task.ID)
			}
		}
	}
}

func TestPartitionInvalidArgs(t *testing.T) {
	tasks := makeTasks(3)
	cases := []struct{ index, count int }{
		{-1, 4},
		{4, 4},
		{7, 4},
		{0, 0},
		{0, -1},
	}
	for _, c := range cases {
		_, err := Partition(tasks, c.index, c.count)
		var invalid *InvalidShardError
		if !errors.As(err, &invalid) {
			t.Fatalf("index=%d count=%d: expected InvalidShardError, got %v", c.index, c.count, err)
		}
	}
}

func TestFromEnvNoArray(t *testing.T) {
	t.Setenv("SLURM_ARRAY_TASK_ID", "")
	index, count := FromEnv()
	if index != 0 || count != 1 {
		t.Fatalf("expected single shard, got %d/%d", index, count)
	}
}

func TestFromEnvArray(t *testing.T) {
	t.Setenv("SLURM_ARRAY_TASK_ID", "5")
	t.Setenv("SLURM_ARRAY_TASK_MIN", "0")
	t.Setenv("SLURM_ARRAY_TASK_MAX", "9")
	index, count := FromEnv()
	if index != 5 || count != 10 {
		t.Fatalf("expected 5/10, got %d/%d", index, count)
	}
}

func TestFromEnvArrayWithStep(t *testing.T) {
	t.Setenv("SLURM_ARRAY_TASK_ID", "6")
	t.Setenv("SLURM_ARRAY_TASK_MIN", "2")
	t.Setenv("SLURM_ARRAY_TASK_MAX", "10")
	t.Setenv("SLURM_ARRAY_TASK_STEP", "2")
	index, count := FromEnv()
	if index != 2 || count != 5 {
		t.Fatalf("expected 2/5, got %d/%d", index, count)
	}
}

func TestFromEnvMissingBounds(t *testing.T) {
	t.Setenv("SLURM_ARRAY_TASK_ID", "3")
	t.Setenv("SLURM_ARRAY_TASK_MIN", "")
	t.Setenv("SLURM_ARRAY_TASK_MAX", "")
	index, count := FromEnv()
	if index != 0 || count != 1 {
		t.Fatalf("expected single-shard fallback, got %d/%d", index, count)
	}
}
