package coordinator

import (
	"fmt"
	"sort"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

// assignWaves computes a wave number for every task: a planner-supplied
// WaveID is trusted as-is; otherwise a task's wave is one past the maximum
// wave of its dependencies (a task with no dependencies lands in wave 0).
// A dependency cycle among tasks lacking an explicit WaveID is rejected.
func assignWaves(tasks []model.Task) (map[string]int, error) {
	byID := make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	waves := make(map[string]int, len(tasks))

	var visit func(id string) (int, error)
	visit = func(id string) (int, error) {
		if w, ok := waves[id]; ok {
			return w, nil
		}
		t, ok := byID[id]
		if !ok {
			return 0, fmt.Errorf("task references unknown dependency %q", id)
		}
		if t.WaveID != nil {
			waves[id] = *t.WaveID
			return *t.WaveID, nil
		}
		if color[id] == gray {
			return 0, fmt.Errorf("dependency cycle detected at %q", id)
		}
		color[id] = gray
		max := -1
		for _, dep := range t.Dependencies {
			w, err := visit(dep)
			if err != nil {
				return 0, err
			}
			if w > max {
				max = w
			}
		}
		color[id] = black
		wave := max + 1
		waves[id] = wave
		return wave, nil
	}

	for _, t := range tasks {
		if _, err := visit(t.ID); err != nil {
			return nil, err
		}
	}
	return waves, nil
}

// sortByWave stable-sorts tasks by their assigned wave, ascending.
func sortByWave(tasks []model.Task, waves map[string]int) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return waves[tasks[i].ID] < waves[tasks[j].ID]
	})
}
