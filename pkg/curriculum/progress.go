package curriculum

import (
	"sync"
	"time"
)

// TaskProgress tracks completed and failed tasks. The two sets are mutually
// exclusive and completion supersedes any earlier failure permanently.
type TaskProgress struct {
	mu sync.Mutex

	CompletedTasks []string         `json:"completed_tasks"`
	FailedTasks    []string         `json:"failed_tasks"`
	LastUpdated    map[string]int64 `json:"last_updated"`
	IterationCount int              `json:"iteration_count"`
	SuccessCount   int              `json:"success_count"`
	FailureCount   int              `json:"failure_count"`
}

// NewTaskProgress creates an empty progress record.
func NewTaskProgress() *TaskProgress {
	return &TaskProgress{
		CompletedTasks: []string{},
		FailedTasks:    []string{},
		LastUpdated:    make(map[string]int64),
	}
}

// AddCompletedTask records a success. A task previously marked failed is
// moved out of the failed set.
func (p *TaskProgress) AddCompletedTask(task string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !contains(p.CompletedTasks, task) {
		p.CompletedTasks = append(p.CompletedTasks, task)
		p.LastUpdated[task] = time.Now().Unix()
		p.SuccessCount++
	}
	p.FailedTasks = remove(p.FailedTasks, task)
}

// AddFailedTask records a failure unless the task already completed.
func (p *TaskProgress) AddFailedTask(task string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if contains(p.CompletedTasks, task) || contains(p.FailedTasks, task) {
		return
	}
	p.FailedTasks = append(p.FailedTasks, task)
	p.LastUpdated[task] = time.Now().Unix()
	p.FailureCount++
}

// IncrementIteration bumps the iteration counter.
func (p *TaskProgress) IncrementIteration() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.IterationCount++
}

// SuccessRate returns successes over attempts, 0 when nothing was attempted.
func (p *TaskProgress) SuccessRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(total)
}

// Status reports where a task stands.
func (p *TaskProgress) Status(task string) (completed, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return contains(p.CompletedTasks, task), contains(p.FailedTasks, task)
}

// Snapshot returns copies of the task lists for rendering.
func (p *TaskProgress) Snapshot() (completed, failed []string, iterations int, successRate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	completed = append([]string(nil), p.CompletedTasks...)
	failed = append([]string(nil), p.FailedTasks...)
	iterations = p.IterationCount
	total := p.SuccessCount + p.FailureCount
	if total > 0 {
		successRate = float64(p.SuccessCount) / float64(total)
	}
	return
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, item := range list {
		if item != s {
			out = append(out, item)
		}
	}
	return out
}
