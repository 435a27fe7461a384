package curriculum

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imjszhang/wiseflow/internal/logger"
	"github.com/imjszhang/wiseflow/pkg/llm"
	"github.com/imjszhang/wiseflow/pkg/observer"
	"github.com/imjszhang/wiseflow/pkg/prompts"
)

// queueProvider returns scripted answers in order, repeating the last one.
type queueProvider struct {
	answers []string
	calls   int
}

func (p *queueProvider) Name() string { return "queue" }

func (p *queueProvider) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	idx := p.calls
	if idx >= len(p.answers) {
		idx = len(p.answers) - 1
	}
	p.calls++
	return &llm.Response{Answer: p.answers[idx]}, nil
}

func newCurriculum(t *testing.T, provider llm.Provider) *Agent {
	t.Helper()
	snap := &observer.Snapshot{
		DirectoryStructure: []string{"main.py"},
		KeyFiles:           map[string]*string{},
	}
	a, err := NewAgent(Config{
		CkptDir:    t.TempDir(),
		Mode:       "auto",
		MaxRetries: 3,
	}, provider, prompts.NewStore(""), func() *observer.Snapshot { return snap }, strings.NewReader(""), logger.GetLogger())
	require.NoError(t, err)
	return a
}

func TestProposeNextTaskExtractsFromMarkdown(t *testing.T) {
	provider := &queueProvider{answers: []string{
		"```json\n{\"next_task\":\"do X\"}\n```",
		"Question 1: What is X?\nConcept 1: X basics",
		"X is the thing.",
	}}
	a := newCurriculum(t, provider)

	task, taskContext, err := a.ProposeNextTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "do X", task)
	assert.Contains(t, taskContext, "Task: do X")
	assert.Contains(t, taskContext, "X basics")
	assert.Contains(t, taskContext, "X is the thing.")
}

func TestProposeNextTaskRetriesOnBadJSON(t *testing.T) {
	provider := &queueProvider{answers: []string{
		"no json here",
		`{"wrong_key": "v"}`,
		`{"next_task": "recovered"}`,
		"Question 1: Q?\nConcept 1: C",
		"A.",
	}}
	a := newCurriculum(t, provider)

	task, _, err := a.ProposeNextTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", task)
}

func TestProposeNextTaskExhaustsRetries(t *testing.T) {
	provider := &queueProvider{answers: []string{"still not json"}}
	a := newCurriculum(t, provider)

	_, _, err := a.ProposeNextTask(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
}

func TestUpdateExplorationProgressExclusivity(t *testing.T) {
	a := newCurriculum(t, &queueProvider{answers: []string{"x"}})

	require.NoError(t, a.UpdateExplorationProgress("task-1", false))
	completed, failed := a.Progress().Status("task-1")
	assert.False(t, completed)
	assert.True(t, failed)

	// Completion supersedes the earlier failure.
	require.NoError(t, a.UpdateExplorationProgress("task-1", true))
	completed, failed = a.Progress().Status("task-1")
	assert.True(t, completed)
	assert.False(t, failed)

	// A later failure never moves a completed task back.
	require.NoError(t, a.UpdateExplorationProgress("task-1", false))
	completed, failed = a.Progress().Status("task-1")
	assert.True(t, completed)
	assert.False(t, failed)
}

func TestTaskProgressRoundTrip(t *testing.T) {
	p := NewTaskProgress()
	p.AddCompletedTask("a")
	p.AddFailedTask("b")
	p.IncrementIteration()
	p.IncrementIteration()

	data, err := json.Marshal(p)
	require.NoError(t, err)

	restored := NewTaskProgress()
	require.NoError(t, json.Unmarshal(data, restored))

	assert.Equal(t, p.CompletedTasks, restored.CompletedTasks)
	assert.Equal(t, p.FailedTasks, restored.FailedTasks)
	assert.Equal(t, p.IterationCount, restored.IterationCount)
	assert.Equal(t, p.SuccessCount, restored.SuccessCount)
	assert.Equal(t, p.FailureCount, restored.FailureCount)
	assert.Equal(t, p.LastUpdated, restored.LastUpdated)
}

func TestSuccessRate(t *testing.T) {
	p := NewTaskProgress()
	assert.Equal(t, 0.0, p.SuccessRate())

	p.AddCompletedTask("a")
	p.AddCompletedTask("b")
	p.AddFailedTask("c")
	assert.InDelta(t, 2.0/3.0, p.SuccessRate(), 1e-9)
}

func TestGetTaskContextReusesAnsweredPairs(t *testing.T) {
	provider := &queueProvider{answers: []string{
		"Question 1: Q?\nConcept 1: C",
		"the answer",
	}}
	a := newCurriculum(t, provider)

	_, err := a.GetTaskContext(context.Background(), "learn the layout")
	require.NoError(t, err)
	callsAfterFirst := provider.calls

	// The second request for the same question set generates fresh QA for
	// the task key; seed the cache with the task itself to hit reuse.
	a.qa.AddPair("cached task", "layout")
	a.qa.UpdateAnswer("cached task", "known answer")

	ctx, err := a.GetTaskContext(context.Background(), "cached task")
	require.NoError(t, err)
	assert.Contains(t, ctx, "known answer")
	assert.Equal(t, callsAfterFirst, provider.calls, "no LLM calls for cached context")
}
