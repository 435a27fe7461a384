// Package curriculum decides what the agent should learn next and prepares
// the context the action agent conditions on.
package curriculum

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/imjszhang/wiseflow/internal/fileutil"
	"github.com/imjszhang/wiseflow/internal/jsonutil"
	"github.com/imjszhang/wiseflow/pkg/llm"
	"github.com/imjszhang/wiseflow/pkg/observer"
	"github.com/imjszhang/wiseflow/pkg/prompts"
)

// qaPairPattern matches "Question N: ... / Concept N: ..." lines from the
// QA step 1 answer.
var qaPairPattern = regexp.MustCompile(`Question (\d+): (.+)\nConcept \d+: (.+)`)

// Config holds curriculum settings.
type Config struct {
	CkptDir    string
	Mode       string // auto or manual
	MaxRetries int
	CacheSize  int
	Resume     bool
}

// Agent proposes tasks and assembles their context.
type Agent struct {
	cfg      Config
	provider llm.Provider
	prompts  *prompts.Store
	log      arbor.ILogger

	progress *TaskProgress
	qa       *QAManager

	// snapshot supplies the current project observation; refreshed by the
	// orchestrator when watch mode re-observes.
	snapshot func() *observer.Snapshot

	// input is the manual-mode task source, stdin in production.
	input *bufio.Reader
}

// NewAgent creates a curriculum agent. snapshot may return nil when no
// observation exists yet.
func NewAgent(cfg Config, provider llm.Provider, store *prompts.Store, snapshot func() *observer.Snapshot, input io.Reader, log arbor.ILogger) (*Agent, error) {
	if cfg.Mode == "" {
		cfg.Mode = "auto"
	}
	if cfg.Mode != "auto" && cfg.Mode != "manual" {
		return nil, fmt.Errorf("invalid curriculum mode %q", cfg.Mode)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100
	}

	a := &Agent{
		cfg:      cfg,
		provider: provider,
		prompts:  store,
		log:      log,
		progress: NewTaskProgress(),
		qa:       NewQAManager(cfg.CacheSize),
		snapshot: snapshot,
		input:    bufio.NewReader(input),
	}

	if err := fileutil.EnsureDir(a.baseDir()); err != nil {
		return nil, fmt.Errorf("create curriculum dir: %w", err)
	}

	if cfg.Resume {
		a.loadState()
	}
	return a, nil
}

// Progress exposes the progress record for read-only consumers.
func (a *Agent) Progress() *TaskProgress {
	return a.progress
}

// ProposeNextTask returns the next task and its context. In auto mode the
// task comes from the LLM; in manual mode it is read interactively.
func (a *Agent) ProposeNextTask(ctx context.Context) (string, string, error) {
	if a.cfg.Mode == "manual" {
		return a.proposeManualTask(ctx)
	}
	return a.proposeAITask(ctx, a.cfg.MaxRetries)
}

func (a *Agent) proposeAITask(ctx context.Context, retries int) (string, string, error) {
	if retries <= 0 {
		return "", "", fmt.Errorf("task proposal: max retries reached")
	}

	completed, failed, iterations, successRate := a.progress.Snapshot()
	system, err := a.prompts.Render("curriculum/task_proposal", map[string]string{
		"completed_tasks": orNone(strings.Join(completed, ", ")),
		"failed_tasks":    orNone(strings.Join(failed, ", ")),
		"iteration_count": fmt.Sprintf("%d", iterations),
		"success_rate":    fmt.Sprintf("%.2f", successRate),
		"snapshot":        a.formatSnapshot(),
	})
	if err != nil {
		return "", "", err
	}

	resp, err := llm.ChatWithRetry(ctx, a.provider, &llm.Request{
		Query:  "Based on the current progress and context, propose the next task.",
		User:   "CurriculumAgent",
		Inputs: map[string]string{"system": system},
	}, 1)
	if err != nil {
		a.log.Warn().Err(err).Msg("task proposal call failed, retrying")
		return a.proposeAITask(ctx, retries-1)
	}

	var proposal struct {
		NextTask string `json:"next_task"`
	}
	if err := jsonutil.FixAndParse(resp.Answer, &proposal); err != nil {
		a.log.Warn().Err(err).Str("answer", resp.Answer).Msg("unparseable task proposal, retrying")
		return a.proposeAITask(ctx, retries-1)
	}
	if proposal.NextTask == "" {
		a.log.Warn().Msg("task proposal missing next_task, retrying")
		return a.proposeAITask(ctx, retries-1)
	}

	taskContext, err := a.GetTaskContext(ctx, proposal.NextTask)
	if err != nil {
		return "", "", err
	}
	return proposal.NextTask, taskContext, nil
}

func (a *Agent) proposeManualTask(ctx context.Context) (string, string, error) {
	fmt.Print("Enter next task: ")
	line, err := a.input.ReadString('\n')
	if err != nil && line == "" {
		return "", "", fmt.Errorf("read manual task: %w", err)
	}
	task := strings.TrimSpace(line)
	if task == "" {
		return "", "", fmt.Errorf("empty manual task")
	}

	taskContext, err := a.GetTaskContext(ctx, task)
	if err != nil {
		return "", "", err
	}
	return task, taskContext, nil
}

// GetTaskContext combines a restatement of the task, the rendered project
// snapshot, and the QA pairs generated for it.
func (a *Agent) GetTaskContext(ctx context.Context, task string) (string, error) {
	if pair, ok := a.qa.GetPair(task); ok && pair.Answer != "" {
		return a.formatContext(task, []*QAPair{pair}), nil
	}

	questions, concepts, err := a.runQAStep1(ctx, task)
	if err != nil {
		a.log.Warn().Err(err).Msg("qa step 1 failed, using snapshot-only context")
	}
	for i := range questions {
		a.qa.AddPair(questions[i], concepts[i])
	}

	answers := a.runQAStep2(ctx, questions)
	for i, answer := range answers {
		if answer != "" {
			a.qa.UpdateAnswer(questions[i], answer)
		}
	}

	pairs := make([]*QAPair, 0, len(questions))
	for _, q := range questions {
		if pair, ok := a.qa.GetPair(q); ok {
			pairs = append(pairs, pair)
		}
	}

	a.saveState()
	return a.formatContext(task, pairs), nil
}

// runQAStep1 asks for question/concept pairs about the task.
func (a *Agent) runQAStep1(ctx context.Context, task string) ([]string, []string, error) {
	system, err := a.prompts.Render("curriculum/qa_step1", map[string]string{
		"task": task,
	})
	if err != nil {
		return nil, nil, err
	}

	resp, err := llm.ChatWithRetry(ctx, a.provider, &llm.Request{
		Query:  "Source Material:\n" + a.formatSnapshot(),
		User:   "CurriculumAgent",
		Inputs: map[string]string{"system": system},
	}, a.cfg.MaxRetries)
	if err != nil {
		return nil, nil, err
	}

	matches := qaPairPattern.FindAllStringSubmatch(resp.Answer, -1)
	if len(matches) == 0 {
		a.log.Warn().Msg("no question-concept pairs in qa step 1 answer")
		return nil, nil, nil
	}

	questions := make([]string, 0, len(matches))
	concepts := make([]string, 0, len(matches))
	for _, m := range matches {
		questions = append(questions, strings.TrimSpace(m[2]))
		concepts = append(concepts, strings.TrimSpace(m[3]))
	}
	return questions, concepts, nil
}

// runQAStep2 answers each question; failures leave an empty answer.
func (a *Agent) runQAStep2(ctx context.Context, questions []string) []string {
	answers := make([]string, len(questions))
	if len(questions) == 0 {
		return answers
	}

	system, err := a.prompts.Load("curriculum/qa_step2")
	if err != nil {
		return answers
	}

	for i, question := range questions {
		resp, err := llm.ChatWithRetry(ctx, a.provider, &llm.Request{
			Query:  fmt.Sprintf("Question:\n%s\n\nSource Material:\n%s", question, a.formatSnapshot()),
			User:   "CurriculumAgent",
			Inputs: map[string]string{"system": system},
		}, 1)
		if err != nil {
			a.log.Warn().Err(err).Str("question", question).Msg("qa step 2 failed")
			continue
		}
		answers[i] = resp.Answer
	}
	return answers
}

// UpdateExplorationProgress records the terminal state of a task and
// persists the progress record.
func (a *Agent) UpdateExplorationProgress(task string, success bool) error {
	if success {
		a.log.Info().Str("task", task).Msg("task completed")
		a.progress.AddCompletedTask(task)
	} else {
		a.log.Info().Str("task", task).Msg("task failed")
		a.progress.AddFailedTask(task)
	}
	return a.saveState()
}

func (a *Agent) formatContext(task string, pairs []*QAPair) string {
	var sb strings.Builder
	sb.WriteString("Task: ")
	sb.WriteString(task)
	sb.WriteString("\n\nProject observation:\n")
	sb.WriteString(a.formatSnapshot())

	answered := 0
	for _, pair := range pairs {
		if pair.Answer != "" {
			answered++
		}
	}
	if len(pairs) > 0 {
		sb.WriteString("\nKey Concepts:\n")
		for _, pair := range pairs {
			sb.WriteString("- ")
			sb.WriteString(pair.Concept)
			sb.WriteString("\n")
		}
	}
	if answered > 0 {
		sb.WriteString("\nTechnical Q&A:\n")
		for _, pair := range pairs {
			if pair.Answer == "" {
				continue
			}
			sb.WriteString("\nQuestion:\n")
			sb.WriteString(pair.Question)
			sb.WriteString("\nAnswer:\n")
			sb.WriteString(pair.Answer)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (a *Agent) formatSnapshot() string {
	if a.snapshot == nil {
		return "(no project observation available)"
	}
	snap := a.snapshot()
	if snap == nil {
		return "(no project observation available)"
	}
	return snap.Format(2000)
}

func (a *Agent) baseDir() string {
	return filepath.Join(a.cfg.CkptDir, "curriculum")
}

func (a *Agent) progressPath() string {
	return filepath.Join(a.baseDir(), "progress.json")
}

func (a *Agent) qaPath() string {
	return filepath.Join(a.baseDir(), "qa_pairs.json")
}

func (a *Agent) loadState() {
	progress := NewTaskProgress()
	if err := fileutil.ReadJSON(a.progressPath(), progress); err == nil {
		a.progress = progress
	} else {
		a.log.Warn().Err(err).Msg("no previous progress loaded")
	}

	pairs := make(map[string]*QAPair)
	if err := fileutil.ReadJSON(a.qaPath(), &pairs); err == nil {
		a.qa.LoadMap(pairs)
	}
}

func (a *Agent) saveState() error {
	if err := fileutil.WriteJSONAtomic(a.progressPath(), a.progress); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	if err := fileutil.WriteJSONAtomic(a.qaPath(), a.qa.ToMap()); err != nil {
		return fmt.Errorf("persist qa pairs: %w", err)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
