// Package kaichi drives the self-improvement loop: propose a task, generate
// code, execute it in the sandbox, critique the outcome, and on success
// distill the program into a named skill.
package kaichi

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/imjszhang/wiseflow/internal/fileutil"
	"github.com/imjszhang/wiseflow/internal/history"
	"github.com/imjszhang/wiseflow/pkg/action"
	"github.com/imjszhang/wiseflow/pkg/critic"
	"github.com/imjszhang/wiseflow/pkg/curriculum"
	"github.com/imjszhang/wiseflow/pkg/sandbox"
	"github.com/imjszhang/wiseflow/pkg/skills"
)

// Config holds orchestrator settings.
type Config struct {
	MaxIterations  int
	MaxRetries     int
	CkptDir        string
	BackoffOnError time.Duration
}

// Result is what Learn returns.
type Result struct {
	SuccessRate     float64 `json:"success_rate"`
	TotalSteps      int     `json:"total_steps"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

// Status is a read-only view for the API surface.
type Status struct {
	CurrentTask  string  `json:"current_task"`
	Iteration    int     `json:"iteration"`
	SuccessCount int     `json:"success_count"`
	FailureCount int     `json:"failure_count"`
	Steps        int     `json:"steps"`
	SuccessRate  float64 `json:"success_rate"`
	Running      bool    `json:"running"`
}

// stepArtifact is the JSON document written beside each executed program.
type stepArtifact struct {
	Task        string        `json:"task"`
	Iteration   int           `json:"iteration"`
	ProgramName string        `json:"program_name"`
	State       sandbox.State `json:"state"`
	Reward      float64       `json:"reward"`
	Success     bool          `json:"success"`
	Critique    string        `json:"critique"`
	Timestamp   string        `json:"timestamp"`
}

// Kaichi owns the agents and drives the reset→step* loop. Exactly one
// rollout is in flight at a time.
type Kaichi struct {
	cfg Config
	log arbor.ILogger

	curriculum *curriculum.Agent
	action     *action.Agent
	critic     *critic.Agent
	skills     *skills.Manager
	runner     *sandbox.Runner
	history    *history.Store // optional

	metrics *Metrics

	mu sync.Mutex
	// per-rollout state
	task            string
	taskContext     string
	iteration       int
	systemMsg       string
	humanMsg        string
	retrievedSkills []string
	cacheKey        string
	stepDir         string
	running         bool
	successCount    int
	failureCount    int
}

// New wires the orchestrator. All agents are owned by the orchestrator;
// they never reference one another directly.
func New(cfg Config, cur *curriculum.Agent, act *action.Agent, cri *critic.Agent, sk *skills.Manager, runner *sandbox.Runner, hist *history.Store, log arbor.ILogger) (*Kaichi, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 160
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BackoffOnError <= 0 {
		cfg.BackoffOnError = 3 * time.Second
	}

	return &Kaichi{
		cfg:        cfg,
		log:        log,
		curriculum: cur,
		action:     act,
		critic:     cri,
		skills:     sk,
		runner:     runner,
		history:    hist,
		metrics:    NewMetrics(),
	}, nil
}

// Reset prepares a new rollout: zeroes the per-task metrics, resets the
// sandbox, allocates the artifact directory, retrieves relevant skills, and
// renders the initial messages.
func (k *Kaichi) Reset(ctx context.Context, task, taskContext string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.log.Info().Str("task", task).Msg("resetting for task")

	k.task = task
	k.taskContext = taskContext
	k.iteration = 0
	k.metrics.Reset()

	if _, err := k.runner.Reset(); err != nil {
		return fmt.Errorf("reset sandbox: %w", err)
	}

	k.stepDir = filepath.Join(k.cfg.CkptDir, "step_logs", time.Now().Format("20060102_150405"))
	if err := fileutil.EnsureDir(k.stepDir); err != nil {
		return fmt.Errorf("create step log dir: %w", err)
	}

	retrieved, err := k.skills.RetrieveSkills(ctx, task)
	if err != nil {
		k.log.Warn().Err(err).Msg("skill retrieval failed, proceeding without")
		retrieved = nil
	}
	k.retrievedSkills = retrieved
	k.cacheKey = action.CacheKey(task, taskContext, retrieved)

	system, err := k.action.RenderSystemMessage(retrieved)
	if err != nil {
		return err
	}
	human, err := k.action.RenderHumanMessage("", task, taskContext, "")
	if err != nil {
		return err
	}
	k.systemMsg = system
	k.humanMsg = human
	return nil
}

// Step runs one generate→execute→validate cycle. The returned program is
// non-nil whenever parsing succeeded, even on failed validation.
func (k *Kaichi) Step(ctx context.Context) (done bool, success bool, program *action.GeneratedProgram, err error) {
	start := time.Now()

	program, state, reward, success, critique, err := k.attempt(ctx)
	elapsed := time.Since(start)

	k.mu.Lock()
	k.iteration++
	iteration := k.iteration
	k.mu.Unlock()

	k.metrics.Update(success, elapsed, answerTokens(program))
	k.writeStepArtifacts(iteration, program, state, reward, success, critique)

	if err != nil {
		// LLM and parse failures consume an iteration and surface upward;
		// the rollout decides whether retries remain.
		return iteration >= k.cfg.MaxRetries, false, nil, err
	}

	if !success {
		if updateErr := k.updateMessages(program, critique); updateErr != nil {
			return true, false, program, updateErr
		}
	}

	done = success || iteration >= k.cfg.MaxRetries
	return done, success, program, nil
}

// attempt produces and validates one program.
func (k *Kaichi) attempt(ctx context.Context) (*action.GeneratedProgram, sandbox.State, float64, bool, string, error) {
	var program *action.GeneratedProgram

	if cached, ok := k.action.CachedProgram(k.cacheKey); ok && k.iteration == 0 {
		k.log.Info().Str("task", k.task).Msg("using cached program")
		program = &cached
	} else {
		answer, err := k.action.GenerateCode(ctx, k.systemMsg, k.humanMsg)
		if err != nil {
			return nil, sandbox.State{}, 0, false, "", err
		}
		program, err = k.action.ProcessAIMessage(ctx, answer)
		if err != nil {
			return nil, sandbox.State{}, 0, false, "", err
		}
	}

	script := BuildScript(program)
	state, reward := k.runner.Step(ctx, script)

	success, critique := k.critic.CheckTaskSuccess(ctx, k.task, k.taskContext, program.ProgramCode, state)
	if success {
		k.action.RememberProgram(k.cacheKey, *program)
	}
	return program, state, reward, success, critique, nil
}

// updateMessages re-renders the human message with the failed attempt and
// its critique so the next step conditions on them.
func (k *Kaichi) updateMessages(program *action.GeneratedProgram, critique string) error {
	code := ""
	if program != nil {
		code = program.ProgramCode
	}
	human, err := k.action.RenderHumanMessage(code, k.task, k.taskContext, critique)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.humanMsg = human
	k.mu.Unlock()
	return nil
}

// Rollout runs reset then steps until success or the iteration cap.
func (k *Kaichi) Rollout(ctx context.Context, task, taskContext string) (bool, *action.GeneratedProgram, error) {
	if err := k.Reset(ctx, task, taskContext); err != nil {
		return false, nil, err
	}

	var runID string
	if k.history != nil {
		runID = history.NewRunID()
		if err := k.history.StartRun(ctx, runID, task); err != nil {
			k.log.Warn().Err(err).Msg("history start failed")
			runID = ""
		}
	}

	var lastProgram *action.GeneratedProgram
	success := false
	for {
		done, stepSuccess, program, err := k.Step(ctx)
		if program != nil {
			lastProgram = program
		}
		if err != nil {
			k.log.Error().Err(err).Int("iteration", k.iteration).Msg("step failed")
		}
		if runID != "" {
			k.recordHistoryStep(ctx, runID, program, stepSuccess)
		}
		if stepSuccess {
			success = true
		}
		if done {
			break
		}
	}

	if runID != "" {
		if err := k.history.FinishRun(ctx, runID, success, k.iteration); err != nil {
			k.log.Warn().Err(err).Msg("history finish failed")
		}
	}

	k.log.Info().Str("task", task).Bool("success", success).Int("iterations", k.iteration).Msg("rollout completed")
	return success, lastProgram, nil
}

// Learn is the top-level loop: obtain a task, execute a rollout, promote
// successes into the skill library, and record progress. Exceptions from
// any agent are caught, logged, and the loop continues after a back-off.
func (k *Kaichi) Learn(ctx context.Context, task string, maxloop int) (Result, error) {
	if maxloop <= 0 {
		maxloop = 1
	}

	k.mu.Lock()
	k.running = true
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		k.running = false
		k.mu.Unlock()
	}()

	for loop := 1; loop <= maxloop; loop++ {
		if err := ctx.Err(); err != nil {
			break
		}

		err := k.learnOnce(ctx, task, loop, maxloop)
		if err != nil {
			k.log.Error().Err(err).Int("loop", loop).Msg("error in learn loop")
			select {
			case <-time.After(k.cfg.BackoffOnError):
			case <-ctx.Done():
			}
		}
	}

	steps, successRate, avgResponse, _ := k.metrics.Snapshot()
	return Result{
		SuccessRate:     successRate,
		TotalSteps:      steps,
		AvgResponseTime: avgResponse,
	}, nil
}

func (k *Kaichi) learnOnce(ctx context.Context, task string, loop, maxloop int) error {
	currentTask := task
	var taskContext string
	var err error

	if currentTask == "" {
		currentTask, taskContext, err = k.curriculum.ProposeNextTask(ctx)
		if err != nil {
			return fmt.Errorf("propose task: %w", err)
		}
	} else {
		taskContext, err = k.curriculum.GetTaskContext(ctx, currentTask)
		if err != nil {
			return fmt.Errorf("task context: %w", err)
		}
	}

	k.log.Info().Str("task", currentTask).Int("loop", loop).Int("maxloop", maxloop).Msg("executing task")

	success, program, err := k.Rollout(ctx, currentTask, taskContext)
	if err != nil {
		return fmt.Errorf("rollout: %w", err)
	}

	// The skill library is updated strictly before the next rollout begins
	// so subsequent retrievals see this success.
	if success && program != nil {
		if err := k.skills.AddNewSkill(ctx, program.ProgramName, program.ProgramCode); err != nil {
			k.noteOutcome(false)
			k.curriculum.Progress().IncrementIteration()
			if updateErr := k.curriculum.UpdateExplorationProgress(currentTask, false); updateErr != nil {
				k.log.Error().Err(updateErr).Msg("progress update failed")
			}
			return fmt.Errorf("add skill: %w", err)
		}
	}

	k.noteOutcome(success)
	k.curriculum.Progress().IncrementIteration()
	if err := k.curriculum.UpdateExplorationProgress(currentTask, success); err != nil {
		return fmt.Errorf("progress update: %w", err)
	}
	return nil
}

func (k *Kaichi) noteOutcome(success bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if success {
		k.successCount++
	} else {
		k.failureCount++
	}
}

func (k *Kaichi) recordHistoryStep(ctx context.Context, runID string, program *action.GeneratedProgram, success bool) {
	step := history.Step{
		RunID:      runID,
		StepNumber: k.iteration,
		Success:    success,
	}
	if program != nil {
		step.ProgramName = program.ProgramName
	}
	if err := k.history.RecordStep(ctx, step); err != nil {
		k.log.Warn().Err(err).Msg("history step failed")
	}
}

// writeStepArtifacts persists the executed code and verdict for offline
// diagnosis; written on success and failure paths alike.
func (k *Kaichi) writeStepArtifacts(iteration int, program *action.GeneratedProgram, state sandbox.State, reward float64, success bool, critique string) {
	if k.stepDir == "" {
		return
	}

	base := filepath.Join(k.stepDir, fmt.Sprintf("step_%03d", iteration))

	code := ""
	programName := ""
	if program != nil {
		code = BuildScript(program)
		programName = program.ProgramName
	}
	if err := fileutil.WriteFile(base+".py", []byte(code)); err != nil {
		k.log.Warn().Err(err).Msg("write step code artifact failed")
	}

	artifact := stepArtifact{
		Task:        k.task,
		Iteration:   iteration,
		ProgramName: programName,
		State:       state,
		Reward:      reward,
		Success:     success,
		Critique:    critique,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	if err := fileutil.WriteJSONAtomic(base+".json", artifact); err != nil {
		k.log.Warn().Err(err).Msg("write step state artifact failed")
	}
}

// Status returns a read-only view of the loop state.
func (k *Kaichi) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()

	steps, successRate, _, _ := k.metrics.Snapshot()
	return Status{
		CurrentTask:  k.task,
		Iteration:    k.iteration,
		SuccessCount: k.successCount,
		FailureCount: k.failureCount,
		Steps:        steps,
		SuccessRate:  successRate,
		Running:      k.running,
	}
}

// Skills exposes the skill manager for read-only consumers (API, MCP).
func (k *Kaichi) Skills() *skills.Manager {
	return k.skills
}

// Curriculum exposes the curriculum agent for read-only consumers.
func (k *Kaichi) Curriculum() *curriculum.Agent {
	return k.curriculum
}

// Close releases the sandbox working directory.
func (k *Kaichi) Close() error {
	return k.runner.Close()
}

// BuildScript turns a generated program into the script the sandbox runs:
// the program followed by an asyncio invocation of its entry.
func BuildScript(program *action.GeneratedProgram) string {
	if program == nil {
		return ""
	}
	return fmt.Sprintf("%s\n\nimport asyncio\nasyncio.run(%s())\n", program.ProgramCode, program.ProgramName)
}

// answerTokens approximates token usage from the program size.
func answerTokens(program *action.GeneratedProgram) int {
	if program == nil {
		return 0
	}
	return len(program.ProgramCode) / 4
}
