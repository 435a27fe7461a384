// Package critic decides whether an executed program satisfied its task.
// Verdicts are cached by (task, code) so identical attempts skip the LLM.
package critic

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/imjszhang/wiseflow/internal/fileutil"
	"github.com/imjszhang/wiseflow/internal/jsonutil"
	"github.com/imjszhang/wiseflow/pkg/cache"
	"github.com/imjszhang/wiseflow/pkg/llm"
	"github.com/imjszhang/wiseflow/pkg/prompts"
	"github.com/imjszhang/wiseflow/pkg/sandbox"
)

// Verdict is a cached critique.
type Verdict struct {
	Success   bool   `json:"success"`
	Critique  string `json:"critique"`
	Timestamp int64  `json:"timestamp"`
}

// Config holds critic settings.
type Config struct {
	CkptDir    string
	Mode       string // auto or manual
	MaxRetries int
	CacheSize  int
	Resume     bool
}

// Agent judges task attempts.
type Agent struct {
	cfg      Config
	provider llm.Provider
	prompts  *prompts.Store
	log      arbor.ILogger

	cache *cache.LRU[Verdict]

	// input answers manual-mode review questions, stdin in production.
	input  *bufio.Reader
	output io.Writer
}

// NewAgent creates a critic agent.
func NewAgent(cfg Config, provider llm.Provider, store *prompts.Store, input io.Reader, output io.Writer, log arbor.ILogger) (*Agent, error) {
	if cfg.Mode == "" {
		cfg.Mode = "auto"
	}
	if cfg.Mode != "auto" && cfg.Mode != "manual" {
		return nil, fmt.Errorf("invalid critic mode %q", cfg.Mode)
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
		cache:    cache.NewLRU[Verdict](cfg.CacheSize),
		input:    bufio.NewReader(input),
		output:   output,
	}

	if err := fileutil.EnsureDir(filepath.Dir(a.cachePath())); err != nil {
		return nil, fmt.Errorf("create critic dir: %w", err)
	}
	if cfg.Resume {
		a.loadCache()
	}
	return a, nil
}

// CheckTaskSuccess judges (task, code, execution state). The verdict is
// cached by (task, code) only, so a repeated attempt returns the cached
// verdict regardless of the new execution state. On LLM or parse failure
// the check retries; when retries are exhausted the failure is returned as
// an unsuccessful verdict, never as an error.
func (a *Agent) CheckTaskSuccess(ctx context.Context, task, taskContext, code string, state sandbox.State) (bool, string) {
	key := cacheKey(task, code)
	if verdict, ok := a.cache.Get(key); ok {
		a.log.Info().Str("task", task).Msg("using cached critic verdict")
		return verdict.Success, verdict.Critique
	}

	if a.cfg.Mode == "manual" {
		success, critique := a.humanCheck(task, taskContext, code)
		a.remember(key, success, critique)
		return success, critique
	}

	retries := a.cfg.MaxRetries
	var lastErr error
	for retries > 0 {
		success, critique, err := a.aiCheck(ctx, task, taskContext, code, state)
		if err == nil {
			a.remember(key, success, critique)
			return success, critique
		}
		lastErr = err
		retries--
		a.log.Warn().Err(err).Int("retries_left", retries).Msg("critic check failed")
	}
	return false, lastErr.Error()
}

func (a *Agent) aiCheck(ctx context.Context, task, taskContext, code string, state sandbox.State) (bool, string, error) {
	system, err := a.prompts.Load("critic/system")
	if err != nil {
		return false, "", err
	}
	human, err := a.prompts.Render("critic/human", map[string]string{
		"task":        task,
		"context":     taskContext,
		"code":        code,
		"output":      state.Output,
		"error":       state.Error,
		"return_code": strconv.Itoa(state.ReturnCode),
	})
	if err != nil {
		return false, "", err
	}

	resp, err := llm.ChatWithRetry(ctx, a.provider, &llm.Request{
		Query:  human,
		User:   "CriticAgent",
		Inputs: map[string]string{"system": system},
	}, 1)
	if err != nil {
		return false, "", err
	}

	var verdict struct {
		Success  bool   `json:"success"`
		Critique string `json:"critique"`
	}
	if err := jsonutil.FixAndParse(resp.Answer, &verdict); err != nil {
		return false, "", fmt.Errorf("critic verdict: %w", err)
	}
	return verdict.Success, verdict.Critique, nil
}

func (a *Agent) humanCheck(task, taskContext, code string) (bool, string) {
	fmt.Fprintf(a.output, "\nTask Review:\nTask: %s\nContext: %s\nCode:\n%s\n", task, taskContext, code)
	fmt.Fprint(a.output, "\nIs implementation successful? (y/n): ")

	line, _ := a.input.ReadString('\n')
	success := strings.TrimSpace(strings.ToLower(line)) == "y"

	fmt.Fprint(a.output, "Enter critique (leave empty if none): ")
	critique, _ := a.input.ReadString('\n')
	return success, strings.TrimSpace(critique)
}

// CheckCodeQuality runs the auxiliary quality pass, independent of any
// execution result.
func (a *Agent) CheckCodeQuality(ctx context.Context, code, requirements string) (map[string]any, error) {
	system, err := a.prompts.Render("critic/code", map[string]string{
		"code":         code,
		"requirements": requirements,
	})
	if err != nil {
		return nil, err
	}

	resp, err := llm.ChatWithRetry(ctx, a.provider, &llm.Request{
		Query:  "Evaluate code quality",
		User:   "CriticAgent",
		Inputs: map[string]string{"system": system},
	}, a.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}

	var analysis map[string]any
	if err := jsonutil.FixAndParse(resp.Answer, &analysis); err != nil {
		return nil, fmt.Errorf("quality analysis: %w", err)
	}
	analysis["timestamp"] = time.Now().Unix()
	return analysis, nil
}

func (a *Agent) remember(key string, success bool, critique string) {
	a.cache.Add(key, Verdict{
		Success:   success,
		Critique:  critique,
		Timestamp: time.Now().Unix(),
	})
	a.saveCache()
}

func (a *Agent) cachePath() string {
	return filepath.Join(a.cfg.CkptDir, "critic", "cache", "critic_cache.json")
}

func (a *Agent) loadCache() {
	data := make(map[string]Verdict)
	if err := fileutil.ReadJSON(a.cachePath(), &data); err != nil {
		a.log.Warn().Err(err).Msg("no previous critic cache loaded")
		return
	}
	for key, verdict := range data {
		a.cache.Add(key, verdict)
	}
}

func (a *Agent) saveCache() {
	data := make(map[string]Verdict)
	for _, key := range a.cache.Keys() {
		if verdict, ok := a.cache.Get(key); ok {
			data[key] = verdict
		}
	}
	if err := fileutil.WriteJSONAtomic(a.cachePath(), data); err != nil {
		a.log.Error().Err(err).Msg("persist critic cache failed")
	}
}

// cacheKey hashes (task, code); the execution state is deliberately not
// part of the key.
func cacheKey(task, code string) string {
	h := sha1.New()
	h.Write([]byte(task))
	h.Write([]byte{0})
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}
