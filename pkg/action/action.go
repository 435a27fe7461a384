// Package action turns a task, its context, and retrieved skills into an
// executable program: it renders the prompts, calls the LLM, parses the
// returned code, and rewrites the entry function to a descriptive name.
package action

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/imjszhang/wiseflow/internal/fileutil"
	"github.com/imjszhang/wiseflow/pkg/cache"
	"github.com/imjszhang/wiseflow/pkg/codeparse"
	"github.com/imjszhang/wiseflow/pkg/llm"
	"github.com/imjszhang/wiseflow/pkg/prompts"
)

// GeneratedProgram is an executable program produced from an LLM response.
// ProgramName identifies the async entry defined in ProgramCode; ExecCode
// invokes it.
type GeneratedProgram struct {
	ProgramCode string `json:"program_code"`
	ProgramName string `json:"program_name"`
	ExecCode    string `json:"exec_code"`
}

// SkillRetriever is the capability the orchestrator passes in so the action
// agent can consult the library without owning it.
type SkillRetriever interface {
	RetrieveSkills(ctx context.Context, query string) ([]string, error)
	GetSkillCode(name string) (string, bool)
	ListSkills() []string
}

// Config holds action agent settings.
type Config struct {
	CkptDir       string
	MaxRetries    int
	CacheSize     int
	Temperature   float64
	Resume        bool
	GenerateModel string
	RewriteModel  string
}

// defaultBaseSkills are helpers the model may call without disclosure in
// the library. Injectable so tests can substitute a virtual filesystem.
var defaultBaseSkills = []string{
	`async def read_file(path):
    """Read a text file and return its contents."""
    with open(path, "r", encoding="utf-8") as f:
        return f.read()`,
	`async def write_file(path, content):
    """Write text content to a file, creating parent directories."""
    import os
    os.makedirs(os.path.dirname(path) or ".", exist_ok=True)
    with open(path, "w", encoding="utf-8") as f:
        f.write(content)`,
}

// Agent generates programs.
type Agent struct {
	cfg       Config
	provider  llm.Provider
	prompts   *prompts.Store
	parser    *codeparse.Parser
	retriever SkillRetriever
	log       arbor.ILogger

	baseSkills []string
	cache      *cache.LRU[GeneratedProgram]
}

// NewAgent creates an action agent.
func NewAgent(cfg Config, provider llm.Provider, store *prompts.Store, retriever SkillRetriever, log arbor.ILogger) (*Agent, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100
	}

	a := &Agent{
		cfg:        cfg,
		provider:   provider,
		prompts:    store,
		parser:     codeparse.NewParser(),
		retriever:  retriever,
		log:        log,
		baseSkills: defaultBaseSkills,
		cache:      cache.NewLRU[GeneratedProgram](cfg.CacheSize),
	}

	if cfg.CkptDir != "" {
		if err := fileutil.EnsureDir(filepath.Join(cfg.CkptDir, "action", "cache")); err != nil {
			return nil, fmt.Errorf("create action dir: %w", err)
		}
	}
	return a, nil
}

// SetBaseSkills replaces the injected helper functions.
func (a *Agent) SetBaseSkills(skills []string) {
	a.baseSkills = skills
}

// RenderSystemMessage renders the system prompt with base skills always
// prefixed and retrieved skills substituted into the skills placeholder.
func (a *Agent) RenderSystemMessage(skills []string) (string, error) {
	skillText := strings.Join(skills, "\n\n")
	if skillText == "" {
		skillText = "(none yet)"
	}
	return a.prompts.Render("action/system", map[string]string{
		"base_skills": strings.Join(a.baseSkills, "\n\n"),
		"skills":      skillText,
	})
}

// RenderHumanMessage renders the human prompt for one attempt.
func (a *Agent) RenderHumanMessage(code, task, taskContext, critique string) (string, error) {
	return a.prompts.Render("action/human", map[string]string{
		"code":     orEmpty(code, "(first attempt)"),
		"task":     task,
		"context":  taskContext,
		"critique": orEmpty(critique, "(none)"),
	})
}

// GenerateCode sends the rendered messages to the LLM and returns the raw
// answer containing fenced code blocks.
func (a *Agent) GenerateCode(ctx context.Context, system, human string) (string, error) {
	resp, err := llm.ChatWithRetry(ctx, a.provider, &llm.Request{
		Query:       human,
		User:        "ActionAgent",
		Inputs:      map[string]string{"system": system},
		Model:       a.cfg.GenerateModel,
		Temperature: a.cfg.Temperature,
	}, a.cfg.MaxRetries)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return resp.Answer, nil
}

// ProcessAIMessage parses the joined fenced blocks of an LLM message,
// selects the last async function as the entry, asks the LLM for a
// descriptive name, and rewrites the entry to it.
func (a *Agent) ProcessAIMessage(ctx context.Context, message string) (*GeneratedProgram, error) {
	code, err := extractCodeBlocks(message)
	if err != nil {
		return nil, err
	}

	entry, err := findEntryFunction(a.parser, code)
	if err != nil {
		return nil, err
	}

	newName, err := a.proposeEntryName(ctx, code, entry.Name)
	if err != nil {
		return nil, err
	}

	renamed := renameFunction(code, entry.Name, newName)
	return &GeneratedProgram{
		ProgramCode: renamed,
		ProgramName: newName,
		ExecCode:    fmt.Sprintf("await %s()", newName),
	}, nil
}

// proposeEntryName asks the LLM for a descriptive entry name, retrying on
// call or extraction failure until the retry budget is spent.
func (a *Agent) proposeEntryName(ctx context.Context, code, oldName string) (string, error) {
	system, err := a.prompts.Render("action/code", map[string]string{
		"code": code,
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxRetries; attempt++ {
		resp, err := llm.ChatWithRetry(ctx, a.provider, &llm.Request{
			Query:  "Name the entry function.",
			User:   "ActionAgent",
			Inputs: map[string]string{"system": system},
			Model:  a.cfg.RewriteModel,
		}, 1)
		if err != nil {
			lastErr = err
			continue
		}
		name, err := extractNewName(resp.Answer)
		if err != nil {
			lastErr = err
			a.log.Warn().Err(err).Msg("rename extraction failed, retrying")
			continue
		}
		return name, nil
	}
	return "", fmt.Errorf("propose entry name for %s: %w", oldName, lastErr)
}

// CacheKey hashes the generation inputs.
func CacheKey(task, taskContext string, skills []string) string {
	h := sha1.New()
	h.Write([]byte(task))
	h.Write([]byte{0})
	h.Write([]byte(taskContext))
	for _, s := range skills {
		h.Write([]byte{0})
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CachedProgram returns the last successful program generated for the key.
func (a *Agent) CachedProgram(key string) (GeneratedProgram, bool) {
	return a.cache.Get(key)
}

// RememberProgram stores a successful program under the key.
func (a *Agent) RememberProgram(key string, program GeneratedProgram) {
	a.cache.Add(key, program)
}

// SearchSkills delegates to the skill retriever.
func (a *Agent) SearchSkills(ctx context.Context, query string) ([]string, error) {
	if a.retriever == nil {
		return nil, nil
	}
	return a.retriever.RetrieveSkills(ctx, query)
}

// GetSkill delegates to the skill retriever.
func (a *Agent) GetSkill(name string) (string, bool) {
	if a.retriever == nil {
		return "", false
	}
	return a.retriever.GetSkillCode(name)
}

// ListSkills delegates to the skill retriever.
func (a *Agent) ListSkills() []string {
	if a.retriever == nil {
		return nil
	}
	return a.retriever.ListSkills()
}

func orEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
