package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/imjszhang/wiseflow/internal/config"
	"github.com/imjszhang/wiseflow/internal/history"
	"github.com/imjszhang/wiseflow/internal/logger"
	"github.com/imjszhang/wiseflow/pkg/action"
	"github.com/imjszhang/wiseflow/pkg/critic"
	"github.com/imjszhang/wiseflow/pkg/curriculum"
	"github.com/imjszhang/wiseflow/pkg/kaichi"
	"github.com/imjszhang/wiseflow/pkg/llm"
	"github.com/imjszhang/wiseflow/pkg/observer"
	"github.com/imjszhang/wiseflow/pkg/prompts"
	"github.com/imjszhang/wiseflow/pkg/sandbox"
	"github.com/imjszhang/wiseflow/pkg/skills"
	"github.com/imjszhang/wiseflow/pkg/vectordb"
)

// runtime bundles everything a command needs after bootstrap.
type runtime struct {
	cfg     *config.Config
	log     arbor.ILogger
	agent   *kaichi.Kaichi
	watcher *observer.Watcher
	history *history.Store
}

// close releases runtime resources in reverse construction order.
func (rt *runtime) close() {
	if rt.watcher != nil {
		_ = rt.watcher.Stop()
	}
	if rt.agent != nil {
		_ = rt.agent.Close()
	}
	if rt.history != nil {
		_ = rt.history.Close()
	}
	logger.Stop()
}

// newProvider selects the LLM backend from configuration.
func newProvider(cfg *config.Config) (llm.Provider, error) {
	timeout := time.Duration(cfg.LLM.RequestTimeout) * time.Second
	switch cfg.LLM.Provider {
	case "dify":
		if cfg.Dify.APIBase == "" || cfg.Dify.APIKey == "" {
			return nil, fmt.Errorf("dify provider requires DIFY_API_BASE and DIFY_API_KEY")
		}
		return llm.NewDifyProvider(cfg.Dify.APIBase, cfg.Dify.APIKey, timeout), nil
	case "openai":
		if cfg.LLM.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY")
		}
		return llm.NewOpenAIProvider(cfg.LLM.OpenAIBaseURL, cfg.LLM.OpenAIAPIKey, cfg.LLM.GetInfoModel, timeout), nil
	case "gemini":
		return llm.NewGeminiProvider(cfg.LLM.GeminiAPIKey, cfg.LLM.GetInfoModel, timeout)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// newDataset prefers the Dify datasets API and falls back to the embedded
// local dataset when no credentials are configured.
func newDataset(cfg *config.Config) (vectordb.Dataset, error) {
	if cfg.Dify.APIBase != "" && cfg.Dify.DatasetsAPIKey != "" {
		return vectordb.NewDifyDataset(cfg.Dify.APIBase, cfg.Dify.DatasetsAPIKey,
			cfg.Skills.DatasetName, cfg.Dify.DatasetsID), nil
	}
	return vectordb.NewLocalDataset(cfg.Skills.DatasetName, cfg.CkptPath("skill", "index"))
}

// bootstrap builds the full agent stack from configuration.
func bootstrap(ctx context.Context, cfg *config.Config) (*runtime, error) {
	log := logger.Setup(cfg)
	rt := &runtime{cfg: cfg, log: log}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	store := prompts.NewStore(cfg.Agent.PromptDir)

	obsTarget := cfg.CkptPath("observation")
	obs, err := observer.New(cfg.Agent.ObservationDir, obsTarget)
	if err != nil {
		return nil, fmt.Errorf("create observer: %w", err)
	}
	obs.SetLogHeadLines(cfg.Observer.LogHeadLines)

	snap, err := obs.ObserveAndSave()
	if err != nil {
		return nil, fmt.Errorf("observe project: %w", err)
	}
	log.Info().Int("files", snap.Meta.FileCount).Str("dir", cfg.Agent.ObservationDir).Msg("project observed")

	var snapMu sync.RWMutex
	currentSnap := snap
	snapshotFn := func() *observer.Snapshot {
		snapMu.RLock()
		defer snapMu.RUnlock()
		return currentSnap
	}

	if cfg.Observer.WatchEnabled {
		watcher, err := observer.NewWatcher(obs,
			time.Duration(cfg.Observer.DebounceMs)*time.Millisecond,
			func(s *observer.Snapshot) {
				snapMu.Lock()
				currentSnap = s
				snapMu.Unlock()
			})
		if err != nil {
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return nil, fmt.Errorf("start watcher: %w", err)
		}
		rt.watcher = watcher
	}

	dataset, err := newDataset(cfg)
	if err != nil {
		return nil, fmt.Errorf("create dataset: %w", err)
	}

	skillManager, err := skills.NewManager(skills.Config{
		CkptDir:       cfg.Agent.CkptDir,
		DatasetName:   cfg.Skills.DatasetName,
		RetrievalTopK: cfg.Skills.RetrievalTopK,
		CacheSize:     cfg.Skills.CacheSize,
		Resume:        cfg.Agent.Resume,
		MaxRetries:    cfg.Agent.MaxRetries,
	}, provider, dataset, store, log)
	if err != nil {
		return nil, fmt.Errorf("create skill manager: %w", err)
	}
	if err := skillManager.Sync(ctx); err != nil {
		return nil, fmt.Errorf("sync skill dataset: %w", err)
	}

	curriculumAgent, err := curriculum.NewAgent(curriculum.Config{
		CkptDir:    cfg.Agent.CkptDir,
		Mode:       cfg.Agent.Mode,
		MaxRetries: cfg.Agent.MaxRetries,
		CacheSize:  cfg.Agent.CacheSize,
		Resume:     cfg.Agent.Resume,
	}, provider, store, snapshotFn, os.Stdin, log)
	if err != nil {
		return nil, fmt.Errorf("create curriculum agent: %w", err)
	}

	actionAgent, err := action.NewAgent(action.Config{
		CkptDir:       cfg.Agent.CkptDir,
		MaxRetries:    cfg.Agent.MaxRetries,
		CacheSize:     cfg.Agent.CacheSize,
		Temperature:   cfg.LLM.Temperature,
		Resume:        cfg.Agent.Resume,
		GenerateModel: cfg.LLM.GetInfoModel,
		RewriteModel:  cfg.LLM.RewriteModel,
	}, provider, store, skillManager, log)
	if err != nil {
		return nil, fmt.Errorf("create action agent: %w", err)
	}

	criticAgent, err := critic.NewAgent(critic.Config{
		CkptDir:    cfg.Agent.CkptDir,
		Mode:       cfg.Agent.Mode,
		MaxRetries: cfg.Agent.MaxRetries,
		CacheSize:  cfg.Agent.CacheSize,
		Resume:     cfg.Agent.Resume,
	}, provider, store, os.Stdin, os.Stdout, log)
	if err != nil {
		return nil, fmt.Errorf("create critic agent: %w", err)
	}

	hist, err := history.Open(filepath.Join(cfg.Agent.CkptDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	rt.history = hist

	runner := sandbox.New(cfg.Sandbox.TimeoutSeconds, cfg.Sandbox.Interpreter)

	agent, err := kaichi.New(kaichi.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxRetries:    cfg.Agent.MaxRetries,
		CkptDir:       cfg.Agent.CkptDir,
	}, curriculumAgent, actionAgent, criticAgent, skillManager, runner, hist, log)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	rt.agent = agent

	return rt, nil
}
