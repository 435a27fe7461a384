// Package wiseflow provides the embeddable surface of the kaichi
// self-improving code-generation agent.
//
// Kaichi runs a closed loop over an observed target project: the curriculum
// proposes a task, the action agent synthesizes a program for it, the
// sandbox executes the program in isolation, the critic judges the outcome,
// and successful programs are distilled into named skills stored in a
// semantic library that seeds subsequent iterations.
//
// # Quick Start
//
//	provider := llm.NewDifyProvider(base, key, 2*time.Minute)
//	dataset, _ := vectordb.NewLocalDataset("skill_dataset", "")
//	... construct the agents, then:
//	agent, _ := kaichi.New(cfg, curriculum, action, critic, skills, runner, nil, log)
//	result, _ := agent.Learn(ctx, "", 10)
//
// The cmd/kaichi binary wires the full stack from configuration; this
// package re-exports the core types for embedders.
package wiseflow

import (
	"github.com/imjszhang/wiseflow/pkg/action"
	"github.com/imjszhang/wiseflow/pkg/kaichi"
	"github.com/imjszhang/wiseflow/pkg/observer"
	"github.com/imjszhang/wiseflow/pkg/sandbox"
	"github.com/imjszhang/wiseflow/pkg/skills"
)

// Kaichi is an alias for the orchestrator type.
type Kaichi = kaichi.Kaichi

// Config is an alias for the orchestrator configuration.
type Config = kaichi.Config

// Result is an alias for the learn result.
type Result = kaichi.Result

// GeneratedProgram is an alias for a synthesized program.
type GeneratedProgram = action.GeneratedProgram

// Skill is an alias for a stored library entry.
type Skill = skills.Skill

// Snapshot is an alias for a project observation.
type Snapshot = observer.Snapshot

// ExecutionState is an alias for a sandbox step result.
type ExecutionState = sandbox.State
