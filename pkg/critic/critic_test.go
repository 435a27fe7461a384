package critic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imjszhang/wiseflow/internal/logger"
	"github.com/imjszhang/wiseflow/pkg/llm"
	"github.com/imjszhang/wiseflow/pkg/prompts"
	"github.com/imjszhang/wiseflow/pkg/sandbox"
)

type queueProvider struct {
	answers []string
	errs    []error
	calls   int
}

func (p *queueProvider) Name() string { return "queue" }

func (p *queueProvider) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	idx := p.calls
	p.calls++
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	if idx >= len(p.answers) {
		idx = len(p.answers) - 1
	}
	return &llm.Response{Answer: p.answers[idx]}, nil
}

func newCritic(t *testing.T, provider llm.Provider, mode string) *Agent {
	t.Helper()
	a, err := NewAgent(Config{
		CkptDir:    t.TempDir(),
		Mode:       mode,
		MaxRetries: 3,
	}, provider, prompts.NewStore(""), strings.NewReader(""), &strings.Builder{}, logger.GetLogger())
	require.NoError(t, err)
	return a
}

func TestCheckTaskSuccessParsesFencedVerdict(t *testing.T) {
	provider := &queueProvider{answers: []string{
		"```json\n{\"success\": true, \"critique\": \"prints the answer\"}\n```",
	}}
	a := newCritic(t, provider, "auto")

	success, critique := a.CheckTaskSuccess(context.Background(), "print hi", "ctx", "print('hi')", sandbox.State{Output: "hi\n"})
	assert.True(t, success)
	assert.Equal(t, "prints the answer", critique)
}

func TestCacheKeyedOnTaskAndCodeOnly(t *testing.T) {
	provider := &queueProvider{answers: []string{
		`{"success": true, "critique": "first verdict"}`,
		`{"success": false, "critique": "should never be used"}`,
	}}
	a := newCritic(t, provider, "auto")

	state1 := sandbox.State{Output: "hi\n", ReturnCode: 0}
	state2 := sandbox.State{Error: "boom", ReturnCode: 1}

	success1, critique1 := a.CheckTaskSuccess(context.Background(), "t", "c", "code", state1)
	success2, critique2 := a.CheckTaskSuccess(context.Background(), "t", "c", "code", state2)

	assert.Equal(t, success1, success2)
	assert.Equal(t, critique1, critique2)
	assert.Equal(t, 1, provider.calls, "second call must hit the cache")
}

func TestCheckTaskSuccessExhaustionReturnsFailure(t *testing.T) {
	provider := &queueProvider{answers: []string{"not json", "still not json", "nope"}}
	a := newCritic(t, provider, "auto")

	success, critique := a.CheckTaskSuccess(context.Background(), "t", "c", "code", sandbox.State{})
	assert.False(t, success)
	assert.NotEmpty(t, critique)
	assert.Equal(t, 3, provider.calls)
}

func TestCheckTaskSuccessRecoversWithinRetries(t *testing.T) {
	provider := &queueProvider{
		answers: []string{"garbage", `{"success": true, "critique": "ok"}`},
	}
	a := newCritic(t, provider, "auto")

	success, critique := a.CheckTaskSuccess(context.Background(), "t", "c", "code", sandbox.State{})
	assert.True(t, success)
	assert.Equal(t, "ok", critique)
}

func TestCheckTaskSuccessLLMErrorRetries(t *testing.T) {
	provider := &queueProvider{
		errs:    []error{errors.New("down"), nil},
		answers: []string{"", `{"success": false, "critique": "wrong output"}`},
	}
	a := newCritic(t, provider, "auto")

	success, critique := a.CheckTaskSuccess(context.Background(), "t", "c", "code", sandbox.State{})
	assert.False(t, success)
	assert.Equal(t, "wrong output", critique)
}

func TestManualModeReadsVerdict(t *testing.T) {
	a, err := NewAgent(Config{
		CkptDir:    t.TempDir(),
		Mode:       "manual",
		MaxRetries: 3,
	}, &queueProvider{answers: []string{"unused"}}, prompts.NewStore(""),
		strings.NewReader("y\nlooks good\n"), &strings.Builder{}, logger.GetLogger())
	require.NoError(t, err)

	success, critique := a.CheckTaskSuccess(context.Background(), "t", "c", "code", sandbox.State{})
	assert.True(t, success)
	assert.Equal(t, "looks good", critique)
}

func TestCachePersistsAcrossAgents(t *testing.T) {
	ckpt := t.TempDir()
	provider := &queueProvider{answers: []string{`{"success": true, "critique": "v"}`}}

	a, err := NewAgent(Config{CkptDir: ckpt, MaxRetries: 3}, provider, prompts.NewStore(""),
		strings.NewReader(""), &strings.Builder{}, logger.GetLogger())
	require.NoError(t, err)
	a.CheckTaskSuccess(context.Background(), "t", "c", "code", sandbox.State{})

	resumed, err := NewAgent(Config{CkptDir: ckpt, MaxRetries: 3, Resume: true},
		&queueProvider{answers: []string{`{"success": false, "critique": "never"}`}},
		prompts.NewStore(""), strings.NewReader(""), &strings.Builder{}, logger.GetLogger())
	require.NoError(t, err)

	success, critique := resumed.CheckTaskSuccess(context.Background(), "t", "c", "code", sandbox.State{})
	assert.True(t, success)
	assert.Equal(t, "v", critique)
}

func TestCheckCodeQuality(t *testing.T) {
	provider := &queueProvider{answers: []string{
		"```json\n{\"score\": 7, \"issues\": [\"bare except\"], \"summary\": \"fine\"}\n```",
	}}
	a := newCritic(t, provider, "auto")

	analysis, err := a.CheckCodeQuality(context.Background(), "print('x')", "")
	require.NoError(t, err)
	assert.EqualValues(t, 7, analysis["score"])
	assert.Contains(t, analysis, "timestamp")
}
