package action

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imjszhang/wiseflow/internal/logger"
	"github.com/imjszhang/wiseflow/pkg/llm"
	"github.com/imjszhang/wiseflow/pkg/prompts"
)

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

func newAgent(t *testing.T, provider llm.Provider) *Agent {
	t.Helper()
	a, err := NewAgent(Config{
		CkptDir:    t.TempDir(),
		MaxRetries: 3,
	}, provider, prompts.NewStore(""), nil, logger.GetLogger())
	require.NoError(t, err)
	return a
}

func TestProcessAIMessageRewritesEntry(t *testing.T) {
	provider := &queueProvider{answers: []string{"new_function_name: fetch_value"}}
	a := newAgent(t, provider)

	message := "Here is the program:\n```python\nasync def main():\n    return 1\n```\n"
	program, err := a.ProcessAIMessage(context.Background(), message)
	require.NoError(t, err)

	assert.Equal(t, "fetch_value", program.ProgramName)
	assert.Contains(t, program.ProgramCode, "async def fetch_value")
	assert.NotContains(t, program.ProgramCode, "async def main")
	assert.Equal(t, "await fetch_value()", program.ExecCode)
}

func TestProcessAIMessagePicksLastAsyncFunction(t *testing.T) {
	provider := &queueProvider{answers: []string{"new_function_name: run_pipeline"}}
	a := newAgent(t, provider)

	message := "```python\n" +
		"async def helper():\n    return 1\n\n" +
		"def sync_tail():\n    return 2\n\n" +
		"async def main():\n    return await helper()\n" +
		"```"
	program, err := a.ProcessAIMessage(context.Background(), message)
	require.NoError(t, err)

	assert.Equal(t, "run_pipeline", program.ProgramName)
	assert.Contains(t, program.ProgramCode, "async def helper")
	assert.Contains(t, program.ProgramCode, "async def run_pipeline")
}

func TestProcessAIMessageNoAsyncFunction(t *testing.T) {
	a := newAgent(t, &queueProvider{answers: []string{"new_function_name: x"}})

	_, err := a.ProcessAIMessage(context.Background(), "```python\ndef main():\n    return 1\n```")
	require.Error(t, err)
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestProcessAIMessageNoCodeBlock(t *testing.T) {
	a := newAgent(t, &queueProvider{answers: []string{"irrelevant"}})

	_, err := a.ProcessAIMessage(context.Background(), "sorry, cannot help with that")
	require.Error(t, err)
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestProcessAIMessageRetriesRenameExtraction(t *testing.T) {
	provider := &queueProvider{answers: []string{
		"I would call it something nice",
		"new_function_name: second_try",
	}}
	a := newAgent(t, provider)

	program, err := a.ProcessAIMessage(context.Background(), "```python\nasync def main():\n    pass\n```")
	require.NoError(t, err)
	assert.Equal(t, "second_try", program.ProgramName)
}

func TestProcessAIMessageRenameExhaustion(t *testing.T) {
	a := newAgent(t, &queueProvider{answers: []string{"no identifier here"}})

	_, err := a.ProcessAIMessage(context.Background(), "```python\nasync def main():\n    pass\n```")
	require.Error(t, err)
}

func TestRenameIsWordBounded(t *testing.T) {
	code := "async def run():\n    run_count = run_helper()\n    return run_count\n"
	out := renameFunction(code, "run", "execute_all")
	assert.Contains(t, out, "async def execute_all()")
	assert.Contains(t, out, "run_count")
	assert.Contains(t, out, "run_helper()")
}

func TestExtractCodeBlocksJoinsAll(t *testing.T) {
	message := "First:\n```python\na = 1\n```\nThen:\n```\nb = 2\n```"
	code, err := extractCodeBlocks(message)
	require.NoError(t, err)
	assert.Contains(t, code, "a = 1")
	assert.Contains(t, code, "b = 2")
}

func TestRenderSystemMessageIncludesBaseSkills(t *testing.T) {
	a := newAgent(t, &queueProvider{answers: []string{"x"}})

	system, err := a.RenderSystemMessage([]string{"async def learned():\n    pass"})
	require.NoError(t, err)
	assert.Contains(t, system, "read_file")
	assert.Contains(t, system, "write_file")
	assert.Contains(t, system, "async def learned")

	a.SetBaseSkills([]string{"async def fake_fs(): pass"})
	system, err = a.RenderSystemMessage(nil)
	require.NoError(t, err)
	assert.Contains(t, system, "fake_fs")
	assert.NotContains(t, system, "read_file")
}

func TestCacheKeyDependsOnInputs(t *testing.T) {
	base := CacheKey("task", "ctx", []string{"s1"})
	assert.Equal(t, base, CacheKey("task", "ctx", []string{"s1"}))
	assert.NotEqual(t, base, CacheKey("task2", "ctx", []string{"s1"}))
	assert.NotEqual(t, base, CacheKey("task", "ctx2", []string{"s1"}))
	assert.NotEqual(t, base, CacheKey("task", "ctx", []string{"s2"}))
	assert.NotEqual(t, base, CacheKey("task", "ctx", nil))
}

func TestProgramCacheRoundTrip(t *testing.T) {
	a := newAgent(t, &queueProvider{answers: []string{"x"}})

	key := CacheKey("t", "c", nil)
	_, ok := a.CachedProgram(key)
	assert.False(t, ok)

	program := GeneratedProgram{ProgramCode: "async def f():\n    pass\n", ProgramName: "f", ExecCode: "await f()"}
	a.RememberProgram(key, program)

	got, ok := a.CachedProgram(key)
	require.True(t, ok)
	assert.Equal(t, program, got)
}

func TestGenerateCodePassesThroughAnswer(t *testing.T) {
	provider := &queueProvider{answers: []string{"```python\nprint('x')\n```"}}
	a := newAgent(t, provider)

	answer, err := a.GenerateCode(context.Background(), "system prompt", "human prompt")
	require.NoError(t, err)
	assert.True(t, strings.Contains(answer, "print('x')"))
}
