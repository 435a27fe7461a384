package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type staticProvider struct {
	answer string
}

func (p *staticProvider) Name() string { return "static" }

func (p *staticProvider) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return &llm.Response{Answer: p.answer}, nil
}

func newTestServer(t *testing.T) (*Server, *skills.Manager) {
	t.Helper()
	ckpt := t.TempDir()
	store := prompts.NewStore("")
	log := logger.GetLogger()
	provider := &staticProvider{answer: `{"name":"x","description":"d","parameters":{},"returns":{},"effects":[]}`}

	cur, err := curriculum.NewAgent(curriculum.Config{CkptDir: ckpt},
		provider, store, func() *observer.Snapshot { return nil }, strings.NewReader(""), log)
	require.NoError(t, err)

	dataset, err := vectordb.NewLocalDataset("skill_dataset", "")
	require.NoError(t, err)
	require.NoError(t, dataset.Ensure(context.Background()))

	sk, err := skills.NewManager(skills.Config{CkptDir: ckpt}, provider, dataset, store, log)
	require.NoError(t, err)

	act, err := action.NewAgent(action.Config{CkptDir: ckpt}, provider, store, nil, log)
	require.NoError(t, err)

	cri, err := critic.NewAgent(critic.Config{CkptDir: ckpt}, provider, store,
		strings.NewReader(""), &strings.Builder{}, log)
	require.NoError(t, err)

	agent, err := kaichi.New(kaichi.Config{CkptDir: ckpt}, cur, act, cri, sk,
		sandbox.New(5, ""), nil, log)
	require.NoError(t, err)
	t.Cleanup(func() { agent.Close() })

	return NewServer(agent), sk
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndVersion(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	SetVersion("v9.9.9")
	rec = get(t, s, "/version")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "v9.9.9")
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status kaichi.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
	assert.Zero(t, status.Iteration)
}

func TestSkillsEndpoints(t *testing.T) {
	s, sk := newTestServer(t)

	require.NoError(t, sk.AddNewSkill(context.Background(), "greet", "async def greet():\n    pass\n"))

	rec := get(t, s, "/skills")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "greet")

	rec = get(t, s, "/skills/greet")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "async def greet")

	rec = get(t, s, "/skills/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "completed_tasks")
	assert.Contains(t, body, "failed_tasks")
	assert.Contains(t, body, "success_rate")
}
