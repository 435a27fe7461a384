package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	failures int
	calls    int
	answer   string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, &Error{Provider: "scripted", Message: "transient"}
	}
	return &Response{Answer: p.answer}, nil
}

func TestChatWithRetryRecovers(t *testing.T) {
	p := &scriptedProvider{failures: 2, answer: "ok"}

	resp, err := ChatWithRetry(context.Background(), p, &Request{Query: "hi"}, 5)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Answer)
	assert.Equal(t, 3, p.calls)
}

func TestChatWithRetryExhausts(t *testing.T) {
	p := &scriptedProvider{failures: 100}

	_, err := ChatWithRetry(context.Background(), p, &Request{Query: "hi"}, 3)
	require.Error(t, err)
	assert.True(t, IsLLMError(err))
	assert.Equal(t, 3, p.calls)
}

func TestChatWithRetryHonorsCancel(t *testing.T) {
	p := &scriptedProvider{failures: 100}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ChatWithRetry(ctx, p, &Request{Query: "hi"}, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestSystem(t *testing.T) {
	req := &Request{Inputs: map[string]string{"system": "be terse"}}
	assert.Equal(t, "be terse", req.System())
	assert.Empty(t, (&Request{}).System())
}
