package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/crossfix/internal/artifact"
	"github.com/Iron-Ham/crossfix/internal/config"
	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/review"
	"github.com/Iron-Ham/crossfix/internal/task"
)

// chatServer answers chat completions with reply and records the requests.
type chatServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	status   int
}

func newChatServer(t *testing.T, reply string) *chatServer {
	t.Helper()
	cs := &chatServer{status: http.StatusOK}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cs.mu.Lock()
		cs.requests = append(cs.requests, req)
		status := cs.status
		cs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"quota exhausted","type":"insufficient_quota"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *chatServer) lastRequest(t *testing.T) openai.ChatCompletionRequest {
	t.Helper()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	require.NotEmpty(t, cs.requests)
	return cs.requests[len(cs.requests)-1]
}

func newTestOpenAI(t *testing.T, url string, fs afero.Fs) *OpenAI {
	t.Helper()
	b, err := NewOpenAI("gpt", config.BackendConfig{
		Kind:        config.BackendOpenAI,
		Model:       "gpt-test",
		BaseURL:     url + "/v1",
		Temperature: 0.2,
		MaxTokens:   512,
	}, OpenAIOptions{
		FS:           fs,
		Detector:     task.NewCompletionDetector(config.DefaultCompletionPhrases()),
		MaxFileBytes: 16,
		APIKey:       "sk-test",
	})
	require.NoError(t, err)
	return b
}

func TestOpenAI_ReviewInlinesArtifacts(t *testing.T) {
	srv := newChatServer(t, `{"overall_score": 7}`)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/app.py", []byte("print('hello')\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/proj/big.py", []byte("0123456789abcdefXYZ"), 0o644))

	b := newTestOpenAI(t, srv.URL, fs)
	raw, err := b.Review(context.Background(), review.Request{
		Artifacts: artifact.Set{Root: "/proj", Files: []string{"app.py", "big.py", "gone.py"}},
		Prompt:    "Review these files.",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"overall_score": 7}`, raw)

	req := srv.lastRequest(t)
	assert.Equal(t, "gpt-test", req.Model)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
	assert.Equal(t, 512, req.MaxCompletionTokens)
	require.Len(t, req.Messages, 2)
	user := req.Messages[1].Content
	assert.Contains(t, user, "Review these files.")
	assert.Contains(t, user, "### app.py")
	assert.Contains(t, user, "print('hello')")
	assert.Contains(t, user, "0123456789abcdef\n```\n(truncated)")
	assert.NotContains(t, user, "XYZ")
	assert.NotContains(t, user, "gone.py")
}

func TestOpenAI_ExecuteWritesFileBlocks(t *testing.T) {
	reply := "Here you go.\n\n### FILE: src/app.py\n```python\nprint('hi')\n```\n\n### FILE: ../escape.py\n```python\nboom\n```\n\nAll files implemented."
	srv := newChatServer(t, reply)
	fs := afero.NewMemMapFs()
	b := newTestOpenAI(t, srv.URL, fs)

	res, err := b.Execute(context.Background(), task.Task{
		Type:      task.Generation,
		Iteration: 2,
		Objective: "Implement the plan.",
		WorkDir:   "/work",
	})
	require.NoError(t, err)

	assert.True(t, res.CompletionSignal)
	assert.Equal(t, []string{"src/app.py"}, res.WrittenTargets())

	data, err := afero.ReadFile(fs, "/work/src/app.py")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(data))

	exists, err := afero.Exists(fs, "/escape.py")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOpenAI_AnalysisDoesNotWrite(t *testing.T) {
	srv := newChatServer(t, "### FILE: a.py\n```\nx = 1\n```")
	fs := afero.NewMemMapFs()
	b := newTestOpenAI(t, srv.URL, fs)

	res, err := b.Execute(context.Background(), task.Task{Type: task.Analysis, WorkDir: "/work"})
	require.NoError(t, err)
	assert.Zero(t, res.WriteCount())

	exists, _ := afero.Exists(fs, "/work/a.py")
	assert.False(t, exists)
}

func TestOpenAI_ServerErrorIsUnavailableReviewer(t *testing.T) {
	srv := newChatServer(t, "")
	srv.status = http.StatusTooManyRequests
	b := newTestOpenAI(t, srv.URL, afero.NewMemMapFs())

	_, err := b.Review(context.Background(), review.Request{Artifacts: artifact.Set{Root: "/proj"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrReviewerUnavailable))

	_, err = b.Execute(context.Background(), task.Task{Type: task.Generation})
	assert.True(t, errors.Is(err, errors.ErrBackendFailed))
}

func TestOpenAI_Available(t *testing.T) {
	t.Setenv("CROSSFIX_TEST_OPENAI_KEY", "")
	b, err := NewOpenAI("gpt", config.BackendConfig{Model: "m", APIKeyEnv: "CROSSFIX_TEST_OPENAI_KEY"}, OpenAIOptions{})
	require.NoError(t, err)

	err = b.Available()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CROSSFIX_TEST_OPENAI_KEY")

	_, err = b.Review(context.Background(), review.Request{})
	assert.True(t, errors.Is(err, errors.ErrReviewerUnavailable))

	t.Setenv("CROSSFIX_TEST_OPENAI_KEY", "sk-live")
	b, err = NewOpenAI("gpt", config.BackendConfig{Model: "m", APIKeyEnv: "CROSSFIX_TEST_OPENAI_KEY"}, OpenAIOptions{})
	require.NoError(t, err)
	assert.NoError(t, b.Available())
}

func TestNewOpenAI_RequiresModel(t *testing.T) {
	_, err := NewOpenAI("gpt", config.BackendConfig{}, OpenAIOptions{})
	assert.Error(t, err)
}
