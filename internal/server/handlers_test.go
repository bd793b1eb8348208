package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/melodymind/melodymind-api/internal/media"
	"github.com/melodymind/melodymind-api/internal/pipeline"
	"github.com/melodymind/melodymind-api/internal/storage"
	"github.com/melodymind/melodymind-api/internal/suno"
	"github.com/melodymind/melodymind-api/internal/task"
)

// mockClient is a mock implementation of suno.Client.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Generate(ctx context.Context, params suno.GenerateParams) (*suno.TaskResponse, error) {
	args := m.Called(ctx, params)
	if resp := args.Get(0); resp != nil {
		return resp.(*suno.TaskResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) RecordInfo(ctx context.Context, taskID string) (json.RawMessage, error) {
	args := m.Called(ctx, taskID)
	if raw := args.Get(0); raw != nil {
		return raw.(json.RawMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) TimestampedLyrics(ctx context.Context, params suno.LyricsParams) (json.RawMessage, error) {
	args := m.Called(ctx, params)
	if raw := args.Get(0); raw != nil {
		return raw.(json.RawMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) GenerateVideo(ctx context.Context, params suno.VideoParams) (*suno.TaskResponse, error) {
	args := m.Called(ctx, params)
	if resp := args.Get(0); resp != nil {
		return resp.(*suno.TaskResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

// testEnv wires a full handler stack with a real orchestrator, fetcher
// and local store; only the provider client is mocked. Callback
// processing runs inline so side effects are observable synchronously.
type testEnv struct {
	router   http.Handler
	provider *mockClient
	tasks    task.Repository
	store    *storage.Local
	assets   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	// Serves fake provider-hosted media for the fetcher to download.
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ".mp3"):
			_, _ = w.Write([]byte("mp3-bytes"))
		case strings.HasSuffix(r.URL.Path, ".mp4"):
			_, _ = w.Write([]byte("mp4-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(assets.Close)

	provider := &mockClient{}
	tasks := task.NewMemoryRepository()
	logger := slog.New(slog.DiscardHandler)

	endpoints := pipeline.Endpoints{
		CallbackURL:  "http://svc/callback",
		MediaBaseURL: "http://svc/media",
		DomainName:   "http://svc",
	}

	fetcher := media.NewHTTPFetcher(store)
	orch := pipeline.NewOrchestrator(tasks, fetcher, provider, endpoints, logger)

	h := NewHandlers(provider, orch, tasks, store, endpoints, logger, WithAsyncProcessing(false))
	router := NewRouter(h, logger, DefaultConfig())

	return &testEnv{
		router:   router,
		provider: provider,
		tasks:    tasks,
		store:    store,
		assets:   assets,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestInfo(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.Status)
	assert.Contains(t, resp.Endpoints, "generate")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "http://svc/callback", resp.CallbackURL)
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t)

	env.provider.On("Generate", mock.Anything, mock.MatchedBy(func(p suno.GenerateParams) bool {
		return p.Prompt == "a calm piano piece" &&
			p.Model == "V4_5" &&
			p.CallBackURL == "http://svc/callback"
	})).Return(&suno.TaskResponse{
		TaskID: "t1",
		Raw:    json.RawMessage(`{"code":200,"data":{"taskId":"t1"}}`),
	}, nil).Once()

	rec := env.do(t, http.MethodPost, "/generate", `{"prompt":"a calm piano piece","title":"My Song"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":200,"data":{"taskId":"t1"}}`, rec.Body.String())

	// The pending record makes /status work before the first callback.
	rec2, err := env.tasks.FindByAudioTaskID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, rec2.Status)
	assert.Equal(t, "My Song", rec2.Title)

	env.provider.AssertExpectations(t)
}

func TestGenerate_DefaultTitle(t *testing.T) {
	env := newTestEnv(t)

	env.provider.On("Generate", mock.Anything, mock.Anything).
		Return(&suno.TaskResponse{
			TaskID: "t1",
			Raw:    json.RawMessage(`{"code":200,"data":{"taskId":"t1"}}`),
		}, nil).Once()

	rec := env.do(t, http.MethodPost, "/generate", `{"prompt":"a calm piano piece"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// An untitled request still yields a displayable title from /status.
	got, err := env.tasks.FindByAudioTaskID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, task.DefaultTitle, got.Title)
}

func TestGenerate_Validation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/generate", `{"title":"no prompt"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)

	rec = env.do(t, http.MethodPost, "/generate", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_JSON", resp.Code)

	env.provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerate_ProviderErrorPassthrough(t *testing.T) {
	env := newTestEnv(t)

	env.provider.On("Generate", mock.Anything, mock.Anything).
		Return(nil, &suno.ProviderError{
			StatusCode: http.StatusUnprocessableEntity,
			Body:       `{"code":422,"msg":"prompt too long"}`,
		}).Once()

	rec := env.do(t, http.MethodPost, "/generate", `{"prompt":"x"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PROVIDER_ERROR", resp.Code)
	assert.Contains(t, resp.Error, "prompt too long")
}

func TestCheck(t *testing.T) {
	env := newTestEnv(t)

	env.provider.On("RecordInfo", mock.Anything, "t1").
		Return(json.RawMessage(`{"code":200,"data":{"status":"SUCCESS"}}`), nil).Once()

	rec := env.do(t, http.MethodGet, "/check/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":200,"data":{"status":"SUCCESS"}}`, rec.Body.String())
}

func TestLyrics(t *testing.T) {
	env := newTestEnv(t)

	env.provider.On("TimestampedLyrics", mock.Anything, suno.LyricsParams{TaskID: "t1", AudioID: "a1"}).
		Return(json.RawMessage(`{"alignedWords":[]}`), nil).Once()

	rec := env.do(t, http.MethodPost, "/lyrics", `{"taskId":"t1","audioId":"a1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"alignedWords":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/lyrics", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVideo(t *testing.T) {
	env := newTestEnv(t)

	env.provider.On("GenerateVideo", mock.Anything, mock.MatchedBy(func(p suno.VideoParams) bool {
		// Callback and domain fall back to the service's own endpoints.
		return p.TaskID == "t1" &&
			p.CallBackURL == "http://svc/callback" &&
			p.DomainName == "http://svc"
	})).Return(&suno.TaskResponse{
		TaskID: "v1",
		Raw:    json.RawMessage(`{"code":200,"data":{"taskId":"v1"}}`),
	}, nil).Once()

	rec := env.do(t, http.MethodPost, "/video", `{"taskId":"t1","audioId":"a1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":200,"data":{"taskId":"v1"}}`, rec.Body.String())

	env.provider.AssertExpectations(t)
}

func TestCallback_AudioCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.tasks.CreatePending(ctx, "t1", "My Song"))

	env.provider.On("TimestampedLyrics", mock.Anything, suno.LyricsParams{TaskID: "t1", AudioID: "a1"}).
		Return(json.RawMessage(`{"alignedWords":[]}`), nil).Once()
	env.provider.On("GenerateVideo", mock.Anything, mock.MatchedBy(func(p suno.VideoParams) bool {
		return p.TaskID == "t1" && p.AudioID == "a1" && p.CallBackURL == "http://svc/callback"
	})).Return(&suno.TaskResponse{TaskID: "v1"}, nil).Once()

	body := `{
		"taskId": "t1",
		"data": [{
			"state": "succeeded",
			"audioUrl": "` + env.assets.URL + `/t1.mp3",
			"audioId": "a1",
			"title": "My Song"
		}]
	}`

	rec := env.do(t, http.MethodPost, "/callback", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var ack pipeline.Ack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, pipeline.AckAudioProcessed, ack.Status)
	assert.Equal(t, "v1", ack.VideoTaskID)

	// Asset committed to the media root.
	data, err := os.ReadFile(env.store.Path("t1.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "mp3-bytes", string(data))

	// Record advanced with the video sub-task linked.
	got, err := env.tasks.FindByAudioTaskID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusAudioDone, got.Status)
	assert.Equal(t, "v1", got.VideoTaskID)
	assert.Equal(t, "http://svc/media/t1.mp3", got.AudioURL)

	env.provider.AssertExpectations(t)
}

func TestCallback_VideoCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.tasks.CompleteAudio(ctx, task.AudioCompletion{
		AudioTaskID: "t1",
		Title:       "My Song",
		VideoTaskID: "v1",
	})
	require.NoError(t, err)

	body := `{"code":0,"data":{"task_id":"v1","video_url":"` + env.assets.URL + `/v1.mp4"}}`

	rec := env.do(t, http.MethodPost, "/callback", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var ack pipeline.Ack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, pipeline.AckVideoSaved, ack.Status)

	data, err := os.ReadFile(env.store.Path("v1.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", string(data))

	got, err := env.tasks.FindByVideoTaskID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, got.Status)
	assert.Equal(t, "http://svc/media/v1.mp4", got.VideoURL)
}

func TestCallback_StillProcessing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.tasks.CreatePending(ctx, "t1", "My Song"))

	rec := env.do(t, http.MethodPost, "/callback", `{"taskId":"t1","data":{"state":"running"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var ack pipeline.Ack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, pipeline.AckProcessing, ack.Status)
	assert.Equal(t, "running", ack.State)

	// No state mutation for intermediate notifications.
	got, err := env.tasks.FindByAudioTaskID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
}

func TestCallback_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	// Malformed webhooks are still acknowledged with 200 so the provider
	// does not redeliver them forever.
	rec := env.do(t, http.MethodPost, "/callback", `{broken`)
	require.Equal(t, http.StatusOK, rec.Code)

	var ack pipeline.Ack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, pipeline.AckIgnored, ack.Status)
	assert.Equal(t, "invalid_json", ack.Reason)
}

// panicFetcher panics on every download.
type panicFetcher struct{}

func (panicFetcher) Fetch(context.Context, string, string) (string, error) {
	panic("fetch blew up")
}

func TestRunDetached_RecoversPanic(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	provider := &mockClient{}
	tasks := task.NewMemoryRepository()
	logger := slog.New(slog.DiscardHandler)
	endpoints := pipeline.Endpoints{
		CallbackURL:  "http://svc/callback",
		MediaBaseURL: "http://svc/media",
		DomainName:   "http://svc",
	}
	orch := pipeline.NewOrchestrator(tasks, panicFetcher{}, provider, endpoints, logger)
	h := NewHandlers(provider, orch, tasks, store, endpoints, logger)

	// The webhook was already acknowledged when the detached run starts; a
	// panic inside the chain must be contained.
	require.NotPanics(t, func() {
		h.runDetached(pipeline.AudioCompleted{TaskID: "t1", AudioID: "a1", AudioURL: "http://cdn/t1.mp3"})
	})
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.do(t, http.MethodGet, "/status/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "TASK_NOT_FOUND", errResp.Code)

	_, err := env.tasks.CompleteAudio(ctx, task.AudioCompletion{
		AudioTaskID: "t1",
		Title:       "My Song",
		AudioURL:    "http://svc/media/t1.mp3",
		Lyrics:      []byte(`{"alignedWords":[]}`),
		VideoTaskID: "v1",
	})
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/status/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "My Song", resp.Title)
	assert.Equal(t, "http://svc/media/t1.mp3", resp.AudioURL)
	assert.Equal(t, string(task.StatusAudioDone), resp.Status)
	assert.JSONEq(t, `{"alignedWords":[]}`, string(resp.Lyrics))
}

func TestMedia(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.Save(ctx, "t1.mp3", strings.NewReader("mp3-bytes"))
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/media/t1.mp3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mp3-bytes", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/media/missing.mp3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMedia_RejectsTraversal(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/media/..%2F..%2Fetc%2Fpasswd", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_FILENAME", resp.Code)
}

func TestMediaList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.Save(ctx, "t1.mp3", strings.NewReader("aaa"))
	require.NoError(t, err)
	_, err = env.store.Save(ctx, "v1.mp4", strings.NewReader("bb"))
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/media", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MediaListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 2)

	byName := make(map[string]MediaFile, len(resp.Files))
	for _, f := range resp.Files {
		byName[f.Filename] = f
	}
	assert.Equal(t, int64(3), byName["t1.mp3"].Size)
	assert.Equal(t, "http://svc/media/t1.mp3", byName["t1.mp3"].URL)
	assert.Equal(t, int64(2), byName["v1.mp4"].Size)
}
