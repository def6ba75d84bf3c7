package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/agentflow/internal/api"
	"github.com/phrazzld/agentflow/internal/events"
	"github.com/phrazzld/agentflow/internal/generation"
	"github.com/phrazzld/agentflow/internal/platform/memory"
	"github.com/phrazzld/agentflow/internal/service"
	"github.com/phrazzld/agentflow/internal/service/auth"
	"github.com/phrazzld/agentflow/internal/session"
	"github.com/phrazzld/agentflow/internal/sharing"
	"github.com/phrazzld/agentflow/internal/task"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	sessions *session.Store
	sync     *sharing.Coordinator
	coord    *task.Coordinator
	svc      *service.TaskService
	router   http.Handler
}

type envOptions struct {
	generator generation.Generator
	jwt       auth.JWTService
	workers   int
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	sessions := session.NewStore(memory.NewSessionBackend(), logger)
	syncCoord := sharing.NewCoordinator(sessions, logger)
	recorder := service.NewOutcomeRecorder(sessions, syncCoord, logger)
	bus := events.NewBus(logger, events.WithRecorder(recorder))

	workers := opts.workers
	if workers == 0 {
		workers = 2
	}
	coord := task.NewCoordinator(task.CoordinatorConfig{WorkerCount: workers}, bus, nil, logger)
	t.Cleanup(func() { _ = coord.Shutdown(context.Background(), false) })

	svc, err := service.NewTaskService(coord, bus, syncCoord, opts.generator, logger)
	require.NoError(t, err)

	router := api.NewRouter(api.Dependencies{
		Sessions: sessions,
		Handles:  syncCoord,
		Sync:     syncCoord,
		Tasks:    svc,
		Recorder: recorder,
		JWT:      opts.jwt,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		Logger: logger,
	})

	return &testEnv{sessions: sessions, sync: syncCoord, coord: coord, svc: svc, router: router}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWithHeader(t, method, path, body, nil)
}

func (e *testEnv) doWithHeader(
	t *testing.T,
	method, path string,
	body any,
	header http.Header,
) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func echoGenerator() generation.Generator {
	return generation.GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		return "echo: " + prompt, nil
	})
}
