package server_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/captionflow/pkg/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingService struct {
	name     string
	startErr error
	mu       *sync.Mutex
	events   *[]string
}

func (r *recordingService) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.events = append(*r.events, "start "+r.name)
	return r.startErr
}

func (r *recordingService) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.events = append(*r.events, "stop "+r.name)
}

func newServices(names ...string) ([]*recordingService, *[]string, *sync.Mutex) {
	var events []string
	mu := &sync.Mutex{}
	var svcs []*recordingService
	for _, n := range names {
		svcs = append(svcs, &recordingService{name: n, mu: mu, events: &events})
	}
	return svcs, &events, mu
}

func testConfig() server.Config {
	return server.Config{ServiceName: "test", HTTPPort: "127.0.0.1:0", ShutdownTimeout: 5 * time.Second}
}

func TestNewServer_Validation(t *testing.T) {
	_, err := server.NewServer(server.Config{HTTPPort: ":0"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = server.NewServer(server.Config{ServiceName: "x"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = server.NewServer(testConfig(), zerolog.Nop(), nil)
	assert.Error(t, err)
}

func TestServer_HealthzAndExtraRoutes(t *testing.T) {
	srv, err := server.NewServer(testConfig(), zerolog.Nop())
	require.NoError(t, err)
	srv.Router().Get("/extra", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("extra"))
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extra", nil))
	assert.Equal(t, "extra", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RecoversFromPanics(t *testing.T) {
	srv, err := server.NewServer(testConfig(), zerolog.Nop())
	require.NoError(t, err)
	srv.Router().Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_StartStopOrder(t *testing.T) {
	svcs, events, mu := newServices("a", "b")
	srv, err := server.NewServer(testConfig(), zerolog.Nop(), svcs[0], svcs[1])
	require.NoError(t, err)

	require.NoError(t, srv.Start())
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok\n", string(body))

	require.NoError(t, srv.Stop(context.Background()))
	assert.Empty(t, srv.Addr())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, *events)
}

func TestServer_StartFailureStopsStartedServices(t *testing.T) {
	svcs, events, mu := newServices("a", "b", "c")
	svcs[1].startErr = errors.New("no")
	srv, err := server.NewServer(testConfig(), zerolog.Nop(), svcs[0], svcs[1], svcs[2])
	require.NoError(t, err)

	require.Error(t, srv.Start())
	assert.Empty(t, srv.Addr())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start a", "start b", "stop a"}, *events)
}

func TestServer_RunStopsOnContextCancel(t *testing.T) {
	svcs, events, mu := newServices("a")
	srv, err := server.NewServer(testConfig(), zerolog.Nop(), svcs[0])
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start a", "stop a"}, *events)
}

// loopService reports a failure of its background loop on demand.
type loopService struct {
	errs    chan error
	stopped chan struct{}
}

func newLoopService() *loopService {
	return &loopService{errs: make(chan error, 1), stopped: make(chan struct{})}
}

func (l *loopService) Start() error         { return nil }
func (l *loopService) Stop()                { close(l.stopped) }
func (l *loopService) Errors() <-chan error { return l.errs }

func TestServer_RunReturnsServiceFailure(t *testing.T) {
	svc := newLoopService()
	srv, err := server.NewServer(testConfig(), zerolog.Nop(), svc)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	svc.errs <- errors.New("change feed read failed: permission denied")

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorContains(t, err, "permission denied")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after a service failure")
	}
	select {
	case <-svc.stopped:
	default:
		t.Fatal("failed service was not stopped")
	}
}

func TestServer_HealthzReportsFailure(t *testing.T) {
	srv, err := server.NewServer(testConfig(), zerolog.Nop())
	require.NoError(t, err)
	srv.Fail(errors.New("archive loop ended"))
	srv.Fail(errors.New("second failure is ignored"))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "archive loop ended")
	assert.EqualError(t, srv.Failure(), "archive loop ended")
}
