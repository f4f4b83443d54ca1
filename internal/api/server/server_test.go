package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-version-index/internal/api/middleware"
	"github.com/feral-file/ff-version-index/internal/logger"
	"github.com/feral-file/ff-version-index/internal/mocks"
	"github.com/feral-file/ff-version-index/internal/store"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

func TestRouter(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := mocks.NewMockStore(ctrl)
	mockStore.EXPECT().State().Return(store.StateServing)

	srv := New(Config{MaxBlockWindow: 10, MaxPageSize: 10}, mockStore)
	router := srv.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/changes", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	router.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RecoversPanics(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := mocks.NewMockStore(ctrl)
	mockStore.EXPECT().State().DoAndReturn(func() store.State {
		panic("boom")
	})

	router := New(Config{}, mockStore).Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestShutdown_NotStarted(t *testing.T) {
	srv := New(Config{}, nil)
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestShutdown_WaitsForRebuildWhenShutdownFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := mocks.NewMockStore(ctrl)
	mockStore.EXPECT().State().Return(store.StateServing)

	var rebuildReturned atomic.Bool
	rebuildStarted := make(chan struct{})
	mockStore.EXPECT().Rebuild(gomock.Any()).DoAndReturn(func(ctx context.Context) (int, error) {
		close(rebuildStarted)
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		rebuildReturned.Store(true)
		return 0, ctx.Err()
	})

	srv := New(Config{Auth: middleware.AuthConfig{APIKeys: []string{"key"}}}, mockStore)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/rebuild", nil)
	req.Header.Set("Authorization", "ApiKey key")
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
	<-rebuildStarted

	// a request that never finishes keeps http.Server.Shutdown from completing
	release := make(chan struct{})
	defer close(release)
	inFlight := make(chan struct{})
	srv.httpServer = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(inFlight)
		<-release
	})}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.httpServer.Serve(ln) }()
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err == nil {
			_ = resp.Body.Close()
		}
	}()
	<-inFlight

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, srv.Shutdown(ctx))
	assert.True(t, rebuildReturned.Load())
}
