package offline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/genpass-host/internal/wasm"
)

var _ wasm.AssetFetcher = (*Worker)(nil)

// testOrigin serves fixed bodies and counts every request it receives.
type testOrigin struct {
	mu     sync.Mutex
	bodies map[string]string
	hits   atomic.Int64
	server *httptest.Server
}

func newTestOrigin(t *testing.T, bodies map[string]string) *testOrigin {
	t.Helper()
	o := &testOrigin{bodies: bodies}
	o.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		o.mu.Lock()
		body, ok := o.bodies[r.URL.RequestURI()]
		o.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(o.server.Close)
	return o
}

func (o *testOrigin) set(path, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bodies[path] = body
}

func (o *testOrigin) remove(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.bodies, path)
}

func defaultBodies(version string) map[string]string {
	return map[string]string{
		"/":                     "<!doctype html><html><body>genpass " + version + "</body></html>",
		"/app.js":               "loadWasm(); // " + version,
		"/sw-register.js":       "navigator.serviceWorker.register('/sw.js');",
		"/genpass.wasm":         "\x00asm\x01\x00\x00\x00",
		"/manifest.webmanifest": `{"name":"genpass"}`,
		"/style.css":            "body { margin: 0 }",
		"/icon.webp":            "RIFF\x00\x00\x00\x00WEBPVP8 ",
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "cache.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func manifestFor(version string) *Manifest {
	m := DefaultManifest()
	m.Version = version
	return m
}

// startWorker runs a worker until the test ends.
func startWorker(t *testing.T, manifest *Manifest, store *Store, origin Origin) *Worker {
	t.Helper()
	w := NewWorker(&WorkerConfig{Manifest: manifest, Store: store, Origin: origin}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-w.done
	})
	return w
}

func TestWorkerServesInstalledAssetsFromCache(t *testing.T) {
	origin := newTestOrigin(t, defaultBodies("v1"))
	store := openTestStore(t)
	w := startWorker(t, manifestFor("v1"), store, NewHTTPOrigin(origin.server.URL, time.Second))
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))
	require.EqualValues(t, len(DefaultAssets()), origin.hits.Load())

	origin.hits.Store(0)
	for _, asset := range DefaultAssets() {
		res, err := w.Fetch(ctx, &FetchRequest{Method: http.MethodGet, Path: asset})
		require.NoError(t, err)
		assert.Equal(t, SourceCache, res.Source, asset)
		assert.Equal(t, http.StatusOK, res.Entry.Status)
		assert.Equal(t, defaultBodies("v1")[asset], string(res.Entry.Body))
	}
	assert.Zero(t, origin.hits.Load(), "installed assets must not reach the network")
}

func TestWorkerServesOfflineAfterOriginGoesAway(t *testing.T) {
	origin := newTestOrigin(t, defaultBodies("v1"))
	store := openTestStore(t)
	w := startWorker(t, manifestFor("v1"), store, NewHTTPOrigin(origin.server.URL, time.Second))
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))
	origin.server.Close()

	body, err := w.FetchAsset(ctx, "/genpass.wasm")
	require.NoError(t, err)
	assert.Equal(t, "\x00asm\x01\x00\x00\x00", string(body))

	_, err = w.FetchAsset(ctx, "/not-cached.js")
	assert.Error(t, err)
}

func TestWorkerActivateRemovesOldVersions(t *testing.T) {
	origin := newTestOrigin(t, defaultBodies("v1"))
	store := openTestStore(t)
	ctx := context.Background()

	v1 := startWorker(t, manifestFor("v1"), store, NewHTTPOrigin(origin.server.URL, time.Second))
	require.NoError(t, v1.Start(ctx))

	for path, body := range defaultBodies("v2") {
		origin.set(path, body)
	}
	v2 := startWorker(t, manifestFor("v2"), store, NewHTTPOrigin(origin.server.URL, time.Second))

	require.NoError(t, v2.Install(ctx))
	names, err := store.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"genpass-cache-v1", "genpass-cache-v2"}, names, "install must not delete old stores")

	require.NoError(t, v2.Activate(ctx))
	names, err = store.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"genpass-cache-v2"}, names)

	active, err := store.Active()
	require.NoError(t, err)
	assert.Equal(t, "genpass-cache-v2", active)

	res, err := v2.Fetch(ctx, &FetchRequest{Method: http.MethodGet, Path: "/app.js"})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "loadWasm(); // v2", string(res.Entry.Body))
}

func TestWorkerInstallFailureKeepsPreviousStore(t *testing.T) {
	origin := newTestOrigin(t, defaultBodies("v1"))
	store := openTestStore(t)
	ctx := context.Background()

	v1 := startWorker(t, manifestFor("v1"), store, NewHTTPOrigin(origin.server.URL, time.Second))
	require.NoError(t, v1.Start(ctx))

	origin.set("/app.js", "loadWasm(); // v2")
	origin.remove("/icon.webp")
	v2 := startWorker(t, manifestFor("v2"), store, NewHTTPOrigin(origin.server.URL, time.Second))

	err := v2.Start(ctx)
	var installErr *InstallError
	require.True(t, errors.As(err, &installErr), "got %v", err)
	assert.Equal(t, "genpass-cache-v2", installErr.Store)
	assert.Equal(t, "/icon.webp", installErr.Asset)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Status)

	// Nothing was committed and v1 stays authoritative.
	names, err := store.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"genpass-cache-v1"}, names)

	active, err := store.Active()
	require.NoError(t, err)
	assert.Equal(t, "genpass-cache-v1", active)

	res, err := v2.Fetch(ctx, &FetchRequest{Method: http.MethodGet, Path: "/app.js"})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "loadWasm(); // v1", string(res.Entry.Body))

	// Activation is refused after the failed install.
	assert.ErrorIs(t, v2.Activate(ctx), ErrNotInstalled)
}

func TestWorkerActivateExistingStore(t *testing.T) {
	origin := newTestOrigin(t, defaultBodies("v1"))
	store := openTestStore(t)
	ctx := context.Background()

	first := startWorker(t, manifestFor("v1"), store, NewHTTPOrigin(origin.server.URL, time.Second))
	require.NoError(t, first.Install(ctx))

	// A later worker may activate a store installed by an earlier one.
	second := startWorker(t, manifestFor("v1"), store, NewHTTPOrigin(origin.server.URL, time.Second))
	require.NoError(t, second.Activate(ctx))
}

func TestWorkerActivateWithoutInstall(t *testing.T) {
	store := openTestStore(t)
	w := startWorker(t, manifestFor("v1"), store, NewHTTPOrigin("http://127.0.0.1:0", time.Second))

	assert.ErrorIs(t, w.Activate(context.Background()), ErrNotInstalled)
}

func TestWorkerMissFallsBackWithoutWriteBack(t *testing.T) {
	bodies := defaultBodies("v1")
	bodies["/extra.txt"] = "extra"
	origin := newTestOrigin(t, bodies)
	store := openTestStore(t)
	w := startWorker(t, manifestFor("v1"), store, NewHTTPOrigin(origin.server.URL, time.Second))
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))
	origin.hits.Store(0)

	for i := 0; i < 2; i++ {
		res, err := w.Fetch(ctx, &FetchRequest{Method: http.MethodGet, Path: "/extra.txt"})
		require.NoError(t, err)
		assert.Equal(t, SourceNetwork, res.Source)
		assert.Equal(t, "extra", string(res.Entry.Body))
	}
	assert.EqualValues(t, 2, origin.hits.Load())

	keys, err := store.Keys("genpass-cache-v1")
	require.NoError(t, err)
	assert.NotContains(t, keys, "/extra.txt")
}

func TestWorkerNonGetGoesToNetwork(t *testing.T) {
	origin := newTestOrigin(t, defaultBodies("v1"))
	store := openTestStore(t)
	w := startWorker(t, manifestFor("v1"), store, NewHTTPOrigin(origin.server.URL, time.Second))
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))
	origin.hits.Store(0)

	res, err := w.Fetch(ctx, &FetchRequest{Method: http.MethodPost, Path: "/app.js"})
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.EqualValues(t, 1, origin.hits.Load())
}

func TestWorkerBeforeAnyActivationUsesNetwork(t *testing.T) {
	origin := newTestOrigin(t, defaultBodies("v1"))
	store := openTestStore(t)
	w := startWorker(t, manifestFor("v1"), store, NewHTTPOrigin(origin.server.URL, time.Second))
	ctx := context.Background()

	require.NoError(t, w.Install(ctx))

	res, err := w.Fetch(ctx, &FetchRequest{Method: http.MethodGet, Path: "/style.css"})
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, res.Source)
}

func TestWorkerStores(t *testing.T) {
	origin := newTestOrigin(t, defaultBodies("v1"))
	store := openTestStore(t)
	w := startWorker(t, manifestFor("v1"), store, NewHTTPOrigin(origin.server.URL, time.Second))
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))

	infos, err := w.Stores(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, StoreInfo{Name: "genpass-cache-v1", Active: true, Entries: len(DefaultAssets())}, infos[0])
}

func TestWorkerStopped(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(&WorkerConfig{Store: store, Origin: NewHTTPOrigin("http://127.0.0.1:0", time.Second)}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	cancel()
	<-w.done

	_, err := w.Fetch(context.Background(), &FetchRequest{Method: http.MethodGet, Path: "/"})
	assert.ErrorIs(t, err, ErrWorkerStopped)
}

func TestWorkerCallerContext(t *testing.T) {
	store := openTestStore(t)
	// Not running: the send blocks until the caller gives up.
	w := NewWorker(&WorkerConfig{Store: store}, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, w.Install(ctx), context.DeadlineExceeded)
}
