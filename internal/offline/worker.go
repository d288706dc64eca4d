package offline

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Source tells where a fetch was answered from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Observer receives worker outcomes, e.g. for metrics.
type Observer interface {
	ObserveFetch(source Source)
	ObserveInstall(store string, duration time.Duration, err error)
	ObserveActivate(store string, deleted int)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(Source)                          {}
func (nopObserver) ObserveInstall(string, time.Duration, error) {}
func (nopObserver) ObserveActivate(string, int)                  {}

// FetchResult is the answer to a fetch event.
type FetchResult struct {
	Entry  *Entry
	Source Source
}

type eventKind int

const (
	eventInstall eventKind = iota
	eventActivate
	eventFetch
	eventInfo
)

func (k eventKind) String() string {
	switch k {
	case eventInstall:
		return "install"
	case eventActivate:
		return "activate"
	case eventFetch:
		return "fetch"
	case eventInfo:
		return "info"
	default:
		return "unknown"
	}
}

type event struct {
	kind  eventKind
	ctx   context.Context
	req   *FetchRequest
	reply chan reply
}

type reply struct {
	fetch *FetchResult
	infos []StoreInfo
	err   error
}

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Manifest *Manifest
	Store    *Store
	Origin   Origin
	Observer Observer
}

// Worker is the offline cache process. Run consumes lifecycle events one at a
// time, each to completion; the exported methods send an event and wait for
// its reply. The worker shares nothing with the compute module.
type Worker struct {
	manifest *Manifest
	store    *Store
	origin   Origin
	observer Observer
	logger   *zap.Logger

	events chan event
	done   chan struct{}

	// installed is owned by Run.
	installed bool
}

// NewWorker creates a worker. Call Run to start it.
func NewWorker(config *WorkerConfig, logger *zap.Logger) *Worker {
	manifest := config.Manifest
	if manifest == nil {
		manifest = DefaultManifest()
	}
	observer := config.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Worker{
		manifest: manifest,
		store:    config.Store,
		origin:   config.Origin,
		observer: observer,
		logger:   logger.With(zap.String("component", "offline-worker")),
		events:   make(chan event),
		done:     make(chan struct{}),
	}
}

// Manifest returns the worker's asset manifest.
func (w *Worker) Manifest() *Manifest {
	return w.manifest
}

// Run handles events until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	w.logger.Info("Offline worker started",
		zap.String("store", w.manifest.StoreName()),
		zap.Int("assets", len(w.manifest.Assets)),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Offline worker stopped")
			return
		case ev := <-w.events:
			ev.reply <- w.handle(ev)
		}
	}
}

func (w *Worker) handle(ev event) reply {
	w.logger.Debug("Handling event", zap.Stringer("event", ev.kind))

	switch ev.kind {
	case eventInstall:
		return reply{err: w.install(ev.ctx)}
	case eventActivate:
		return reply{err: w.activate()}
	case eventFetch:
		res, err := w.fetch(ev.ctx, ev.req)
		return reply{fetch: res, err: err}
	case eventInfo:
		infos, err := w.store.Info()
		return reply{infos: infos, err: err}
	default:
		return reply{}
	}
}

func (w *Worker) send(ctx context.Context, kind eventKind, req *FetchRequest) (reply, error) {
	ev := event{kind: kind, ctx: ctx, req: req, reply: make(chan reply, 1)}

	select {
	case w.events <- ev:
	case <-w.done:
		return reply{}, ErrWorkerStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	// Buffered: Run never blocks on an abandoned caller.
	select {
	case r := <-ev.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// Install populates the current store with every manifest asset.
func (w *Worker) Install(ctx context.Context) error {
	_, err := w.send(ctx, eventInstall, nil)
	return err
}

// Activate deletes every store but the current one and makes it active.
func (w *Worker) Activate(ctx context.Context) error {
	_, err := w.send(ctx, eventActivate, nil)
	return err
}

// Start installs then activates. An install failure skips activation and
// leaves the previously active store in place.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	return w.Activate(ctx)
}

// Fetch answers req cache-first with network fallback.
func (w *Worker) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	r, err := w.send(ctx, eventFetch, req)
	if err != nil {
		return nil, err
	}
	return r.fetch, nil
}

// Stores describes the stores on disk.
func (w *Worker) Stores(ctx context.Context) ([]StoreInfo, error) {
	r, err := w.send(ctx, eventInfo, nil)
	if err != nil {
		return nil, err
	}
	return r.infos, nil
}

// FetchAsset returns the body of a GET for path. Non-2xx is an error.
func (w *Worker) FetchAsset(ctx context.Context, path string) ([]byte, error) {
	res, err := w.Fetch(ctx, &FetchRequest{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, err
	}
	if res.Entry.Status < 200 || res.Entry.Status > 299 {
		return nil, &StatusError{Path: path, Status: res.Entry.Status}
	}
	return res.Entry.Body, nil
}

func (w *Worker) install(ctx context.Context) error {
	name := w.manifest.StoreName()
	start := time.Now()

	w.logger.Info("Installing cache store",
		zap.String("store", name),
		zap.Strings("assets", w.manifest.Assets),
	)

	entries := make(map[string]*Entry, len(w.manifest.Assets))
	for _, asset := range w.manifest.Assets {
		entry, err := w.origin.Fetch(ctx, &FetchRequest{Method: http.MethodGet, Path: asset})
		if err == nil && (entry.Status < 200 || entry.Status > 299) {
			err = &StatusError{Path: asset, Status: entry.Status}
		}
		if err != nil {
			installErr := &InstallError{Store: name, Asset: asset, Err: err}
			w.observer.ObserveInstall(name, time.Since(start), installErr)
			w.logger.Error("Cache install failed", zap.Error(installErr))
			return installErr
		}
		entries[asset] = entry
	}

	if err := w.store.Put(name, entries); err != nil {
		installErr := &InstallError{Store: name, Err: err}
		w.observer.ObserveInstall(name, time.Since(start), installErr)
		return installErr
	}

	w.installed = true
	w.observer.ObserveInstall(name, time.Since(start), nil)
	w.logger.Info("Cache store installed",
		zap.String("store", name),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (w *Worker) activate() error {
	name := w.manifest.StoreName()

	if !w.installed {
		exists, err := w.store.Exists(name)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotInstalled
		}
	}

	deleted, err := w.store.Activate(name)
	if err != nil {
		return err
	}

	w.observer.ObserveActivate(name, len(deleted))
	w.logger.Info("Cache store activated",
		zap.String("store", name),
		zap.Strings("deleted", deleted),
	)
	return nil
}

func (w *Worker) fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == "" {
		active, err := w.store.Active()
		if err != nil {
			return nil, err
		}
		if active != "" {
			entry, err := w.store.Get(active, req.Key())
			if err != nil {
				w.logger.Warn("Cache lookup failed", zap.String("key", req.Key()), zap.Error(err))
			} else if entry != nil {
				w.observer.ObserveFetch(SourceCache)
				return &FetchResult{Entry: entry, Source: SourceCache}, nil
			}
		}
	}

	entry, err := w.origin.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	w.observer.ObserveFetch(SourceNetwork)
	return &FetchResult{Entry: entry, Source: SourceNetwork}, nil
}
