package genpass

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	contract "github.com/woxQAQ/genpass-host/api/wasm"
	"github.com/woxQAQ/genpass-host/internal/wasm"
)

// State is the lifecycle state of the hosted module.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ManagerConfig holds lifecycle manager configuration.
type ManagerConfig struct {
	// Runtime configures the wazero runtime; nil uses the defaults.
	Runtime *wasm.RuntimeConfig

	// InitFunction is the one-time initializer export.
	InitFunction string

	// HostOptions are passed to the capability host.
	HostOptions []wasm.HostOption

	// OnStateChange is called after every transition, outside any lock.
	OnStateChange func(from, to State)
}

// DefaultManagerConfig returns the default configuration.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		Runtime:      wasm.DefaultRuntimeConfig(),
		InitFunction: contract.ExportInitialize,
	}
}

// Manager owns the single module handle and its state. Every call sequence
// into the module runs under callMu; state reads never wait on a call.
type Manager struct {
	config *ManagerConfig
	logger *zap.Logger

	callMu   sync.Mutex
	runtime  *wasm.Runtime
	instance *wasm.Instance

	stateMu sync.RWMutex
	state   State
	err     error
}

// NewManager creates an unloaded manager.
func NewManager(logger *zap.Logger, config *ManagerConfig) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if config.InitFunction == "" {
		config.InitFunction = contract.ExportInitialize
	}
	return &Manager{
		config: config,
		logger: logger.With(zap.String("component", "genpass-lifecycle")),
		state:  StateUnloaded,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Err returns the cause of the Failed state, or nil.
func (m *Manager) Err() error {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.err
}

func (m *Manager) transition(to State, cause error) {
	m.stateMu.Lock()
	from := m.state
	m.state = to
	m.err = cause
	m.stateMu.Unlock()
	m.notify(from, to, cause)
}

func (m *Manager) notify(from, to State, cause error) {
	if to == StateFailed {
		m.logger.Error("Module failed",
			zap.Stringer("from", from),
			zap.Error(cause),
		)
	} else {
		m.logger.Info("Module state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}

	if m.config.OnStateChange != nil {
		m.config.OnStateChange(from, to)
	}
}

// Load retrieves, compiles and instantiates the module, then runs its
// initializer exactly once. It may only be called from Unloaded. Any failure
// is terminal.
func (m *Manager) Load(ctx context.Context, source wasm.ModuleSource) error {
	m.stateMu.Lock()
	if m.state != StateUnloaded {
		m.stateMu.Unlock()
		return ErrAlreadyLoaded
	}
	m.state = StateLoading
	m.stateMu.Unlock()
	m.notify(StateUnloaded, StateLoading, nil)

	m.callMu.Lock()
	defer m.callMu.Unlock()

	// Close may have run between leaving Unloaded and taking callMu.
	m.stateMu.RLock()
	state, cause := m.state, m.err
	m.stateMu.RUnlock()
	if state != StateLoading {
		return &NotReadyError{State: state, Err: cause}
	}

	runtime, instance, err := m.load(ctx, source)
	if err != nil {
		m.transition(StateFailed, err)
		return err
	}

	m.runtime = runtime
	m.instance = instance
	m.transition(StateReady, nil)
	return nil
}

func (m *Manager) load(ctx context.Context, source wasm.ModuleSource) (*wasm.Runtime, *wasm.Instance, error) {
	runtime, err := wasm.NewRuntime(ctx, m.logger, m.config.Runtime)
	if err != nil {
		return nil, nil, err
	}

	fail := func(err error) (*wasm.Runtime, *wasm.Instance, error) {
		if closeErr := runtime.Close(ctx); closeErr != nil {
			m.logger.Warn("Failed to close runtime after load failure", zap.Error(closeErr))
		}
		return nil, nil, err
	}

	compiled, err := wasm.NewModuleLoader(runtime, m.logger).LoadModule(ctx, source)
	if err != nil {
		return fail(err)
	}

	host := wasm.NewHostFunctions(m.logger, m.config.HostOptions...)
	instance, err := wasm.NewInstanceManager(runtime, m.logger, host).Instantiate(ctx, &wasm.InstanceConfig{
		ModuleName: compiled.Name,
	})
	if err != nil {
		return fail(err)
	}

	if err := checkExports(instance, m.config.InitFunction); err != nil {
		return fail(err)
	}

	if _, err := instance.Call(ctx, m.config.InitFunction); err != nil {
		return fail(&InitializationError{Function: m.config.InitFunction, Err: err})
	}

	return runtime, instance, nil
}

func checkExports(instance *wasm.Instance, initFunction string) error {
	if !instance.HasMemory() {
		return &wasm.FunctionNotFoundError{ModuleName: instance.Name, FunctionName: contract.ExportMemory}
	}
	for _, name := range append([]string{initFunction}, contract.RequiredExports()...) {
		if !instance.Has(name) {
			return &wasm.FunctionNotFoundError{ModuleName: instance.Name, FunctionName: name}
		}
	}
	return nil
}

// Do runs fn with exclusive access to the module's exports. Outside Ready it
// returns *NotReadyError without calling fn. A trap or exit inside fn moves
// the manager to Failed.
func (m *Manager) Do(ctx context.Context, fn func(wasm.Exports) error) error {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	m.stateMu.RLock()
	state, cause := m.state, m.err
	m.stateMu.RUnlock()
	if state != StateReady {
		return &NotReadyError{State: state, Err: cause}
	}

	err := fn(m.instance)
	if err != nil && (isFatal(err) || m.instance.Closed()) {
		m.transition(StateFailed, err)
	}
	return err
}

// Invoke calls one export.
func (m *Manager) Invoke(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	var results []uint64
	err := m.Do(ctx, func(e wasm.Exports) error {
		var err error
		results, err = e.Call(ctx, name, params...)
		return err
	})
	return results, err
}

// isFatal reports whether err means the module can no longer be trusted.
func isFatal(err error) bool {
	var (
		exitErr    *wasm.ModuleExitError
		callErr    *wasm.CallError
		timeoutErr *wasm.TimeoutError
	)
	return errors.As(err, &exitErr) ||
		errors.As(err, &callErr) ||
		errors.As(err, &timeoutErr) ||
		errors.Is(err, wasm.ErrModuleClosed)
}

// Close releases the module and runtime. The manager ends in Failed with
// wasm.ErrModuleClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	var err error
	if m.instance != nil {
		err = m.instance.Close(ctx)
		m.instance = nil
	}
	if m.runtime != nil {
		if closeErr := m.runtime.Close(ctx); err == nil {
			err = closeErr
		}
		m.runtime = nil
	}

	if m.State() != StateFailed {
		m.transition(StateFailed, wasm.ErrModuleClosed)
	}
	return err
}
