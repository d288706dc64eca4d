package wasm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	contract "github.com/woxQAQ/genpass-host/api/wasm"
)

// Exports is the table of operations an instantiated module offers the host.
type Exports interface {
	// Call invokes an exported function.
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)

	// Memory returns scoped access to the module's linear memory.
	Memory() *Memory

	// Has reports whether the module exports a function with that name.
	Has(name string) bool
}

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime *Runtime
	logger  *zap.Logger
	hosts   []HostModule
}

// NewInstanceManager creates a new instance manager. Every host module is
// made available to the guests it instantiates.
func NewInstanceManager(runtime *Runtime, logger *zap.Logger, hosts ...HostModule) *InstanceManager {
	return &InstanceManager{
		runtime: runtime,
		hosts:   hosts,
		logger:  logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, generates UUID).
	InstanceID string
}

// Instance represents an instantiated Wasm module.
type Instance struct {
	// wazero module instance.
	module api.Module

	runtime *Runtime
	timeout time.Duration

	// Instance metadata.
	ID        string
	Name      string
	CreatedAt int64

	// Exported functions (cached for performance).
	exports map[string]api.Function

	closed atomic.Bool
}

// Instantiate creates a new instance from a compiled module.
// Host functions are exported to the Wasm module. No start function runs;
// initialisation is the caller's responsibility.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	if limit := m.runtime.config.MaxInstances; limit > 0 && m.runtime.InstanceCount() >= limit {
		return nil, &InstanceLimitError{ModuleName: config.ModuleName, Max: limit}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	if err := m.ValidateImports(compiled); err != nil {
		return nil, err
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	for _, host := range m.hosts {
		if err := m.runtime.EnsureHostModule(ctx, host); err != nil {
			return nil, fmt.Errorf("failed to export host functions: %w", err)
		}
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions()

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	instance := &Instance{
		module:    module,
		runtime:   m.runtime,
		timeout:   m.runtime.config.ExecutionTimeout,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		exports:   cacheExportedFunctions(compiled.Module, module),
	}

	m.runtime.StoreInstance(instanceID, instance)

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(instance.exports)),
	)

	return instance, nil
}

// ValidateImports checks that every function the module imports is provided
// by one of the manager's host modules.
func (m *InstanceManager) ValidateImports(compiled *CompiledModule) error {
	provided := make(map[string]struct{})
	for _, host := range m.hosts {
		for _, fn := range host.Functions() {
			provided[host.Name()+"."+fn] = struct{}{}
		}
	}

	var missing []string
	for _, def := range compiled.Module.ImportedFunctions() {
		moduleName, name, _ := def.Import()
		key := moduleName + "." + name
		if _, ok := provided[key]; !ok {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return &ImportContractError{ModuleName: compiled.Name, Missing: missing}
	}
	return nil
}

// cacheExportedFunctions caches references to exported functions.
func cacheExportedFunctions(compiled wazero.CompiledModule, module api.Module) map[string]api.Function {
	exports := make(map[string]api.Function)
	for name := range compiled.ExportedFunctions() {
		if fn := module.ExportedFunction(name); fn != nil {
			exports[name] = fn
		}
	}
	return exports
}

// Call invokes an exported function. A proc_exit from the guest is returned
// as *ModuleExitError and closes the instance.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if i.closed.Load() {
		return nil, ErrModuleClosed
	}

	fn, ok := i.exports[name]
	if !ok {
		return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: name}
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	results, err := fn.Call(ctx, params...)
	if err == nil {
		return results, nil
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		i.closed.Store(true)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{FunctionName: name, Duration: i.timeout}
		}
		return nil, &ModuleExitError{ModuleName: i.Name, Code: exitErr.ExitCode(), Err: err}
	}

	return nil, &CallError{ModuleName: i.Name, FunctionName: name, Err: err}
}

// CallU32 invokes an export that returns one i32.
func CallU32(ctx context.Context, e Exports, name string, params ...uint64) (uint32, error) {
	results, err := e.Call(ctx, name, params...)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, &CallError{FunctionName: name, Err: errNoResult}
	}
	return api.DecodeU32(results[0]), nil
}

// ReadSlice calls a pointer/length accessor pair and decodes the slice they
// name. The memory view is acquired after both calls return.
func ReadSlice(ctx context.Context, e Exports, ptrExport, lenExport string) (string, error) {
	ptr, err := CallU32(ctx, e, ptrExport)
	if err != nil {
		return "", err
	}
	length, err := CallU32(ctx, e, lenExport)
	if err != nil {
		return "", err
	}
	return e.Memory().ReadString(StringSlice{Offset: ptr, Length: length})
}

// Memory returns scoped access to the instance's linear memory.
func (i *Instance) Memory() *Memory {
	return NewMemory(i.module)
}

// Has reports whether name is an exported function.
func (i *Instance) Has(name string) bool {
	_, ok := i.exports[name]
	return ok
}

// HasMemory reports whether the module exports its linear memory.
func (i *Instance) HasMemory() bool {
	return i.module.ExportedMemory(contract.ExportMemory) != nil
}

// Closed reports whether the instance has been closed or exited.
func (i *Instance) Closed() bool {
	return i.closed.Load()
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	i.closed.Store(true)
	i.runtime.DeleteInstance(i.ID)
	return i.module.Close(ctx)
}
