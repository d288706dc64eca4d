package wasm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrModuleClosed is returned when an export is called on a closed instance.
var ErrModuleClosed = errors.New("wasm module is closed")

var errNoResult = errors.New("no result")

// EnvironmentUnsupportedError occurs when the host cannot execute Wasm with
// the requested engine.
type EnvironmentUnsupportedError struct {
	Engine string
	Reason string
}

func (e *EnvironmentUnsupportedError) Error() string {
	return fmt.Sprintf("Wasm engine '%s' is not supported on this host: %s", e.Engine, e.Reason)
}

// FetchError occurs when the module binary cannot be retrieved.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch Wasm module '%s': %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CompilationError occurs when Wasm module compilation fails
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile Wasm module '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// ImportContractError occurs when a module imports something the host does
// not provide.
type ImportContractError struct {
	ModuleName string
	Missing    []string
}

func (e *ImportContractError) Error() string {
	return fmt.Sprintf("module '%s' requires imports the host does not provide: %s",
		e.ModuleName, strings.Join(e.Missing, ", "))
}

// InstantiationError occurs when module instantiation fails
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("failed to instantiate module '%s' (instance: %s): %v",
		e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// ModuleNotFoundError occurs when a module is not in cache
type ModuleNotFoundError struct {
	ModuleName string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module '%s' not found in cache", e.ModuleName)
}

// FunctionNotFoundError occurs when an exported function is missing
type FunctionNotFoundError struct {
	ModuleName   string
	FunctionName string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function '%s' not found in module '%s'",
		e.FunctionName, e.ModuleName)
}

// MemoryAccessError occurs when memory operations fail
type MemoryAccessError struct {
	Operation string
	Address   uint32
	Length    uint32
	Err       error
}

func (e *MemoryAccessError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("memory access failed (op=%s, addr=%d, len=%d): out of range",
			e.Operation, e.Address, e.Length)
	}
	return fmt.Sprintf("memory access failed (op=%s, addr=%d, len=%d): %v",
		e.Operation, e.Address, e.Length, e.Err)
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

// HostFunctionError occurs when host function execution fails
type HostFunctionError struct {
	FunctionName string
	Err          error
}

func (e *HostFunctionError) Error() string {
	return fmt.Sprintf("host function '%s' failed: %v", e.FunctionName, e.Err)
}

func (e *HostFunctionError) Unwrap() error {
	return e.Err
}

// ModuleExitError occurs when the module calls proc_exit. It is fatal for the
// instance: nothing may be called on it afterwards.
type ModuleExitError struct {
	ModuleName string
	Code       uint32
	Err        error
}

func (e *ModuleExitError) Error() string {
	return fmt.Sprintf("module '%s' exited with code %d", e.ModuleName, e.Code)
}

func (e *ModuleExitError) Unwrap() error {
	return e.Err
}

// CallError occurs when an exported function traps.
type CallError struct {
	ModuleName   string
	FunctionName string
	Err          error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call to '%s' in module '%s' failed: %v",
		e.FunctionName, e.ModuleName, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// TimeoutError occurs when Wasm execution times out
type TimeoutError struct {
	FunctionName string
	Duration     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Wasm execution of '%s' timed out after %v", e.FunctionName, e.Duration)
}

// InstanceLimitError occurs when the runtime already hosts MaxInstances.
type InstanceLimitError struct {
	ModuleName string
	Max        int
}

func (e *InstanceLimitError) Error() string {
	return fmt.Sprintf("cannot instantiate module '%s': instance limit %d reached", e.ModuleName, e.Max)
}
