package wasm

import (
	"context"
	"crypto/rand"
	"io"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	contract "github.com/woxQAQ/genpass-host/api/wasm"
)

// HostModule is a set of host functions imported by guest modules under one
// namespace.
type HostModule interface {
	// Name is the import module name.
	Name() string

	// Functions lists the function names exported by the host module.
	Functions() []string

	// Export registers the functions on builder.
	Export(builder wazero.HostModuleBuilder)
}

// HostFunctionsImpl implements the capability imports of the compute module.
// It keeps no per-instance state; every call resolves the calling module's
// current memory.
type HostFunctionsImpl struct {
	logger *zap.Logger

	// entropy is the randomness source for random_get.
	entropy io.Reader

	// origin anchors the monotonic clock.
	origin time.Time

	// now is mutable for testing.
	now func() time.Time
}

// HostOption configures HostFunctionsImpl.
type HostOption func(*HostFunctionsImpl)

// WithEntropy replaces crypto/rand as the random_get source.
func WithEntropy(r io.Reader) HostOption {
	return func(h *HostFunctionsImpl) { h.entropy = r }
}

// WithClock replaces time.Now for both clocks.
func WithClock(now func() time.Time) HostOption {
	return func(h *HostFunctionsImpl) { h.now = now }
}

// NewHostFunctions creates a new host functions implementation.
func NewHostFunctions(logger *zap.Logger, opts ...HostOption) *HostFunctionsImpl {
	h := &HostFunctionsImpl{
		logger:  logger.With(zap.String("component", "wasm-host")),
		entropy: rand.Reader,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.origin = h.now()
	return h
}

// Name returns the WASI preview1 namespace.
func (h *HostFunctionsImpl) Name() string {
	return contract.ImportModule
}

// Functions returns the capability imports this host provides.
func (h *HostFunctionsImpl) Functions() []string {
	return contract.Imports()
}

// Export registers the capability functions on builder.
func (h *HostFunctionsImpl) Export(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(h.randomGet).
		WithParameterNames("buf", "buf_len").
		WithResultNames("errno").
		Export(contract.ImportRandomGet)

	builder.NewFunctionBuilder().
		WithFunc(h.clockTimeGet).
		WithParameterNames("id", "precision", "result.timestamp").
		WithResultNames("errno").
		Export(contract.ImportClockTimeGet)

	builder.NewFunctionBuilder().
		WithFunc(h.procExit).
		WithParameterNames("rval").
		Export(contract.ImportProcExit)
}

// randomGet fills buf_len bytes at buf with cryptographically strong random
// bytes.
// Signature: random_get(buf, buf_len) errno
func (h *HostFunctionsImpl) randomGet(ctx context.Context, mod api.Module, buf uint32, bufLen uint32) uint32 {
	err := NewMemory(mod).WithView("random_get", buf, bufLen, func(view []byte) error {
		_, err := io.ReadFull(h.entropy, view)
		return err
	})
	if err != nil {
		h.fatal(contract.ImportRandomGet, err)
	}
	return contract.ErrnoSuccess
}

// clockTimeGet writes a nanosecond timestamp at result.timestamp.
// Clock 0 is wall-clock time since the Unix epoch; every other id is the
// monotonic clock since the host was created. precision is ignored.
// Signature: clock_time_get(id, precision, result.timestamp) errno
func (h *HostFunctionsImpl) clockTimeGet(ctx context.Context, mod api.Module, id uint32, precision uint64, resultTimestamp uint32) uint32 {
	if err := NewMemory(mod).WriteUint64Le(resultTimestamp, h.clockNanos(id)); err != nil {
		h.fatal(contract.ImportClockTimeGet, err)
	}
	return contract.ErrnoSuccess
}

func (h *HostFunctionsImpl) clockNanos(id uint32) uint64 {
	now := h.now()
	if id == contract.ClockRealtime {
		return uint64(now.UnixNano())
	}
	return uint64(now.Sub(h.origin).Nanoseconds())
}

// procExit terminates the calling module. It never returns into the guest.
// Signature: proc_exit(rval)
func (h *HostFunctionsImpl) procExit(ctx context.Context, mod api.Module, code uint32) {
	h.logger.Error("Wasm module requested exit",
		zap.String("module", mod.Name()),
		zap.Uint32("code", code),
	)

	_ = mod.CloseWithExitCode(ctx, code)

	// Unwinds the guest stack; wazero returns this as the call error.
	panic(sys.NewExitError(code))
}

// fatal aborts the current export call with a host error.
func (h *HostFunctionsImpl) fatal(name string, err error) {
	h.logger.Error("Host function failed",
		zap.String("function", name),
		zap.Error(err),
	)
	panic(&HostFunctionError{FunctionName: name, Err: err})
}
