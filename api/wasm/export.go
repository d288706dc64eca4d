// Package wasm names the boundary between the host and the genpass compute
// module: the capability imports the host must provide and the exports the
// host calls.
//
// NOTE: uint32 is used for pointers and lengths because WebAssembly uses a 32-bit
// linear memory model. All Wasm memory addresses are represented as 32-bit integers.
package wasm

// ImportModule is the import namespace of every capability the module needs.
const ImportModule = "wasi_snapshot_preview1"

// Capability imports provided by the host.
//
//	random_get(ptr, len uint32) errno
//	clock_time_get(clock_id uint32, precision uint64, result_ptr uint32) errno
//	proc_exit(code uint32)
const (
	ImportRandomGet    = "random_get"
	ImportClockTimeGet = "clock_time_get"
	ImportProcExit     = "proc_exit"
)

// Exports the compute module must provide.
const (
	ExportMemory = "memory"

	// ExportInitialize runs static constructors. It must be called exactly
	// once, before any other export.
	ExportInitialize = "__wasm_call_ctors"

	// generate_data(category, count uint32) uint32; 0 on success.
	ExportGenerate = "generate_data"

	ExportLastCategory = "get_last_generated_category"

	ExportRenderedPtr  = "get_html_ptr"
	ExportRenderedLen  = "get_html_len"
	ExportElapsedPtr   = "generated_elapsed_time_ptr"
	ExportElapsedLen   = "generated_elapsed_time_len"
	ExportTimestampPtr = "generated_last_timestamp_ptr"
	ExportTimestampLen = "generated_last_timestamp_len"
	ExportSavedPtr     = "get_saved_ptr"
	ExportSavedLen     = "get_saved_len"
)

// Clock ids understood by clock_time_get. Any id other than ClockRealtime is
// served from the monotonic clock.
const (
	ClockRealtime  uint32 = 0
	ClockMonotonic uint32 = 1
)

// ErrnoSuccess is the only status the capability imports return.
const ErrnoSuccess uint32 = 0

// Imports returns the names of every capability import.
func Imports() []string {
	return []string{ImportRandomGet, ImportClockTimeGet, ImportProcExit}
}

// SliceAccessors pairs the pointer and length exports of one output string.
type SliceAccessors struct {
	Ptr string
	Len string
}

var (
	RenderedSlice  = SliceAccessors{Ptr: ExportRenderedPtr, Len: ExportRenderedLen}
	ElapsedSlice   = SliceAccessors{Ptr: ExportElapsedPtr, Len: ExportElapsedLen}
	TimestampSlice = SliceAccessors{Ptr: ExportTimestampPtr, Len: ExportTimestampLen}
	SavedSlice     = SliceAccessors{Ptr: ExportSavedPtr, Len: ExportSavedLen}
)

// RequiredExports lists the function exports the host checks for after
// instantiation. The initializer is checked separately because its name is
// configurable.
func RequiredExports() []string {
	return []string{
		ExportGenerate,
		ExportLastCategory,
		ExportRenderedPtr, ExportRenderedLen,
		ExportElapsedPtr, ExportElapsedLen,
		ExportTimestampPtr, ExportTimestampLen,
		ExportSavedPtr, ExportSavedLen,
	}
}
