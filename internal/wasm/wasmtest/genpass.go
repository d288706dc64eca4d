package wasmtest

import (
	contract "github.com/woxQAQ/genpass-host/api/wasm"
)

// Fixed layout of the stub genpass module.
const (
	RenderedOffset  = 1024
	ElapsedOffset   = 1536
	TimestampOffset = 1600
	SavedOffset     = 2048

	// RandomOffset is where random_get writes when memory is not grown.
	RandomOffset = 4096
	// GrownRandomOffset is where random_get writes after the module grows
	// memory by one page; it lies inside the new page.
	GrownRandomOffset = 65536 + 256

	// ClockOffset holds the realtime reading; ClockOffset+8 the monotonic one.
	ClockOffset = 4200

	PageSize = 65536
)

// Extra exports of the stub used by tests.
const (
	ExportInitCount = "ctor_count"
	ExportLastCount = "last_count"
)

// GenpassOptions shapes the stub module.
type GenpassOptions struct {
	Rendered  string
	Elapsed   string
	Timestamp string
	Saved     string

	// RandomLength is the byte count requested from random_get (default 32).
	RandomLength uint32

	// GrowOnGenerate makes generate_data grow memory by one page and request
	// randomness into the new page.
	GrowOnGenerate bool

	// ExitOnGenerate makes generate_data call proc_exit(ExitCode).
	ExitOnGenerate bool
	ExitCode       uint32

	// TrapInInit makes the initializer hit unreachable.
	TrapInInit bool

	// OmitInitializer drops the initializer export.
	OmitInitializer bool

	// ExtraImport adds an import from wasi_snapshot_preview1 the host does not
	// provide.
	ExtraImport string
}

// DefaultGenpassOptions returns options producing a well-behaved stub.
func DefaultGenpassOptions() GenpassOptions {
	return GenpassOptions{
		Rendered:     "Xk29aPq81Lzm<br/>\n",
		Elapsed:      "0.000123s",
		Timestamp:    "1700000000",
		Saved:        "Xk29aPq81Lzm\n",
		RandomLength: 32,
	}
}

// Genpass assembles a stub that satisfies the genpass import and export
// contract. generate_data returns 1 for categories above 5, otherwise records
// the category and count, calls random_get and clock_time_get (realtime and
// monotonic) and returns 0. The output strings live in static data.
func Genpass(opts GenpassOptions) []byte {
	if opts.RandomLength == 0 {
		opts.RandomLength = 32
	}

	const (
		tRandom = iota // (i32, i32) -> i32, also generate_data
		tClock         // (i32, i64, i32) -> i32
		tExit          // (i32) -> ()
		tVoid          // () -> ()
		tGetter        // () -> i32
	)
	const (
		fnRandom uint32 = iota
		fnClock
		fnExit
	)
	const (
		gCategory uint32 = iota
		gInitCount
		gCount
	)

	m := &Module{
		Types: []FuncType{
			{Params: []byte{I32, I32}, Results: []byte{I32}},
			{Params: []byte{I32, I64, I32}, Results: []byte{I32}},
			{Params: []byte{I32}},
			{},
			{Results: []byte{I32}},
		},
		Imports: []Import{
			{Module: contract.ImportModule, Name: contract.ImportRandomGet, Type: tRandom},
			{Module: contract.ImportModule, Name: contract.ImportClockTimeGet, Type: tClock},
			{Module: contract.ImportModule, Name: contract.ImportProcExit, Type: tExit},
		},
		MemoryPages: 1,
		Globals:     3,
	}
	if opts.ExtraImport != "" {
		m.Imports = append(m.Imports, Import{Module: contract.ImportModule, Name: opts.ExtraImport, Type: tGetter})
	}

	initBody := join(GlobalGet(gInitCount), I32Const(1), []byte{opI32Add}, GlobalSet(gInitCount))
	if opts.TrapInInit {
		initBody = append(initBody, opUnreachable)
	}
	initExport := contract.ExportInitialize
	if opts.OmitInitializer {
		initExport = ""
	}

	randomOffset := int32(RandomOffset)
	var grow []byte
	if opts.GrowOnGenerate {
		randomOffset = GrownRandomOffset
		grow = join(I32Const(1), []byte{opMemoryGrow, 0x00, opDrop})
	}
	var exit []byte
	if opts.ExitOnGenerate {
		exit = join(I32Const(int32(opts.ExitCode)), Call(fnExit), []byte{opUnreachable})
	}

	generate := join(
		// categories above pin12 are rejected with status 1
		LocalGet(0), I32Const(5), []byte{opI32GtU, opIf, blockEmpty},
		I32Const(1), []byte{opReturn, opEnd},
		LocalGet(0), GlobalSet(gCategory),
		LocalGet(1), GlobalSet(gCount),
		exit,
		grow,
		I32Const(randomOffset), I32Const(int32(opts.RandomLength)), Call(fnRandom), []byte{opDrop},
		I32Const(int32(contract.ClockRealtime)), I64Const(0), I32Const(ClockOffset), Call(fnClock), []byte{opDrop},
		I32Const(int32(contract.ClockMonotonic)), I64Const(0), I32Const(ClockOffset+8), Call(fnClock), []byte{opDrop},
		I32Const(0),
	)

	getter := func(export string, v int32) Func {
		return Func{Type: tGetter, Export: export, Body: I32Const(v)}
	}

	m.Funcs = []Func{
		{Type: tVoid, Export: initExport, Body: initBody},
		{Type: tRandom, Export: contract.ExportGenerate, Body: generate},
		{Type: tGetter, Export: contract.ExportLastCategory, Body: GlobalGet(gCategory)},
		getter(contract.ExportRenderedPtr, RenderedOffset),
		getter(contract.ExportRenderedLen, int32(len(opts.Rendered))),
		getter(contract.ExportElapsedPtr, ElapsedOffset),
		getter(contract.ExportElapsedLen, int32(len(opts.Elapsed))),
		getter(contract.ExportTimestampPtr, TimestampOffset),
		getter(contract.ExportTimestampLen, int32(len(opts.Timestamp))),
		getter(contract.ExportSavedPtr, SavedOffset),
		getter(contract.ExportSavedLen, int32(len(opts.Saved))),
		{Type: tGetter, Export: ExportInitCount, Body: GlobalGet(gInitCount)},
		{Type: tGetter, Export: ExportLastCount, Body: GlobalGet(gCount)},
	}

	m.Data = []Data{
		{Offset: RenderedOffset, Bytes: []byte(opts.Rendered)},
		{Offset: ElapsedOffset, Bytes: []byte(opts.Elapsed)},
		{Offset: TimestampOffset, Bytes: []byte(opts.Timestamp)},
		{Offset: SavedOffset, Bytes: []byte(opts.Saved)},
	}

	return m.Encode()
}

// Empty is the smallest valid module.
func Empty() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
}
