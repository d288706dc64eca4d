// Package wasmtest assembles small WebAssembly binaries for tests.
package wasmtest

// Value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
)

// Export kinds.
const (
	exportFunc   byte = 0x00
	exportMemory byte = 0x02
)

// Opcodes used by the stub modules.
const (
	opUnreachable byte = 0x00
	opIf          byte = 0x04
	opEnd         byte = 0x0b
	opReturn      byte = 0x0f
	opCall        byte = 0x10
	opDrop        byte = 0x1a
	opLocalGet    byte = 0x20
	opGlobalGet   byte = 0x23
	opGlobalSet   byte = 0x24
	opMemoryGrow  byte = 0x40
	opI32Const    byte = 0x41
	opI64Const    byte = 0x42
	opI32GtU      byte = 0x4b
	opI32Add      byte = 0x6a
	blockEmpty    byte = 0x40
)

// FuncType is a function signature.
type FuncType struct {
	Params  []byte
	Results []byte
}

// Import is a function import.
type Import struct {
	Module string
	Name   string
	Type   uint32
}

// Func is a defined function with its body (without the trailing end).
type Func struct {
	Type   uint32
	Export string
	Body   []byte
}

// Data is an active data segment in memory 0.
type Data struct {
	Offset uint32
	Bytes  []byte
}

// Module is the subset of the binary format the stubs need.
type Module struct {
	Types   []FuncType
	Imports []Import
	Funcs   []Func
	// MemoryPages is the initial memory size; zero omits the memory.
	MemoryPages uint32
	// Globals is the number of mutable i32 globals, each initialised to 0.
	Globals int
	Data    []Data
}

// Encode returns the binary encoding of m.
func (m *Module) Encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types []byte
	types = append(types, uleb(uint32(len(m.Types)))...)
	for _, t := range m.Types {
		types = append(types, 0x60)
		types = append(types, vec(t.Params)...)
		types = append(types, vec(t.Results)...)
	}
	out = section(out, 1, types)

	if len(m.Imports) > 0 {
		var imports []byte
		imports = append(imports, uleb(uint32(len(m.Imports)))...)
		for _, imp := range m.Imports {
			imports = append(imports, name(imp.Module)...)
			imports = append(imports, name(imp.Name)...)
			imports = append(imports, exportFunc)
			imports = append(imports, uleb(imp.Type)...)
		}
		out = section(out, 2, imports)
	}

	var funcs []byte
	funcs = append(funcs, uleb(uint32(len(m.Funcs)))...)
	for _, f := range m.Funcs {
		funcs = append(funcs, uleb(f.Type)...)
	}
	out = section(out, 3, funcs)

	if m.MemoryPages > 0 {
		mem := []byte{0x01, 0x00}
		mem = append(mem, uleb(m.MemoryPages)...)
		out = section(out, 5, mem)
	}

	if m.Globals > 0 {
		var globals []byte
		globals = append(globals, uleb(uint32(m.Globals))...)
		for i := 0; i < m.Globals; i++ {
			globals = append(globals, I32, 0x01, opI32Const, 0x00, opEnd)
		}
		out = section(out, 6, globals)
	}

	var exports []byte
	count := uint32(0)
	if m.MemoryPages > 0 {
		exports = append(exports, name("memory")...)
		exports = append(exports, exportMemory, 0x00)
		count++
	}
	base := uint32(len(m.Imports))
	for i, f := range m.Funcs {
		if f.Export == "" {
			continue
		}
		exports = append(exports, name(f.Export)...)
		exports = append(exports, exportFunc)
		exports = append(exports, uleb(base+uint32(i))...)
		count++
	}
	out = section(out, 7, append(uleb(count), exports...))

	var code []byte
	code = append(code, uleb(uint32(len(m.Funcs)))...)
	for _, f := range m.Funcs {
		body := []byte{0x00} // no locals
		body = append(body, f.Body...)
		body = append(body, opEnd)
		code = append(code, uleb(uint32(len(body)))...)
		code = append(code, body...)
	}
	out = section(out, 10, code)

	if len(m.Data) > 0 {
		var data []byte
		data = append(data, uleb(uint32(len(m.Data)))...)
		for _, d := range m.Data {
			data = append(data, 0x00, opI32Const)
			data = append(data, sleb(int64(d.Offset))...)
			data = append(data, opEnd)
			data = append(data, uleb(uint32(len(d.Bytes)))...)
			data = append(data, d.Bytes...)
		}
		out = section(out, 11, data)
	}

	return out
}

func section(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = append(out, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

func vec(types []byte) []byte {
	return append(uleb(uint32(len(types))), types...)
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}

// I32Const encodes i32.const v.
func I32Const(v int32) []byte {
	return append([]byte{opI32Const}, sleb(int64(v))...)
}

// I64Const encodes i64.const v.
func I64Const(v int64) []byte {
	return append([]byte{opI64Const}, sleb(v)...)
}

// Call encodes call idx.
func Call(idx uint32) []byte {
	return append([]byte{opCall}, uleb(idx)...)
}

// LocalGet encodes local.get idx.
func LocalGet(idx uint32) []byte {
	return append([]byte{opLocalGet}, uleb(idx)...)
}

// GlobalGet encodes global.get idx.
func GlobalGet(idx uint32) []byte {
	return append([]byte{opGlobalGet}, uleb(idx)...)
}

// GlobalSet encodes global.set idx.
func GlobalSet(idx uint32) []byte {
	return append([]byte{opGlobalSet}, uleb(idx)...)
}

func join(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
