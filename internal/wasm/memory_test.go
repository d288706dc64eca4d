package wasm

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero/api"

	contract "github.com/woxQAQ/genpass-host/api/wasm"
	"github.com/woxQAQ/genpass-host/internal/wasm/wasmtest"
)

func TestMemoryReadString(t *testing.T) {
	instance, _ := newStubInstance(t, wasmtest.DefaultGenpassOptions())
	mem := instance.Memory()

	got, err := mem.ReadString(StringSlice{Offset: wasmtest.ElapsedOffset, Length: 9})
	if err != nil {
		t.Fatal(err)
	}
	if got != "0.000123s" {
		t.Errorf("ReadString = %q, want %q", got, "0.000123s")
	}

	empty, err := mem.ReadString(StringSlice{Offset: wasmtest.ElapsedOffset, Length: 0})
	if err != nil || empty != "" {
		t.Errorf("zero-length slice = %q, %v", empty, err)
	}
}

func TestMemoryOutOfRange(t *testing.T) {
	instance, _ := newStubInstance(t, wasmtest.DefaultGenpassOptions())
	mem := instance.Memory()

	_, err := mem.ReadString(StringSlice{Offset: wasmtest.PageSize - 2, Length: 8})
	accessErr, ok := err.(*MemoryAccessError)
	if !ok {
		t.Fatalf("expected MemoryAccessError, got %T", err)
	}
	if accessErr.Address != wasmtest.PageSize-2 || accessErr.Length != 8 {
		t.Errorf("unexpected error fields: %+v", accessErr)
	}

	if err := mem.WriteUint64Le(wasmtest.PageSize-4, 1); err == nil {
		t.Error("WriteUint64Le past the end should fail")
	}
}

func TestMemoryReadBytesCopies(t *testing.T) {
	instance, _ := newStubInstance(t, wasmtest.DefaultGenpassOptions())
	mem := instance.Memory()

	if err := mem.WriteBytes(8192, []byte("abcd")); err != nil {
		t.Fatal(err)
	}
	got, err := mem.ReadBytes(8192, 4)
	if err != nil {
		t.Fatal(err)
	}

	// Writes after the read must not show through the copy.
	if err := mem.WriteBytes(8192, []byte("wxyz")); err != nil {
		t.Fatal(err)
	}
	if string(got) != "abcd" {
		t.Errorf("ReadBytes result aliases memory: %q", got)
	}
}

func TestMemoryViewsSurviveGrowth(t *testing.T) {
	opts := wasmtest.DefaultGenpassOptions()
	opts.GrowOnGenerate = true
	instance, _ := newStubInstance(t, opts)
	ctx := context.Background()
	mem := instance.Memory()

	before, err := mem.ReadString(StringSlice{Offset: wasmtest.SavedOffset, Length: uint32(len(opts.Saved))})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := instance.Call(ctx, contract.ExportGenerate, api.EncodeU32(2), api.EncodeU32(3)); err != nil {
		t.Fatal(err)
	}

	after, err := mem.ReadString(StringSlice{Offset: wasmtest.SavedOffset, Length: uint32(len(opts.Saved))})
	if err != nil {
		t.Fatal(err)
	}
	if before != after || after != opts.Saved {
		t.Errorf("saved text changed across growth: %q -> %q", before, after)
	}

	// The grown page is addressable through a fresh view.
	if _, err := mem.ReadBytes(wasmtest.GrownRandomOffset, 8); err != nil {
		t.Errorf("grown page not readable: %v", err)
	}
}
