package genpass

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	contract "github.com/woxQAQ/genpass-host/api/wasm"
	"github.com/woxQAQ/genpass-host/internal/wasm"
)

// Invoker grants exclusive access to a module's exports. *Manager satisfies it.
type Invoker interface {
	Do(ctx context.Context, fn func(wasm.Exports) error) error
}

// Result is the decoded output of one generation.
type Result struct {
	Category Category
	Count    uint32

	// Rendered is the module's HTML fragment, verbatim.
	Rendered  string
	Elapsed   string
	Timestamp string
}

// Snapshot is the state the save action needs.
type Snapshot struct {
	Saved     string
	Category  Category
	Timestamp string
}

// Marshaller converts host values to module calls and decodes the
// pointer+length outputs.
type Marshaller struct {
	invoker Invoker
}

// NewMarshaller creates a marshaller over invoker.
func NewMarshaller(invoker Invoker) *Marshaller {
	return &Marshaller{invoker: invoker}
}

// Generate runs generate_data and decodes the rendered, elapsed and timestamp
// outputs. Each output is read through its own accessor calls and a fresh
// memory view.
func (m *Marshaller) Generate(ctx context.Context, category Category, count uint32) (*Result, error) {
	if !category.Valid() {
		return nil, &InvalidCategoryError{Value: int64(category)}
	}
	count = ClampCountValue(int64(count))

	result := &Result{Category: category, Count: count}
	err := m.invoker.Do(ctx, func(e wasm.Exports) error {
		status, err := wasm.CallU32(ctx, e, contract.ExportGenerate, api.EncodeU32(uint32(category)), api.EncodeU32(count))
		if err != nil {
			return err
		}
		if status != 0 {
			return &GenerationError{Category: category, Count: count, Status: status}
		}

		if result.Rendered, err = readSlice(ctx, e, contract.RenderedSlice); err != nil {
			return err
		}
		if result.Elapsed, err = readSlice(ctx, e, contract.ElapsedSlice); err != nil {
			return err
		}
		result.Timestamp, err = readSlice(ctx, e, contract.TimestampSlice)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Snapshot reads the saved text, the last generated category and the last
// timestamp.
func (m *Marshaller) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	err := m.invoker.Do(ctx, func(e wasm.Exports) error {
		var err error
		if snap.Saved, err = readSlice(ctx, e, contract.SavedSlice); err != nil {
			return err
		}

		raw, err := wasm.CallU32(ctx, e, contract.ExportLastCategory)
		if err != nil {
			return err
		}
		snap.Category = Category(raw)

		snap.Timestamp, err = readSlice(ctx, e, contract.TimestampSlice)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func readSlice(ctx context.Context, e wasm.Exports, s contract.SliceAccessors) (string, error) {
	return wasm.ReadSlice(ctx, e, s.Ptr, s.Len)
}
