package gowasm_test

import (
	"context"
	"fmt"
	"log"

	"github.com/gowasm/gowasm"
	"github.com/gowasm/gowasm/api"
)

// addWasm is (module (func (export "add") (param i32 i32) (result i32)
// local.get 0 local.get 1 i32.add)), assembled by hand: the engine consumes
// the binary format directly.
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // preamble
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f, // type
	0x03, 0x02, 0x01, 0x00, // function
	0x07, 0x07, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00, // export
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b, // code
}

// This example shows restricting a runtime to WebAssembly Core 1.0 features
// using RuntimeConfig.WithCoreFeatures.
func Example_runtimeConfig_WithCoreFeatures() {
	ctx := context.Background()
	config := gowasm.NewRuntimeConfig().WithCoreFeatures(api.CoreFeaturesV1)

	r := gowasm.NewRuntimeWithConfig(config)
	defer r.Close(ctx)

	mod, err := r.InstantiateModuleFromBinary(ctx, addWasm)
	if err != nil {
		log.Panicln(err)
	}

	results, err := mod.ExportedFunction("add").Call(ctx, 2, 3)
	if err != nil {
		log.Panicln(err)
	}
	fmt.Println(results[0])

	// Output:
	// 5
}
