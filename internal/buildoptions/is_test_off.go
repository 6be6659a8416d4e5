//go:build !gowasm_testing

package buildoptions

// IstTest true if currently running unit tests. This can be used to
// insert the "test-time" assertions in the main code as `if buildoptions.IstTest { ... }` block,
// which will be optimized out by the final binary of gowasm users.
const IstTest = false

// CallStackCeiling caps the interpreter's function call depth, converting
// unbounded Go-stack recursion from a runaway recursive Wasm program into a
// catchable trap instead of a process-ending stack overflow.
const CallStackCeiling = 2000
