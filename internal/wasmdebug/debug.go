// Package wasmdebug builds the wasm-side stack traces attached to errors
// that escape a call into the interpreter, independent of Go's own stack
// trace (which is meaningless to an embedder debugging their Wasm module).
package wasmdebug

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/wasmruntime"
)

// MaxFrames caps how many wasm stack frames are rendered into an error's
// stack trace, to keep a deep recursive trap's message bounded.
const MaxFrames = 32

// FuncName formats a frame's function identity the way a wasm stack trace
// line names it: "moduleName.funcName", falling back to "$funcIdx" when the
// function has no name (most function names come from an optional custom
// section and are frequently absent).
func FuncName(moduleName, funcName string, funcIdx uint32) string {
	if funcName == "" {
		funcName = "$" + strconv.FormatUint(uint64(funcIdx), 10)
	}
	return moduleName + "." + funcName
}

// signature appends a Go-style function signature to name, e.g.
// "x.y(i32,f64) i64" or "x.y() (i64,f32)".
func signature(name string, paramTypes, resultTypes []api.ValueType) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('(')
	for i, t := range paramTypes {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(api.ValueTypeName(t))
	}
	sb.WriteByte(')')
	switch len(resultTypes) {
	case 0:
	case 1:
		sb.WriteByte(' ')
		sb.WriteString(api.ValueTypeName(resultTypes[0]))
	default:
		sb.WriteString(" (")
		for i, t := range resultTypes {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(api.ValueTypeName(t))
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// ErrorBuilder accumulates call frames, innermost first, then renders them
// into a single error alongside whatever panic value unwound the call.
type ErrorBuilder interface {
	// AddFrame records one call frame, innermost-called-first.
	AddFrame(name string, paramTypes, resultTypes []api.ValueType)
	// FromRecovered builds the final error from a value captured by
	// recover(). The returned error's Unwrap returns recovered verbatim
	// when recovered is already an error, so callers can still
	// errors.Is/As through it.
	FromRecovered(recovered interface{}) error
}

type errorBuilder struct {
	frames []string
}

// NewErrorBuilder returns a fresh ErrorBuilder.
func NewErrorBuilder() ErrorBuilder {
	return &errorBuilder{}
}

func (e *errorBuilder) AddFrame(name string, paramTypes, resultTypes []api.ValueType) {
	if len(e.frames) >= MaxFrames {
		return
	}
	e.frames = append(e.frames, signature(name, paramTypes, resultTypes))
}

func (e *errorBuilder) FromRecovered(recovered interface{}) error {
	var wrapped error
	var message string
	switch v := recovered.(type) {
	case *wasmruntime.Error:
		// An uncaught wasm exception is an expected outcome, not a
		// recovered engine fault.
		wrapped = v
		message = v.Error()
	case error:
		wrapped = v
		if _, ok := v.(runtime.Error); ok {
			message = v.Error() + " (recovered by gowasm)"
		} else if isWasmRuntimeError(v) {
			message = v.Error()
		} else {
			message = v.Error() + " (recovered by gowasm)"
		}
	default:
		wrapped = fmt.Errorf("%v", recovered)
		message = fmt.Sprintf("%v (recovered by gowasm)", recovered)
	}

	var sb strings.Builder
	sb.WriteString(message)
	if len(e.frames) > 0 {
		sb.WriteString("\nwasm stack trace:")
		for _, f := range e.frames {
			sb.WriteString("\n\t")
			sb.WriteString(f)
		}
	}
	return &traceError{msg: sb.String(), cause: wrapped}
}

// isWasmRuntimeError reports whether err is one of the sentinel traps
// defined in internal/wasmruntime, which already carry a "wasm error: "
// prefix and shouldn't be decorated further.
func isWasmRuntimeError(err error) bool {
	return strings.HasPrefix(err.Error(), "wasm error: ")
}

type traceError struct {
	msg   string
	cause error
}

func (e *traceError) Error() string { return e.msg }
func (e *traceError) Unwrap() error { return e.cause }
