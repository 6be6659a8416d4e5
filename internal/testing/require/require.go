// Package require contains test assertion helpers used across this module's
// test suites. It exists so that test files share one vocabulary instead of
// each importing testify directly, and so the panic-capture idiom used by
// trap/exception tests lives in one place.
package require

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func True(t testing.TB, value bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.True(t, value, msgAndArgs...)
}

func False(t testing.TB, value bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.False(t, value, msgAndArgs...)
}

func Equal(t testing.TB, expected, actual interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	require.Equal(t, expected, actual, msgAndArgs...)
}

func NotEqual(t testing.TB, expected, actual interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	require.NotEqual(t, expected, actual, msgAndArgs...)
}

func Nil(t testing.TB, object interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	require.Nil(t, object, msgAndArgs...)
}

func NotNil(t testing.TB, object interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	require.NotNil(t, object, msgAndArgs...)
}

func Error(t testing.TB, err error, msgAndArgs ...interface{}) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
}

func NoError(t testing.TB, err error, msgAndArgs ...interface{}) {
	t.Helper()
	require.NoError(t, err, msgAndArgs...)
}

func EqualError(t testing.TB, err error, msg string, msgAndArgs ...interface{}) {
	t.Helper()
	require.EqualError(t, err, msg, msgAndArgs...)
}

func Contains(t testing.TB, s, contains interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Contains(t, s, contains, msgAndArgs...)
}

func Empty(t testing.TB, object interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	require.Empty(t, object, msgAndArgs...)
}

func NotEmpty(t testing.TB, object interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	require.NotEmpty(t, object, msgAndArgs...)
}

func Len(t testing.TB, object interface{}, length int, msgAndArgs ...interface{}) {
	t.Helper()
	require.Len(t, object, length, msgAndArgs...)
}

func Zero(t testing.TB, object interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	require.Zero(t, object, msgAndArgs...)
}

func Same(t testing.TB, expected, actual interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	require.Same(t, expected, actual, msgAndArgs...)
}

func NotSame(t testing.TB, expected, actual interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	require.NotSame(t, expected, actual, msgAndArgs...)
}

// CapturePanic returns the recovered value of a panic from fn, or nil if fn
// returned normally. Trap and exception propagation in the executor is
// implemented with panic/recover, so tests assert on this directly rather
// than threading an error return through every opcode handler.
func CapturePanic(fn func()) (recovered interface{}) {
	defer func() {
		recovered = recover()
	}()
	fn()
	return
}
