package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type clock interface {
	Now() time.Time
}

type fixedClock struct{}

func (*fixedClock) Now() time.Time {
	return time.Time{}
}

func TestNotNil(t *testing.T) {
	var nilFunc func()
	var nilMap map[string]int
	var nilClock *fixedClock
	var nilInterface clock

	require.Panics(t, func() { NotNil(nil) })
	require.Panics(t, func() { NotNil(nilFunc) })
	require.Panics(t, func() { NotNil(nilMap) })
	require.Panics(t, func() { NotNil(nilInterface) })
	require.Panics(t, func() {
		var c clock = nilClock
		NotNil(c)
	})

	require.NotPanics(t, func() { NotNil(func() {}) })
	require.NotPanics(t, func() { NotNil(&fixedClock{}) })
	require.NotPanics(t, func() { NotNil(struct{}{}) })
	require.NotPanics(t, func() { NotNil(0) })
}

func TestNotEmptyStr(t *testing.T) {
	require.Panics(t, func() { NotEmptyStr("") })
	require.NotPanics(t, func() { NotEmptyStr("garbage_collections") })
}
