package dobby

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorStringIncludesFieldWhenSet(t *testing.T) {
	e := newFieldErr(KindConfigInvalid, "memLimit", errors.New("must be positive"))
	require.Equal(t, "ConfigInvalid: memLimit: must be positive", e.Error())
}

func TestErrorStringOmitsFieldWhenUnset(t *testing.T) {
	e := newErr(KindRuntimeFailure, errors.New("create timed out"))
	require.Equal(t, "RuntimeFailure: create timed out", e.Error())
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	e := newErr(KindSystemFailure, inner)
	require.ErrorIs(t, e, inner)
}

func TestKindStringUnknown(t *testing.T) {
	require.Equal(t, "Unknown", Kind(99).String())
}

func TestConfigInvalidFormatsMessage(t *testing.T) {
	e := configInvalid("user.uid", "uid %d out of range", -1)
	require.Equal(t, KindConfigInvalid, e.Kind)
	require.Equal(t, "user.uid", e.Field)
	require.Contains(t, e.Error(), "uid -1 out of range")
}

func TestNewSystemFailureAndPluginFailureKinds(t *testing.T) {
	inner := errors.New("mkdir failed")
	sysErr := NewSystemFailure(inner)
	require.Equal(t, KindSystemFailure, sysErr.Kind)
	require.ErrorIs(t, sysErr, inner)

	pluginErr := NewPluginFailure(inner)
	require.Equal(t, KindPluginFailure, pluginErr.Kind)
	require.ErrorIs(t, pluginErr, inner)

	mismatchErr := NewStateMismatch(inner)
	require.Equal(t, KindStateMismatch, mismatchErr.Kind)
	require.ErrorIs(t, mismatchErr, inner)
}
