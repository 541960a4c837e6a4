package subcmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/airq/internal/state"
)

func TestParse(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *state.Config, []string) error { return nil }
	mods := []Mod{{Name: "run", Main: noop}, {Name: "sleep", Main: noop}}

	m, err := Parse("", mods)
	require.NoError(t, err)
	assert.Equal(t, "run", m.Name)

	m, err = Parse("sleep", mods)
	require.NoError(t, err)
	assert.Equal(t, "sleep", m.Name)

	_, err = Parse("dance", mods)
	assert.EqualError(t, err, "unknown command='dance'")

	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{Main: noop}}) })
}
