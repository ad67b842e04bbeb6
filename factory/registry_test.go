package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/config2flow/types"
)

func echoRegistry() *Registry[string] {
	r := NewRegistry[string]("widget", "provider", nil)
	for _, name := range []string{"beta", "alpha"} {
		name := name
		r.Register(name, func(_ context.Context, raw map[string]any) (string, error) {
			return name + ":" + nameOf(raw), nil
		})
	}
	return r
}

func nameOf(raw map[string]any) string {
	s, _ := raw["name"].(string)
	return s
}

func TestRegistry_RegisterAndList(t *testing.T) {
	r := echoRegistry()

	assert.Equal(t, []string{"alpha", "beta"}, r.List())
	assert.True(t, r.IsRegistered("alpha"))
	assert.False(t, r.IsRegistered("gamma"))

	r.Unregister("alpha")
	assert.Equal(t, []string{"beta"}, r.List())
}

func TestRegistry_Create(t *testing.T) {
	r := echoRegistry()

	got, err := r.Create(context.Background(), map[string]any{"provider": "alpha", "name": "w"})
	require.NoError(t, err)
	assert.Equal(t, "alpha:w", got)
}

func TestRegistry_OverrideBeatsField(t *testing.T) {
	r := echoRegistry()
	raw := map[string]any{"provider": "alpha", "name": "w"}

	got, err := r.Create(context.Background(), raw, "beta")
	require.NoError(t, err)
	assert.Equal(t, "beta:w", got)

	// 空 override 不生效
	got, err = r.Create(context.Background(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, "alpha:w", got)
}

func TestRegistry_MissingDiscriminator(t *testing.T) {
	r := echoRegistry()

	_, err := r.Create(context.Background(), map[string]any{"name": "w"})
	require.Error(t, err)
	assert.True(t, types.IsMissingDiscriminator(err))
	assert.Equal(t, "provider", types.ErrorSubject(err))

	_, err = r.Create(context.Background(), map[string]any{"provider": nil})
	assert.True(t, types.IsMissingDiscriminator(err))
}

func TestRegistry_UnsupportedProvider(t *testing.T) {
	r := echoRegistry()

	_, err := r.Create(context.Background(), map[string]any{"provider": "gamma"})
	require.Error(t, err)
	assert.True(t, types.IsUnsupportedProvider(err))
	assert.Equal(t, "gamma", types.ErrorSubject(err))
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	r := echoRegistry()
	r.Register("alpha", func(context.Context, map[string]any) (string, error) { return "replaced", nil })

	got, err := r.Create(context.Background(), map[string]any{"provider": "alpha"})
	require.NoError(t, err)
	assert.Equal(t, "replaced", got)
}

func TestRegistry_DiscriminatorFormatsNonStrings(t *testing.T) {
	r := NewRegistry[string]("widget", "version", nil)
	assert.Equal(t, "2", r.Discriminator(map[string]any{"version": 2}))
	assert.Equal(t, "", r.Discriminator(map[string]any{}))
}
