package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/interfaces"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    interfaces.Selector
		wantErr bool
	}{
		{name: "all", input: "all", want: interfaces.Selector{All: true}},
		{name: "single id", input: "web-1", want: interfaces.Selector{IDs: []string{"web-1"}}},
		{name: "ids sorted and deduplicated", input: "web-2, web-1,web-2", want: interfaces.Selector{IDs: []string{"web-1", "web-2"}}},
		{name: "labels", input: "role=web, env=prod", want: interfaces.Selector{Labels: map[string]string{"role": "web", "env": "prod"}}},
		{name: "empty", input: "  ", wantErr: true},
		{name: "empty id", input: "web-1,,web-2", wantErr: true},
		{name: "mixed ids and labels", input: "web-1,role=web", wantErr: true},
		{name: "label without value", input: "role=", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelector(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, interfaces.IsKind(err, interfaces.KindInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	for _, target := range []interfaces.Target{
		{ID: "web-2", Address: "10.0.0.2", AppDir: "/srv/shop", Labels: map[string]string{"role": "web"}},
		{ID: "web-1", Address: "10.0.0.1", AppDir: "/srv/shop", Labels: map[string]string{"role": "web"}},
		{ID: "db-1", Address: "10.0.0.3", AppDir: "/srv/shop", Labels: map[string]string{"role": "db"}},
	} {
		_, err := store.Put(ctx, target)
		require.NoError(t, err)
	}

	ids, err := Resolve(ctx, store, "all")
	require.NoError(t, err)
	assert.Equal(t, []string{"db-1", "web-1", "web-2"}, ids)

	ids, err = Resolve(ctx, store, "role=web")
	require.NoError(t, err)
	assert.Equal(t, []string{"web-1", "web-2"}, ids)

	_, err = Resolve(ctx, store, "web-1,web-9")
	assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))

	_, err = Resolve(ctx, store, "role=cache")
	assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))

	_, err = Resolve(ctx, store, "")
	assert.True(t, interfaces.IsKind(err, interfaces.KindInvalidInput))
}
