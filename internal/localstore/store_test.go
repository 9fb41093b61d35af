package localstore_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaconsole/internal/localstore"
)

type blob struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestStoreSaveAndLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := localstore.New(fs, "/cache")
	require.NoError(t, err)

	require.NoError(t, store.Save("thing", blob{Name: "a", Count: 2}))

	var got blob
	require.True(t, store.Load("thing", &got))
	assert.Equal(t, blob{Name: "a", Count: 2}, got)

	exists, err := afero.Exists(fs, filepath.Join("/cache", "thing.json.tmp"))
	require.NoError(t, err)
	assert.False(t, exists, "temp file should be renamed away")
}

func TestStoreTreatsCorruptBlobAsAbsent(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := localstore.New(fs, "/cache")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, "/cache/progress.json", []byte("{not json"), 0o644))
	var got map[string]any
	assert.False(t, store.Load(localstore.KeyProgress, &got))

	require.NoError(t, afero.WriteFile(fs, "/cache/watch_history.json", []byte(`{"shape":"wrong"}`), 0o644))
	var list []blob
	assert.False(t, store.Load(localstore.KeyWatchHistory, &list))

	assert.False(t, store.Load("missing", &got))
}

func TestStoreQuota(t *testing.T) {
	store, err := localstore.New(afero.NewMemMapFs(), "/cache", localstore.WithQuota(16))
	require.NoError(t, err)

	err = store.Save("big", blob{Name: "much too long for the quota"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, localstore.ErrQuotaExceeded))

	var got blob
	assert.False(t, store.Load("big", &got))
}

func TestStoreNamespaces(t *testing.T) {
	fs := afero.NewMemMapFs()
	root, err := localstore.New(fs, "/cache")
	require.NoError(t, err)

	a, err := root.Namespace("device-a")
	require.NoError(t, err)
	b, err := root.Namespace("device-b")
	require.NoError(t, err)

	require.NoError(t, a.Save(localstore.KeyActiveVideo, blob{Name: "a"}))
	var got blob
	assert.False(t, b.Load(localstore.KeyActiveVideo, &got))
	assert.True(t, a.Load(localstore.KeyActiveVideo, &got))

	for _, bad := range []string{"", "..", "a/b", "../escape"} {
		_, err := root.Namespace(bad)
		assert.ErrorIs(t, err, localstore.ErrInvalidName, bad)
	}
}
