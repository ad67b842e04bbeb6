package server

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/config2flow/testutil/fixtures"
)

func renamedApp(name string) string {
	return strings.Replace(fixtures.TranslateAppYAML, "name: translator", "name: "+name, 1)
}

func TestCatalog_LoadFileAndDir(t *testing.T) {
	dir := t.TempDir()
	writeApp(t, dir, "b.yaml", renamedApp("beta"))
	writeApp(t, dir, "a.yml", renamedApp("alpha"))
	writeApp(t, dir, "notes.txt", "ignored")

	c := NewCatalog(nil)
	require.NoError(t, c.Load(dir))
	assert.Equal(t, []string{"alpha", "beta"}, c.Names())
	assert.Equal(t, 2, c.Len())

	cfg, ok := c.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "Translate then polish", cfg.Description)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, filepath.Join(dir, "a.yml"), list[0].Path)

	single := NewCatalog(nil)
	require.NoError(t, single.Load(filepath.Join(dir, "b.yaml")))
	assert.Equal(t, []string{"beta"}, single.Names())
}

func TestCatalog_LoadFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	writeApp(t, dir, "a.yaml", renamedApp("alpha"))

	c := NewCatalog(nil)
	require.NoError(t, c.Load(dir))

	writeApp(t, dir, "dup.yaml", renamedApp("alpha"))
	err := c.Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate app name")
	assert.Equal(t, []string{"alpha"}, c.Names())

	require.Error(t, c.Load(filepath.Join(dir, "missing")))
	assert.Equal(t, 1, c.Len())
}

func TestCatalog_WatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeApp(t, dir, "a.yaml", renamedApp("alpha"))

	c := NewCatalog(nil)
	c.debounce = 10 * time.Millisecond
	require.NoError(t, c.Load(dir))

	var reloads atomic.Int32
	c.OnReload(func([]string) { reloads.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, ready) }()
	<-ready

	writeApp(t, dir, "b.yaml", renamedApp("beta"))
	require.Eventually(t, func() bool {
		_, ok := c.Get("beta")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(1))

	// 坏文件不影响已加载的应用
	writeApp(t, dir, "broken.yaml", "app: [unclosed")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"alpha", "beta"}, c.Names())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestCatalog_WatchWithoutSource(t *testing.T) {
	err := NewCatalog(nil).Watch(context.Background(), nil)
	assert.Error(t, err)
}
