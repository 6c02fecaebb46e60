package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_BrokenState(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Current()
	assert.ErrorIs(t, err, ErrNoPolicy)

	m, err := Load(nil, Settings{})
	require.NoError(t, err)
	s.Swap(m)
	got, err := s.Current()
	require.NoError(t, err)
	assert.Same(t, m, got)

	broken := &ConfigError{Problems: []string{"bad rule"}}
	s.Fail(broken)
	got, err = s.Current()
	assert.Nil(t, got)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))

	s.Swap(m)
	_, err = s.Current()
	assert.NoError(t, err)
}

func TestStore_ConcurrentReaders(t *testing.T) {
	m1, err := Load([]Rule{{Action: "allow", Program: StringOrList{"ls"}}}, Settings{})
	require.NoError(t, err)
	m2, err := Load([]Rule{{Action: "deny", Program: StringOrList{"ls"}}}, Settings{})
	require.NoError(t, err)

	s := NewStore(m1)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m, err := s.Current()
				if err != nil || (m != m1 && m != m2) {
					t.Errorf("unexpected snapshot %p, %v", m, err)
					return
				}
			}
		}()
	}
	for j := 0; j < 100; j++ {
		if j%2 == 0 {
			s.Swap(m2)
		} else {
			s.Swap(m1)
		}
	}
	wg.Wait()
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[[rules]]\nprogram = \"ls\"\naction = \"allow\"\n")

	loader := Loader{ConfigDir: dir}
	m, _, err := loader.Load()
	require.NoError(t, err)
	store := NewStore(m)

	var reloads []error
	w, err := NewWatcher(WatcherConfig{
		Loader:   loader,
		Store:    store,
		OnReload: func(_ *Model, err error) { reloads = append(reloads, err) },
	})
	require.NoError(t, err)

	writeFile(t, path, "[[rules]]\naction = \"allow\"\n")
	w.Reload()
	_, err = store.Current()
	require.Error(t, err, "a failed reload must break the store")

	writeFile(t, path, "[[rules]]\nprogram = \"ls\"\naction = \"deny\"\n")
	w.Reload()
	cur, err := store.Current()
	require.NoError(t, err)
	assert.NotEqual(t, m.Fingerprint(), cur.Fingerprint())

	total, success, failed, lastErr := w.Stats()
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), success)
	assert.Equal(t, int64(1), failed)
	assert.Contains(t, lastErr, "rule has no matcher fields")
	require.Len(t, reloads, 2)
	assert.Error(t, reloads[0])
	assert.NoError(t, reloads[1])
}

func TestWatcher_FileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[[rules]]\nprogram = \"ls\"\naction = \"allow\"\n")

	loader := Loader{ConfigDir: dir}
	m, _, err := loader.Load()
	require.NoError(t, err)
	store := NewStore(m)

	w, err := NewWatcher(WatcherConfig{Loader: loader, Store: store, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("[[rules]]\nprogram = \"ls\"\naction = \"deny\"\n"), 0o644))

	require.Eventually(t, func() bool {
		cur, err := store.Current()
		return err == nil && cur.Fingerprint() != m.Fingerprint()
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !w.IsRunning() }, 5*time.Second, 10*time.Millisecond)
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{Loader: Loader{ConfigDir: "x"}})
	assert.Error(t, err)
	_, err = NewWatcher(WatcherConfig{Store: NewStore(nil)})
	assert.Error(t, err)
}
