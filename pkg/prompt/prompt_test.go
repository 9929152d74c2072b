package prompt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, DefaultVersion, p.Version)
	assert.Equal(t, "embedded", p.Source)
	assert.Contains(t, p.Text, "旅行规划")
	assert.Contains(t, p.Text, "## Output Format")
}

func TestNewStore(t *testing.T) {
	t.Run("embedded when path is empty", func(t *testing.T) {
		s, err := NewStore("")
		require.NoError(t, err)
		assert.Equal(t, DefaultVersion, s.Current().Version)
		assert.NoError(t, s.Reload())
	})

	t.Run("file override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "instruction.md")
		require.NoError(t, os.WriteFile(path, []byte("You plan trips."), 0o644))

		s, err := NewStore(path)
		require.NoError(t, err)
		assert.Equal(t, "You plan trips.", s.Current().Text)
		assert.Equal(t, path, s.Current().Source)
		assert.Contains(t, s.Current().Version, "file/")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewStore(filepath.Join(t.TempDir(), "missing.md"))
		assert.Error(t, err)
	})

	t.Run("blank file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "blank.md")
		require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))
		_, err := NewStore(path)
		assert.Error(t, err)
	})
}

func TestStore_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruction.md")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))

	s, err := NewStore(path)
	require.NoError(t, err)
	first := s.Current().Version

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o644))
	require.NoError(t, s.Reload())
	assert.Equal(t, "second", s.Current().Text)
	assert.NotEqual(t, first, s.Current().Version)

	// A broken file keeps the previous instruction.
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
	assert.Error(t, s.Reload())
	assert.Equal(t, "second", s.Current().Text)
}

func TestStore_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruction.md")
	require.NoError(t, os.WriteFile(path, []byte("before"), 0o644))

	s, err := NewStore(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("after"), 0o644))

	assert.Eventually(t, func() bool {
		return s.Current().Text == "after"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
