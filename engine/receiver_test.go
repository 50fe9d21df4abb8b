// receiver_test.go -- apply semantics in isolation
package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oferchen/oc-rsync-sub000/delta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyWithoutExistingPartial(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dest := filepath.Join(dir, "dest.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	recv := NewReceiver(nil, SyncOptions{Partial: true})
	ops := []delta.Op{{Kind: delta.Data, Data: []byte("hello")}}

	final, err := recv.Apply(src, dest, "", ops)
	require.NoError(t, err)
	assert.Equal(t, dest, final)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestApplyWithExistingPartial(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dest := filepath.Join(dir, "dest.txt")
	require.NoError(t, os.WriteFile(src, []byte("old!"), 0o644))
	partial := dest + ".partial"
	require.NoError(t, os.WriteFile(partial, []byte("old"), 0o644))

	recv := NewReceiver(nil, SyncOptions{Partial: true})
	ops := []delta.Op{
		{Kind: delta.Copy, Off: 0, Len: 3},
		{Kind: delta.Data, Data: []byte("!")},
	}

	_, err := recv.Apply(src, dest, "", ops)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "old!", string(data))
	assert.NoFileExists(t, partial)
}

func TestApplyIntoDirectoryUsesBasename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "name.bin")
	require.NoError(t, os.WriteFile(src, []byte("zz"), 0o644))
	destDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	recv := NewReceiver(nil, SyncOptions{})
	final, err := recv.Apply(src, destDir, "", []delta.Op{{Kind: delta.Data, Data: []byte("zz")}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "name.bin"), final)
	assert.FileExists(t, final)
}

func TestDelayUpdatesDeferRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dest := filepath.Join(dir, "dest.txt")
	require.NoError(t, os.WriteFile(src, []byte("late"), 0o644))

	recv := NewReceiver(nil, SyncOptions{DelayUpdates: true})
	staged, err := recv.Apply(src, dest, "", []delta.Op{{Kind: delta.Data, Data: []byte("late")}})
	require.NoError(t, err)

	assert.NotEqual(t, dest, staged)
	assert.NoFileExists(t, dest)
	assert.FileExists(t, staged)

	require.NoError(t, recv.Finalize())
	assert.FileExists(t, dest)
	assert.NoFileExists(t, staged)
}

func TestApplyFailureDropsTemp(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dest := filepath.Join(dir, "dest.txt")
	require.NoError(t, os.WriteFile(src, []byte("abcdef"), 0o644))

	recv := NewReceiver(nil, SyncOptions{})
	// a copy op past the (empty) basis must fail
	_, err := recv.Apply(src, dest, "", []delta.Op{{Kind: delta.Copy, Off: 100, Len: 5}})
	require.Error(t, err)

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range ents {
		assert.NotContains(t, e.Name(), ".dest.txt.", "stale temp: %s", e.Name())
	}
	assert.NoFileExists(t, dest)
}

func TestSparseApplyReproducesTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dest := filepath.Join(dir, "dest.bin")

	payload := make([]byte, 0, 16*1024)
	payload = append(payload, []byte("head")...)
	payload = append(payload, make([]byte, 8192)...) // the hole
	payload = append(payload, []byte("tail")...)
	payload = append(payload, make([]byte, 4096)...) // trailing hole
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	recv := NewReceiver(nil, SyncOptions{Sparse: true})
	_, err := recv.Apply(src, dest, "", []delta.Op{{Kind: delta.Data, Data: payload}})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "holes must read back as zeros")

	st, err := os.Stat(dest)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), st.Size())
}

func TestHardLinkRegistry(t *testing.T) {
	dir := t.TempDir()
	one := filepath.Join(dir, "one")
	two := filepath.Join(dir, "two")
	require.NoError(t, os.WriteFile(one, []byte("shared"), 0o644))
	require.NoError(t, os.Link(one, two))

	rules := SyncOptions{HardLinks: true}
	recv := NewReceiver(nil, rules)

	sender := NewSender(nil, nil, rules)
	stats := NewStats()

	dstDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dstDir, 0o755))

	x1, err := sender.ProcessFile(one, filepath.Join(dstDir, "one"), "one", recv, stats)
	require.NoError(t, err)
	assert.True(t, x1)
	x2, err := sender.ProcessFile(two, filepath.Join(dstDir, "two"), "two", recv, stats)
	require.NoError(t, err)
	assert.True(t, x2)

	require.NoError(t, recv.Finalize())

	s1, err := os.Stat(filepath.Join(dstDir, "one"))
	require.NoError(t, err)
	s2, err := os.Stat(filepath.Join(dstDir, "two"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(s1, s2), "hard linked paths must share an inode")
}
