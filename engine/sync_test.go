// sync_test.go -- end to end transfer scenarios
package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oferchen/oc-rsync-sub000/compress"
	"github.com/oferchen/oc-rsync-sub000/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func emptyMatcher(t *testing.T) *filter.Matcher {
	t.Helper()
	rules, err := filter.Parse("")
	require.NoError(t, err)
	return filter.NewMatcher(rules)
}

func doSync(t *testing.T, src, dst string, m *filter.Matcher, opts *SyncOptions) *Stats {
	t.Helper()
	st, err := Sync(src, dst, m, compress.AllCodecs, opts)
	require.NoError(t, err)
	return st
}

func TestPlainMirror(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "a"), "hi")
	write(t, filepath.Join(src, "b/c"), "there")

	st := doSync(t, src, dst, emptyMatcher(t), &SyncOptions{})

	assert.Equal(t, "hi", read(t, filepath.Join(dst, "a")))
	assert.Equal(t, "there", read(t, filepath.Join(dst, "b/c")))
	assert.Equal(t, 2, st.FilesTransferred)

	// no stray files
	var extra []string
	filepath.Walk(dst, func(p string, fi os.FileInfo, err error) error {
		if err == nil && !fi.IsDir() {
			extra = append(extra, p)
		}
		return nil
	})
	assert.Len(t, extra, 2)
}

func TestDeltaUpdate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "file"), "hello brave new world")
	write(t, filepath.Join(dst, "file"), "hello world")

	st := doSync(t, src, dst, emptyMatcher(t), &SyncOptions{BlockSize: 4})

	assert.Equal(t, "hello brave new world", read(t, filepath.Join(dst, "file")))
	assert.Equal(t, 1, st.FilesTransferred)
	assert.Equal(t, uint64(len("hello brave new world")), st.BytesTransferred)
	assert.NotZero(t, st.MatchedData, "delta should have matched basis blocks")
	assert.NotZero(t, st.LiteralData, "delta should carry the new data")
}

func TestIncludeExcludeOrdering(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "keep.txt"), "k")
	write(t, filepath.Join(src, "skip.txt"), "s")

	rules, err := filter.Parse("+ keep.txt\n- *\n")
	require.NoError(t, err)

	doSync(t, src, dst, filter.NewMatcher(rules), &SyncOptions{})

	assert.FileExists(t, filepath.Join(dst, "keep.txt"))
	assert.NoFileExists(t, filepath.Join(dst, "skip.txt"))
}

func TestDeleteAfter(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "a"), "x")
	write(t, filepath.Join(dst, "a"), "x")
	write(t, filepath.Join(dst, "stale"), "old")

	st := doSync(t, src, dst, emptyMatcher(t), &SyncOptions{Delete: DeleteAfter})

	assert.NoFileExists(t, filepath.Join(dst, "stale"))
	assert.FileExists(t, filepath.Join(dst, "a"))
	assert.Equal(t, 1, st.FilesDeleted)
}

func TestMaxDeleteZeroRefuses(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "a"), "x")
	write(t, filepath.Join(dst, "stale"), "old")

	zero := 0
	_, err := Sync(src, dst, emptyMatcher(t), compress.AllCodecs,
		&SyncOptions{Delete: DeleteAfter, MaxDelete: &zero})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxDelete)
	assert.FileExists(t, filepath.Join(dst, "stale"), "limit hit, nothing may be deleted")
}

func TestChecksumSecondPassTransfersNothing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "x/data"), strings.Repeat("abc", 1000))
	write(t, filepath.Join(src, "y"), "small")

	opts := &SyncOptions{Checksum: true}
	doSync(t, src, dst, emptyMatcher(t), opts)

	st := doSync(t, src, dst, emptyMatcher(t), opts)
	assert.Zero(t, st.FilesTransferred, "second checksum pass must be a no-op")
}

func TestNoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "a/b"), "payload")

	doSync(t, src, dst, emptyMatcher(t), &SyncOptions{})

	filepath.Walk(dst, func(p string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return nil
		}
		base := filepath.Base(p)
		assert.False(t, strings.HasPrefix(base, "."), "temp file left: %s", p)
		assert.False(t, strings.HasSuffix(base, ".partial"), "partial left: %s", p)
		return nil
	})
}

func TestPartialResume(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "file"), "hello")
	require.NoError(t, os.MkdirAll(dst, 0o755))
	// a prior interrupted run left a partial prefix
	write(t, filepath.Join(dst, "file.partial"), "he")

	doSync(t, src, dst, emptyMatcher(t), &SyncOptions{Partial: true})

	assert.Equal(t, "hello", read(t, filepath.Join(dst, "file")))
	assert.NoFileExists(t, filepath.Join(dst, "file.partial"))
}

func TestDryRunTouchesNothing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "a"), "x")
	write(t, filepath.Join(dst, "stale"), "old")

	st := doSync(t, src, dst, emptyMatcher(t), &SyncOptions{DryRun: true, Delete: DeleteAfter})

	assert.NoFileExists(t, filepath.Join(dst, "a"))
	assert.FileExists(t, filepath.Join(dst, "stale"))
	assert.Equal(t, 1, st.FilesDeleted, "dry run still counts deletions")
}

func TestMissingSourceFails(t *testing.T) {
	dir := t.TempDir()
	_, err := Sync(filepath.Join(dir, "absent"), filepath.Join(dir, "dst"),
		emptyMatcher(t), compress.AllCodecs, &SyncOptions{})
	require.Error(t, err)

	var xe *ExitError
	require.ErrorAs(t, err, &xe)
	assert.EqualValues(t, 23, xe.Code)
}

func TestMissingSourceIgnored(t *testing.T) {
	dir := t.TempDir()
	_, err := Sync(filepath.Join(dir, "absent"), filepath.Join(dir, "dst"),
		emptyMatcher(t), compress.AllCodecs, &SyncOptions{IgnoreMissingArgs: true})
	assert.NoError(t, err)
}

func TestDeleteMissingArgs(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst")
	write(t, dst, "doomed")

	st, err := Sync(filepath.Join(dir, "absent"), dst, emptyMatcher(t),
		compress.AllCodecs, &SyncOptions{DeleteMissingArgs: true})
	require.NoError(t, err)
	assert.NoFileExists(t, dst)
	assert.Equal(t, 1, st.FilesDeleted)
}

func TestSizeBounds(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "tiny"), "ab")
	write(t, filepath.Join(src, "big"), strings.Repeat("x", 100))
	write(t, filepath.Join(src, "zero"), "")

	minS, maxS := uint64(0), uint64(0)
	doSync(t, src, dst, emptyMatcher(t), &SyncOptions{MinSize: &minS, MaxSize: &maxS})

	// min=0 and max=0 admit only zero-byte files
	assert.FileExists(t, filepath.Join(dst, "zero"))
	assert.NoFileExists(t, filepath.Join(dst, "tiny"))
	assert.NoFileExists(t, filepath.Join(dst, "big"))
}

func TestDeleteExcludedMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "a"), "x")
	write(t, filepath.Join(dst, "a"), "x")
	write(t, filepath.Join(dst, "junk.log"), "old")

	rules, err := filter.Parse("- *.log\n")
	require.NoError(t, err)

	// without --delete-excluded the excluded entry survives
	doSync(t, src, dst, filter.NewMatcher(rules), &SyncOptions{Delete: DeleteAfter})
	assert.FileExists(t, filepath.Join(dst, "junk.log"))

	doSync(t, src, dst, filter.NewMatcher(rules),
		&SyncOptions{Delete: DeleteAfter, DeleteExcluded: true})
	assert.NoFileExists(t, filepath.Join(dst, "junk.log"))
}

func TestBackupOnDelete(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "a"), "x")
	write(t, filepath.Join(dst, "a"), "x")
	write(t, filepath.Join(dst, "stale"), "keepme")

	doSync(t, src, dst, emptyMatcher(t),
		&SyncOptions{Delete: DeleteAfter, Backup: true})

	assert.NoFileExists(t, filepath.Join(dst, "stale"))
	assert.Equal(t, "keepme", read(t, filepath.Join(dst, "stale~")))
}

func TestWriteBatchSummary(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	batch := filepath.Join(dir, "batch")
	write(t, filepath.Join(src, "a"), "x")

	doSync(t, src, dst, emptyMatcher(t), &SyncOptions{WriteBatch: batch})

	data := read(t, batch)
	assert.Contains(t, data, "files_transferred=1")
}

func TestUpdateSkipsNewerDest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "f"), "old-src")
	write(t, filepath.Join(dst, "f"), "newer-dst")

	// push the destination mtime into the future
	fut := timeNowPlus(t, 3600)
	require.NoError(t, os.Chtimes(filepath.Join(dst, "f"), fut, fut))

	st := doSync(t, src, dst, emptyMatcher(t), &SyncOptions{Update: true})
	assert.Zero(t, st.FilesTransferred)
	assert.Equal(t, "newer-dst", read(t, filepath.Join(dst, "f")))
}

func TestRemoveSourceFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	write(t, filepath.Join(src, "move-me"), "gone")

	doSync(t, src, dst, emptyMatcher(t), &SyncOptions{RemoveSourceFiles: true})

	assert.NoFileExists(t, filepath.Join(src, "move-me"))
	assert.Equal(t, "gone", read(t, filepath.Join(dst, "move-me")))
}

func TestCompressedTransfer(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	payload := strings.Repeat("compress me please ", 200)
	write(t, filepath.Join(src, "big.txt"), payload)

	doSync(t, src, dst, emptyMatcher(t), &SyncOptions{Compress: true})
	assert.Equal(t, payload, read(t, filepath.Join(dst, "big.txt")))
}

func TestStopAfterExpired(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	write(t, filepath.Join(src, "a"), "x")

	opts := &SyncOptions{StopAfter: 1} // one nanosecond
	_, err := Sync(src, filepath.Join(dir, "dst"), emptyMatcher(t), compress.AllCodecs, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func timeNowPlus(t *testing.T, secs int) time.Time {
	t.Helper()
	return time.Now().Add(time.Duration(secs) * time.Second)
}

func TestValidateRejectsAppendConflict(t *testing.T) {
	opts := &SyncOptions{Append: true, AppendVerify: true}
	_, err := Sync("x", "y", emptyMatcher(t), compress.AllCodecs, opts)
	require.Error(t, err)
}
