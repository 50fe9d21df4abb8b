// cleanup.go - temp files, partials, backups and safe removal
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/oferchen/oc-rsync-sub000/fsx"
)

// TempFileGuard removes its file on any early return unless the
// rename disarmed it.
type TempFileGuard struct {
	path     string
	disarmed bool
}

func NewTempFileGuard(path string) *TempFileGuard {
	return &TempFileGuard{path: path}
}

// Disarm keeps the file; call it after a successful rename. Safe on
// a nil guard.
func (g *TempFileGuard) Disarm() {
	if g != nil {
		g.disarmed = true
	}
}

// Release removes the guarded file when still armed.
func (g *TempFileGuard) Release() {
	if g != nil && !g.disarmed {
		os.Remove(g.path)
	}
}

// atomicRename swaps 'tmp' into 'dest' in one observable step.
func atomicRename(tmp, dest string) error {
	if err := os.Rename(tmp, dest); err != nil {
		return ioContext(dest, err)
	}
	return nil
}

// partialPaths computes the canonical partial file name for 'dest'
// ("<file>.partial" next to it) and, when a partial dir is
// configured, the alternate location inside it.
func partialPaths(dest, partialDir string) (string, string) {
	dir := filepath.Dir(dest)
	base := filepath.Base(dest)
	canonical := filepath.Join(dir, base+".partial")
	if partialDir == "" {
		return canonical, ""
	}
	pd := partialDir
	if !filepath.IsAbs(pd) {
		pd = filepath.Join(dir, pd)
	}
	return filepath.Join(pd, base), canonical
}

// removeBasenamePartial sweeps the orphan "<stem>.partial" a crashed
// session may have left for 'dest'.
func removeBasenamePartial(dest string) {
	base := filepath.Base(dest)
	if ext := filepath.Ext(base); ext != "" {
		stem := strings.TrimSuffix(base, ext)
		os.Remove(filepath.Join(filepath.Dir(dest), stem+".partial"))
	}
	os.Remove(dest + ".partial")
}

// tmpFilePath places the hidden staging file for 'dest' in 'dir'.
func tmpFilePath(dir, dest string) string {
	return fsx.TempPath(dir, dest)
}

// backupPath computes where a doomed destination entry is parked:
// under the backup dir when set (mirroring the relative path),
// suffixed next to the original otherwise.
func backupPath(opts *SyncOptions, dest, rel string) string {
	suffix := opts.BackupSuffixOrDefault()
	if opts.BackupDir != "" {
		p := filepath.Join(opts.BackupDir, rel)
		if suffix != "" {
			p += suffix
		}
		return p
	}
	return dest + suffix
}

// backupEntry renames 'path' to its backup location.
func backupEntry(opts *SyncOptions, path, rel string) error {
	bp := backupPath(opts, path, rel)
	if parent := filepath.Dir(bp); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return ioContext(parent, err)
		}
	}
	return atomicRename(path, bp)
}

// removeEntry deletes one destination entry, recursively for dirs.
func removeEntry(path string, isDir bool, _ *SyncOptions) error {
	var err error
	if isDir {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return ioContext(path, err)
	}
	return nil
}

// cleanupEmptyTempDir removes the staging directory when it emptied
// out and isn't the destination's own parent.
func cleanupEmptyTempDir(tmp, dest string) {
	tmpParent := filepath.Dir(tmp)
	if tmpParent == filepath.Dir(dest) {
		return
	}
	ents, err := os.ReadDir(tmpParent)
	if err == nil && len(ents) == 0 {
		os.Remove(tmpParent)
	}
}
