// main.go - client entry point
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

package main

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/oferchen/oc-rsync-sub000/compress"
	"github.com/oferchen/oc-rsync-sub000/engine"
	"github.com/oferchen/oc-rsync-sub000/filter"
	"github.com/oferchen/oc-rsync-sub000/meta"
	"github.com/oferchen/oc-rsync-sub000/protocol"
	flag "github.com/opencoff/pflag"
)

var Z = path.Base(os.Args[0])

func main() {
	var (
		archive, recursive         bool
		perms, owner, group, times bool
		links, hardLinks, devices  bool
		xattrs, fakeSuper          bool
		del, delBefore, delDuring  bool
		delAfter, delDelay, delX   bool
		checksum, dryRun, listOnly bool
		compressF, wholeFile       bool
		inplace, appendF, appendV  bool
		partial, delay, sparse     bool
		existing, ignoreExisting   bool
		sizeOnly, ignoreTimes      bool
		update, numericIDs, stats  bool
		quiet, cvsExclude, fFilter bool
		dirsOnly, pruneEmpty       bool
		fsync, removeSource        bool
		help                       bool

		blockSize              int
		maxDelete              int
		maxSize, minSize       int64
		modifyWindow           int
		stopAfterMin           int
		bwlimit                uint64
		compressLevel          int
		backupSuffix           string
		backupDir              string
		partialDir, tempDir    string
		chmodSpec, chownSpec   string
		userMap, groupMap      string
		filters, includes      []string
		excludes               []string
		includeFrom, excludeFrom []string
		filesFrom              string
		from0                  bool
		writeBatch, readBatch  string
		onlyWriteBatch         bool
		compressChoice         string
		skipCompress           string
		backup                 bool
	)

	fs := flag.NewFlagSet(Z, flag.ExitOnError)

	fs.BoolVarP(&archive, "archive", "a", false, "archive mode: -rlptgoD")
	fs.BoolVarP(&recursive, "recursive", "r", false, "recurse into directories")
	fs.BoolVarP(&dirsOnly, "dirs", "d", false, "transfer directories without recursing")
	fs.BoolVarP(&perms, "perms", "p", false, "preserve permissions")
	fs.BoolVarP(&owner, "owner", "o", false, "preserve owner")
	fs.BoolVarP(&group, "group", "g", false, "preserve group")
	fs.BoolVarP(&times, "times", "t", false, "preserve modification times")
	fs.BoolVarP(&links, "links", "l", false, "copy symlinks as symlinks")
	fs.BoolVarP(&hardLinks, "hard-links", "H", false, "preserve hard links")
	fs.BoolVarP(&devices, "devices", "D", false, "preserve devices and specials")
	fs.BoolVarP(&xattrs, "xattrs", "X", false, "preserve extended attributes")
	fs.BoolVarP(&fakeSuper, "fake-super", "", false, "store privileged attrs in xattrs")
	fs.BoolVarP(&del, "delete", "", false, "delete extraneous files from dest")
	fs.BoolVarP(&delBefore, "delete-before", "", false, "deletion runs before the transfer")
	fs.BoolVarP(&delDuring, "delete-during", "", false, "deletion runs during the transfer")
	fs.BoolVarP(&delAfter, "delete-after", "", false, "deletion runs after the transfer")
	fs.BoolVarP(&delDelay, "delete-delay", "", false, "deletions are computed during, done after")
	fs.BoolVarP(&delX, "delete-excluded", "", false, "also delete excluded files")
	fs.BoolVarP(&checksum, "checksum", "c", false, "skip by whole-file checksum, not time+size")
	fs.BoolVarP(&dryRun, "dry-run", "n", false, "show what would happen")
	fs.BoolVarP(&listOnly, "list-only", "", false, "list files instead of copying")
	fs.BoolVarP(&compressF, "compress", "z", false, "compress file data in transit")
	fs.BoolVarP(&wholeFile, "whole-file", "W", false, "copy whole files, no delta")
	fs.BoolVarP(&inplace, "inplace", "", false, "update destination files in place")
	fs.BoolVarP(&appendF, "append", "", false, "append data onto shorter files")
	fs.BoolVarP(&appendV, "append-verify", "", false, "like --append, verifying old data")
	fs.BoolVarP(&partial, "partial", "", false, "keep partially transferred files")
	fs.BoolVarP(&delay, "delay-updates", "", false, "put all updates in place at the end")
	fs.BoolVarP(&sparse, "sparse", "S", false, "turn sequences of nulls into holes")
	fs.BoolVarP(&existing, "existing", "", false, "skip creating new files at dest")
	fs.BoolVarP(&ignoreExisting, "ignore-existing", "", false, "skip updating existing files")
	fs.BoolVarP(&sizeOnly, "size-only", "", false, "skip by size, ignore time")
	fs.BoolVarP(&ignoreTimes, "ignore-times", "I", false, "don't skip files that match time+size")
	fs.BoolVarP(&update, "update", "u", false, "skip files newer at dest")
	fs.BoolVarP(&numericIDs, "numeric-ids", "", false, "don't map uid/gid by name")
	fs.BoolVarP(&stats, "stats", "", false, "print transfer statistics")
	fs.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	fs.BoolVarP(&cvsExclude, "cvs-exclude", "C", false, "auto-ignore the way CVS does")
	fs.BoolVarP(&fFilter, "filter-file", "F", false, "per-dir .rsync-filter rules")
	fs.BoolVarP(&pruneEmpty, "prune-empty-dirs", "m", false, "prune empty directory chains")
	fs.BoolVarP(&fsync, "fsync", "", false, "fsync every written file")
	fs.BoolVarP(&removeSource, "remove-source-files", "", false, "sender removes synced files")
	fs.BoolVarP(&backup, "backup", "b", false, "back up doomed destination entries")
	fs.BoolVarP(&from0, "from0", "0", false, "list files are NUL separated")
	fs.BoolVarP(&onlyWriteBatch, "only-write-batch", "", false, "write batch, don't transfer")
	fs.BoolVarP(&help, "help", "h", false, "show help and exit")

	fs.IntVarP(&blockSize, "block-size", "B", 0, "delta block size (0 = auto)")
	fs.IntVarP(&maxDelete, "max-delete", "", -1, "refuse to delete more than N files")
	fs.Int64VarP(&maxSize, "max-size", "", -1, "skip files larger than N bytes")
	fs.Int64VarP(&minSize, "min-size", "", -1, "skip files smaller than N bytes")
	fs.IntVarP(&modifyWindow, "modify-window", "", 0, "mtime comparison slack, seconds")
	fs.IntVarP(&stopAfterMin, "stop-after", "", 0, "stop after N minutes")
	fs.Uint64VarP(&bwlimit, "bwlimit", "", 0, "limit I/O bandwidth, KiB/s")
	fs.IntVarP(&compressLevel, "compress-level", "", 0, "explicit compression level")
	fs.StringVarP(&backupSuffix, "suffix", "", "", "backup filename suffix")
	fs.StringVarP(&backupDir, "backup-dir", "", "", "park backups under this dir")
	fs.StringVarP(&partialDir, "partial-dir", "", "", "keep partials in this dir")
	fs.StringVarP(&tempDir, "temp-dir", "T", "", "stage temp files in this dir")
	fs.StringVarP(&chmodSpec, "chmod", "", "", "edit destination permissions")
	fs.StringVarP(&chownSpec, "chown", "", "", "force owner[:group]")
	fs.StringVarP(&userMap, "usermap", "", "", "map uids/user names")
	fs.StringVarP(&groupMap, "groupmap", "", "", "map gids/group names")
	fs.StringArrayVarP(&filters, "filter", "f", nil, "add a filter rule")
	fs.StringArrayVarP(&includes, "include", "", nil, "include files matching pattern")
	fs.StringArrayVarP(&excludes, "exclude", "", nil, "exclude files matching pattern")
	fs.StringArrayVarP(&includeFrom, "include-from", "", nil, "read include patterns from file")
	fs.StringArrayVarP(&excludeFrom, "exclude-from", "", nil, "read exclude patterns from file")
	fs.StringVarP(&filesFrom, "files-from", "", "", "read the list of sources from file")
	fs.StringVarP(&writeBatch, "write-batch", "", "", "record a batch summary to file")
	fs.StringVarP(&readBatch, "read-batch", "", "", "replay paths recorded in file")
	fs.StringVarP(&compressChoice, "compress-choice", "", "", "force the compression codec")
	fs.StringVarP(&skipCompress, "skip-compress", "", "", "suffixes never compressed")

	fs.SetOutput(os.Stdout)
	if err := fs.Parse(os.Args[1:]); err != nil {
		die(protocol.ExitSyntaxOrUsage, "%s", err)
	}
	if help {
		fmt.Printf("Usage: %s [options] SRC DEST\n\n", Z)
		fs.PrintDefaults()
		os.Exit(0)
	}

	args := fs.Args()
	if len(args) != 2 {
		die(protocol.ExitSyntaxOrUsage, "Usage: %s [options] SRC DEST", Z)
	}
	src, dst := args[0], args[1]

	if archive {
		recursive, links, perms, times = true, true, true, true
		group, owner, devices = true, true, true
	}
	// bandwidth limiting lives in the transport layer
	_ = recursive
	_ = bwlimit

	opts := engine.SyncOptions{
		DeleteExcluded:    delX,
		Checksum:          checksum,
		DryRun:            dryRun,
		ListOnly:          listOnly,
		Compress:          compressF,
		CompressLevel:     compressLevel,
		WholeFile:         wholeFile,
		Inplace:           inplace,
		Append:            appendF,
		AppendVerify:      appendV,
		Partial:           partial || partialDir != "",
		PartialDir:        partialDir,
		TempDir:           tempDir,
		DelayUpdates:      delay,
		Existing:          existing,
		IgnoreExisting:    ignoreExisting,
		SizeOnly:          sizeOnly,
		IgnoreTimes:       ignoreTimes,
		Update:            update,
		Perms:             perms,
		Times:             times,
		Owner:             owner,
		Group:             group,
		Links:             links,
		HardLinks:         hardLinks,
		Devices:           devices,
		Specials:          devices,
		Xattrs:            xattrs,
		FakeSuper:         fakeSuper,
		NumericIDs:        numericIDs,
		Fsync:             fsync,
		RemoveSourceFiles: removeSource,
		DirsOnly:          dirsOnly,
		Sparse:            sparse,
		Quiet:             quiet,
		BlockSize:         blockSize,
		ModifyWindow:      time.Duration(modifyWindow) * time.Second,
		Backup:            backup || backupDir != "",
		BackupDir:         backupDir,
		BackupSuffix:      backupSuffix,
		WriteBatch:        writeBatch,
		OnlyWriteBatch:    onlyWriteBatch,
		ReadBatch:         readBatch,
	}
	if stopAfterMin > 0 {
		opts.StopAfter = time.Duration(stopAfterMin) * time.Minute
	}
	if maxDelete >= 0 {
		opts.MaxDelete = &maxDelete
	}
	if maxSize >= 0 {
		n := uint64(maxSize)
		opts.MaxSize = &n
	}
	if minSize >= 0 {
		n := uint64(minSize)
		opts.MinSize = &n
	}
	if skipCompress != "" {
		opts.SkipCompress = strings.Split(skipCompress, "/")
	}
	if compressChoice != "" {
		c, err := compress.Parse(compressChoice)
		if err != nil {
			die(protocol.ExitSyntaxOrUsage, "%s", err)
		}
		opts.CompressChoice = []compress.Codec{c}
	}
	if chmodSpec != "" {
		rules, err := meta.ParseChmod(chmodSpec)
		if err != nil {
			die(protocol.ExitSyntaxOrUsage, "%s", err)
		}
		opts.Chmod = rules
	}
	if userMap != "" {
		m, err := meta.ParseIDMap(userMap, meta.UIDFromName)
		if err != nil {
			die(protocol.ExitSyntaxOrUsage, "%s", err)
		}
		opts.UIDMap = m
		opts.Owner = true
	}
	if groupMap != "" {
		m, err := meta.ParseIDMap(groupMap, meta.GIDFromName)
		if err != nil {
			die(protocol.ExitSyntaxOrUsage, "%s", err)
		}
		opts.GIDMap = m
		opts.Group = true
	}
	if chownSpec != "" {
		uid, gid, err := meta.ParseChown(chownSpec)
		if err != nil {
			die(protocol.ExitSyntaxOrUsage, "%s", err)
		}
		opts.Chown = &engine.ChownSpec{Uid: uid, Gid: gid}
		opts.Owner = opts.Owner || uid != nil
		opts.Group = opts.Group || gid != nil
	}

	switch {
	case delBefore:
		opts.Delete = engine.DeleteBefore
	case delDuring:
		opts.Delete = engine.DeleteDuring
	case delAfter:
		opts.Delete = engine.DeleteAfter
	case delDelay:
		opts.Delete = engine.DeleteDelay
	case del:
		opts.Delete = engine.DeleteDuring
	}

	rules, err := buildRules(filters, includes, excludes, includeFrom, excludeFrom,
		filesFrom, cvsExclude, fFilter, from0)
	if err != nil {
		die(protocol.ExitFileSelect, "%s", err)
	}
	matcher := filter.NewMatcher(rules)
	if pruneEmpty {
		matcher = matcher.WithPruneEmptyDirs()
	}
	if from0 {
		matcher = matcher.WithFrom0()
	}

	st, err := engine.Sync(src, dst, matcher, compress.AllCodecs, &opts)
	if err != nil {
		die(engine.ExitCodeOf(err), "%s", err)
	}

	if stats && st != nil {
		fmt.Print(st.Summary())
	}
}

// buildRules assembles the ordered rule list in a fixed order of flag
// kinds: filters first, then every --include, then every --exclude,
// list files, the files-from list and finally the CVS and per-dir
// conveniences. The relative command-line order of --include and
// --exclude flags is not preserved.
func buildRules(filters, includes, excludes, includeFrom, excludeFrom []string,
	filesFrom string, cvsExclude, fFilter, from0 bool) ([]filter.Rule, error) {

	var b strings.Builder
	for _, f := range filters {
		b.WriteString(f + "\n")
	}
	for _, p := range includes {
		b.WriteString("+ " + p + "\n")
	}
	for _, p := range excludes {
		b.WriteString("- " + p + "\n")
	}
	for _, f := range includeFrom {
		b.WriteString("include-from " + f + "\n")
	}
	for _, f := range excludeFrom {
		b.WriteString("exclude-from " + f + "\n")
	}
	if filesFrom != "" {
		b.WriteString("files-from " + filesFrom + "\n")
	}
	if cvsExclude {
		b.WriteString("-C\n")
	}
	if fFilter {
		b.WriteString("-F\n")
	}

	return filter.ParseWithOptions(b.String(), from0, make(map[string]bool), 0, "")
}

func die(code protocol.ExitCode, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", Z, fmt.Sprintf(format, args...))
	os.Exit(int(code))
}
