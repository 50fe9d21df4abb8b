// delete.go - the extraneous-entry deletion scan
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
	"time"

	"github.com/oferchen/oc-rsync-sub000/filter"
	"github.com/oferchen/oc-rsync-sub000/fsx"
	"github.com/oferchen/oc-rsync-sub000/walk"
)

// deleteExtraneous walks the destination and removes entries the
// source no longer has (or that the rules exclude, with
// --delete-excluded). Deletion consults the matcher in for-delete
// mode: perishable and sender-only rules don't protect anything.
// With --backup a doomed entry is parked instead of removed. The
// first per-entry error wins; --ignore-errors keeps going.
func deleteExtraneous(srcRoot, dst string, matcher *filter.Matcher, opts *SyncOptions, stats *Stats, start time.Time) error {
	var firstErr error

	saveErr := func(err error) error {
		if err == nil {
			return nil
		}
		var xe *ExitError
		if ok := asExitError(err, &xe); ok {
			// limit errors abort even with --ignore-errors
			return err
		}
		if firstErr == nil {
			firstErr = err
		}
		if !opts.IgnoreErrors {
			return err
		}
		return nil
	}

	werr := walk.Ordered(dst, walk.OrderedOptions{OneFS: opts.OneFileSystem}, func(rel string, fi *fsx.Info) error {
		if err := checkTimeLimit(start, opts); err != nil {
			return err
		}
		if rel == "" {
			return nil
		}

		res, err := matcher.IsIncludedForDeleteWithDir(rel)
		if err != nil {
			return err
		}

		_, serr := os.Lstat(filepath.Join(srcRoot, rel))
		srcExists := serr == nil

		doomed := (res.Include && !srcExists) || (!res.Include && opts.DeleteExcluded)
		if !doomed {
			if !res.Include && fi.IsDir() && !res.Descend {
				return walk.SkipDir
			}
			return nil
		}

		if opts.MaxDelete != nil && stats.FilesDeleted >= *opts.MaxDelete {
			return ErrMaxDelete
		}

		opts.logf("info", "deleting %s", escapePath(rel, opts.EightBitOutput))

		var derr error
		switch {
		case opts.DryRun || opts.OnlyWriteBatch:
			// counted, not performed
		case opts.Backup:
			derr = backupEntry(opts, fi.Path(), rel)
		default:
			derr = removeEntry(fi.Path(), fi.IsDir(), opts)
		}

		if derr == nil {
			stats.FilesDeleted++
		} else if err := saveErr(derr); err != nil {
			return err
		}

		if fi.IsDir() {
			// the whole subtree went away (or failed); either
			// way there is nothing to visit below it
			return walk.SkipDir
		}
		return nil
	})

	if werr != nil {
		return werr
	}
	if firstErr != nil && !opts.IgnoreErrors {
		return firstErr
	}
	return nil
}

func asExitError(err error, out **ExitError) bool {
	for err != nil {
		if xe, ok := err.(*ExitError); ok {
			*out = xe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
