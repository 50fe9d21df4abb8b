// options.go - the flat transfer configuration record
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

// Package engine drives a transfer: the sender walks the source and
// computes deltas, the receiver materializes them safely at the
// destination, and the session orchestrator composes the two with
// deletion scans, batch files, size and time bounds and statistics.
package engine

import (
	"fmt"
	"time"

	"github.com/oferchen/oc-rsync-sub000/checksum"
	"github.com/oferchen/oc-rsync-sub000/compress"
	"github.com/oferchen/oc-rsync-sub000/meta"
	logger "github.com/opencoff/go-logger"
)

// DeleteMode says when the deletion scan runs relative to the
// transfer.
type DeleteMode int

const (
	DeleteOff DeleteMode = iota
	DeleteBefore
	DeleteDuring
	DeleteAfter
	DeleteDelay
)

// SyncOptions enumerates every transfer toggle. The zero value is a
// plain copy: no deletion, no compression, no metadata preservation.
type SyncOptions struct {
	Delete            DeleteMode
	DeleteExcluded    bool
	IgnoreMissingArgs bool
	DeleteMissingArgs bool
	RemoveSourceFiles bool
	IgnoreErrors      bool
	Force             bool

	MaxDelete *int
	MaxAlloc  uint64
	MaxSize   *uint64
	MinSize   *uint64

	Preallocate bool
	Checksum    bool
	Compress    bool

	DirsOnly      bool
	NoImpliedDirs bool
	DryRun        bool
	ListOnly      bool

	Update         bool
	Existing       bool
	IgnoreExisting bool
	OneFileSystem  bool
	SizeOnly       bool
	IgnoreTimes    bool

	Perms         bool
	Executability bool
	Times         bool
	Atimes        bool
	OmitDirTimes  bool
	OmitLinkTimes bool
	Owner         bool
	Group         bool
	Links         bool
	CopyLinks     bool
	HardLinks     bool
	Devices       bool
	Specials      bool
	Xattrs        bool
	Fsync         bool
	SuperUser     bool
	FakeSuper     bool
	NumericIDs    bool

	Sparse bool

	Strong       checksum.StrongHash
	ChecksumSeed uint32

	CompressLevel  int
	CompressChoice []compress.Codec
	SkipCompress   []string
	WholeFile      bool

	Partial      bool
	PartialDir   string
	TempDir      string
	Append       bool
	AppendVerify bool
	Inplace      bool
	DelayUpdates bool

	ModifyWindow time.Duration
	BwLimit      uint64

	StopAfter time.Duration
	StopAt    time.Time

	BlockSize   int
	BasisWindow int

	Backup       bool
	BackupDir    string
	BackupSuffix string

	Chmod  []meta.ChmodRule
	Chown  *ChownSpec
	CopyAs *ChownSpec

	UIDMap meta.IDMapper
	GIDMap meta.IDMapper

	WriteBatch     string
	OnlyWriteBatch bool
	ReadBatch      string

	CopyDevices  bool
	WriteDevices bool

	Progress        bool
	HumanReadable   bool
	ItemizeChanges  bool
	OutFormat       string
	EightBitOutput  bool
	Quiet           bool

	// Log receives session diagnostics when non-nil.
	Log logger.Logger
}

// ChownSpec carries uid/gid overrides; a nil pointer leaves the
// attribute alone.
type ChownSpec struct {
	Uid *uint32
	Gid *uint32
}

// Validate enforces the construction invariants that the flat record
// can't express by type alone.
func (o *SyncOptions) Validate() error {
	if o.Append && o.AppendVerify {
		return fmt.Errorf("engine: append and append-verify are mutually exclusive")
	}
	if o.BlockSize < 0 {
		return fmt.Errorf("engine: negative block size")
	}
	return nil
}

// WalkLinks reports whether the source walk should follow symlinks.
func (o *SyncOptions) WalkLinks() bool {
	return o.CopyLinks
}

// BackupSuffixOrDefault returns the configured suffix, "~" when the
// backup dir is unset and nothing was given.
func (o *SyncOptions) BackupSuffixOrDefault() string {
	if o.BackupSuffix == "" && o.BackupDir == "" {
		return "~"
	}
	return o.BackupSuffix
}

func (o *SyncOptions) checksumConfig() *checksum.Config {
	return checksum.NewBuilder().Strong(o.Strong).Seed(o.ChecksumSeed).Build()
}

func (o *SyncOptions) logf(level string, format string, args ...any) {
	if o.Log == nil || o.Quiet {
		return
	}
	switch level {
	case "warn":
		o.Log.Warn(format, args...)
	case "debug":
		o.Log.Debug(format, args...)
	default:
		o.Log.Info(format, args...)
	}
}
