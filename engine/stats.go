// stats.go - per session transfer statistics
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
	"fmt"
	"time"
)

// Stats counts what one session did. All counters are monotonic
// within the session.
type Stats struct {
	FilesTotal       int
	DirsTotal        int
	FilesTransferred int
	FilesDeleted     int
	FilesCreated     int
	DirsCreated      int

	TotalFileSize    uint64
	BytesTransferred uint64
	LiteralData      uint64
	MatchedData      uint64
	FileListSize     uint64
	BytesSent        uint64
	BytesReceived    uint64

	FileListGenTime      time.Duration
	FileListTransferTime time.Duration

	start time.Time
}

// NewStats starts the session clock.
func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

// Elapsed is the wall time since the session began.
func (s *Stats) Elapsed() time.Duration {
	if s.start.IsZero() {
		return 0
	}
	return time.Since(s.start)
}

// Summary renders the counters the way --stats prints them.
func (s *Stats) Summary() string {
	return fmt.Sprintf(
		"Number of files: %d (dirs: %d)\n"+
			"Number of regular files transferred: %d\n"+
			"Number of deleted files: %d\n"+
			"Number of created files: %d\n"+
			"Total file size: %d bytes\n"+
			"Total transferred file size: %d bytes\n"+
			"Literal data: %d bytes\n"+
			"Matched data: %d bytes\n"+
			"Total bytes sent: %d\n"+
			"Total bytes received: %d\n",
		s.FilesTotal, s.DirsTotal, s.FilesTransferred, s.FilesDeleted,
		s.FilesCreated, s.TotalFileSize, s.BytesTransferred,
		s.LiteralData, s.MatchedData, s.BytesSent, s.BytesReceived)
}
