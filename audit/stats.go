package audit

import (
	"io"
	"os"
	"time"
)

// Stats summarizes a log file for operational reporting.
type Stats struct {
	Entries   int64     `json:"entries"`
	Bytes     int64     `json:"bytes"`
	FirstSeq  int64     `json:"first_seq,omitempty"`
	LastSeq   int64     `json:"last_seq,omitempty"`
	FirstTime time.Time `json:"first_time,omitempty"`
	LastTime  time.Time `json:"last_time,omitempty"`
}

// ReadStats scans the log file at path and reports entry counts and
// the covered time range.
func ReadStats(path string) (Stats, error) {
	var stats Stats

	info, err := os.Stat(path)
	if err != nil {
		return stats, err
	}
	stats.Bytes = info.Size()

	reader, err := NewReader(path)
	if err != nil {
		return stats, err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		if stats.Entries == 0 {
			stats.FirstSeq = entry.Seq
			stats.FirstTime = entry.Timestamp
		}
		stats.Entries++
		stats.LastSeq = entry.Seq
		stats.LastTime = entry.Timestamp
	}
}

// Stats reports statistics for this log, flushing pending writes first.
func (l *Log) Stats() (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return Stats{}, err
	}
	return ReadStats(l.path)
}
