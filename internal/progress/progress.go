// Package progress carries mirror events to whatever renders them.
//
// The core only talks to the Observer interface. Implementations must be
// safe for concurrent use because files are hashed on a worker pool.
package progress

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/aweris/dirmirror/internal/backend"
)

// Observer receives cache and resolution events.
type Observer interface {
	OnHit(path string)
	OnMiss(path string)
	OnSizeKnown(path string, bytes int64)
	OnResolved(path string, id backend.ContentID)
	OnProgress(done, total int)
}

// Nop discards every event.
type Nop struct{}

func (Nop) OnHit(string)                         {}
func (Nop) OnMiss(string)                        {}
func (Nop) OnSizeKnown(string, int64)            {}
func (Nop) OnResolved(string, backend.ContentID) {}
func (Nop) OnProgress(int, int)                  {}

// Multi fans events out to several observers.
type Multi []Observer

func (m Multi) OnHit(path string) {
	for _, o := range m {
		o.OnHit(path)
	}
}

func (m Multi) OnMiss(path string) {
	for _, o := range m {
		o.OnMiss(path)
	}
}

func (m Multi) OnSizeKnown(path string, bytes int64) {
	for _, o := range m {
		o.OnSizeKnown(path, bytes)
	}
}

func (m Multi) OnResolved(path string, id backend.ContentID) {
	for _, o := range m {
		o.OnResolved(path, id)
	}
}

func (m Multi) OnProgress(done, total int) {
	for _, o := range m {
		o.OnProgress(done, total)
	}
}

// Counters keeps running totals of the events it sees.
type Counters struct {
	hits     atomic.Int64
	misses   atomic.Int64
	bytes    atomic.Int64
	resolved atomic.Int64
	done     atomic.Int64
	total    atomic.Int64
}

func (c *Counters) OnHit(string)                         { c.hits.Add(1) }
func (c *Counters) OnMiss(string)                        { c.misses.Add(1) }
func (c *Counters) OnSizeKnown(_ string, bytes int64)    { c.bytes.Add(bytes) }
func (c *Counters) OnResolved(string, backend.ContentID) { c.resolved.Add(1) }

func (c *Counters) OnProgress(done, total int) {
	c.done.Store(int64(done))
	c.total.Store(int64(total))
}

// Summary is a snapshot of Counters.
type Summary struct {
	Hits        int64
	Misses      int64
	Bytes       int64
	Directories int64
	Done        int64
	Total       int64
}

func (s Summary) String() string {
	return fmt.Sprintf("%d/%d files (%d hits, %d misses), %d directories, %d bytes",
		s.Done, s.Total, s.Hits, s.Misses, s.Directories, s.Bytes)
}

// Summary returns the current totals.
func (c *Counters) Summary() Summary {
	return Summary{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Bytes:       c.bytes.Load(),
		Directories: c.resolved.Load(),
		Done:        c.done.Load(),
		Total:       c.total.Load(),
	}
}

// Logger writes events to a logrus entry. Hits and sizes are debug noise;
// misses and resolved directories are what a user wants to see.
type Logger struct {
	Log *logrus.Entry
}

// NewLogger returns an observer logging through log.
func NewLogger(log *logrus.Entry) *Logger {
	return &Logger{Log: log}
}

func (l *Logger) OnHit(path string) {
	l.Log.WithField("path", path).Debug("found in cache")
}

func (l *Logger) OnMiss(path string) {
	l.Log.WithField("path", path).Info("added")
}

func (l *Logger) OnSizeKnown(path string, bytes int64) {
	l.Log.WithFields(logrus.Fields{"path": path, "bytes": bytes}).Trace("size")
}

func (l *Logger) OnResolved(path string, id backend.ContentID) {
	l.Log.WithFields(logrus.Fields{"path": path, "id": id}).Info("resolved")
}

func (l *Logger) OnProgress(done, total int) {
	l.Log.WithFields(logrus.Fields{"done": done, "total": total}).Debug("progress")
}
