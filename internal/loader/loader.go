// Package loader resolves identifiers into load results, one at a time or in
// concurrently-resolved chunks.
package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/halite-audio/halite/pkg/engine"
)

// Status tags a load result variant. The zero value is the internal-error
// sentinel and must never reach a caller.
type Status string

const (
	StatusUnknown        Status = ""
	StatusTrackLoaded    Status = "TRACK_LOADED"
	StatusPlaylistLoaded Status = "PLAYLIST_LOADED"
	StatusSearchResult   Status = "SEARCH_RESULT"
	StatusNoMatches      Status = "NO_MATCHES"
	StatusLoadFailed     Status = "LOAD_FAILED"
)

// Result is the immutable outcome of resolving one identifier.
// PlaylistName and SelectedTrack are meaningful only for
// StatusPlaylistLoaded; SelectedTrack is -1 for search results.
type Result struct {
	Status        Status
	Tracks        []engine.Track
	PlaylistName  string
	SelectedTrack int
}

// ErrReused is returned when a single-use Loader is invoked twice.
var ErrReused = errors.New("loader can only be used once")

// Loader resolves exactly one identifier. The underlying completion can only
// be delivered once, so a Loader must not be reused; a second Load is a
// programming error.
type Loader struct {
	engine engine.Engine
	used   atomic.Bool
	done   chan Result
}

// New creates a single-use loader.
func New(e engine.Engine) *Loader {
	return &Loader{engine: e, done: make(chan Result, 1)}
}

// Load starts resolution and returns the channel the result is delivered on.
func (l *Loader) Load(identifier string) (<-chan Result, error) {
	if l.used.Swap(true) {
		logrus.WithField("identifier", identifier).Error("Loader reused; each loader resolves exactly one identifier")
		return nil, ErrReused
	}
	l.engine.Load(identifier, (*loadSink)(l))
	return l.done, nil
}

// loadSink adapts the engine callbacks onto the loader without exporting
// them on Loader itself.
type loadSink Loader

func (s *loadSink) complete(r Result) {
	if r.Status == StatusUnknown {
		// Internal-error signal; deliver a coarse failure instead of
		// wedging the waiting caller.
		logrus.Error("Load completed with unknown status")
		r = Result{Status: StatusLoadFailed}
	}
	s.done <- r
}

func (s *loadSink) TrackLoaded(t engine.Track) {
	s.complete(Result{Status: StatusTrackLoaded, Tracks: []engine.Track{t}})
}

func (s *loadSink) PlaylistLoaded(name string, tracks []engine.Track, selected int) {
	s.complete(Result{Status: StatusPlaylistLoaded, Tracks: tracks, PlaylistName: name, SelectedTrack: selected})
}

func (s *loadSink) SearchLoaded(tracks []engine.Track) {
	s.complete(Result{Status: StatusSearchResult, Tracks: tracks, SelectedTrack: -1})
}

func (s *loadSink) NoMatches() {
	s.complete(Result{Status: StatusNoMatches})
}

func (s *loadSink) LoadFailed(err error) {
	// Full detail stays server-side; the client only sees the status.
	logrus.WithError(err).Error("Identifier load failed")
	s.complete(Result{Status: StatusLoadFailed})
}

// LoadBulk resolves identifiers in chunks of chunkSize. Identifiers within a
// chunk resolve concurrently; emit fires once per chunk, in chunk order,
// after every identifier in the chunk has completed, and done fires after
// the last chunk. A cancelled context stops emission between chunks; results
// of an abandoned batch are dropped, not delivered.
func LoadBulk(ctx context.Context, e engine.Engine, identifiers []string, chunkSize int, emit func(chunk []Result), done func()) {
	for start := 0; start < len(identifiers); start += chunkSize {
		if ctx.Err() != nil {
			return
		}

		end := start + chunkSize
		if end > len(identifiers) {
			end = len(identifiers)
		}
		chunk := identifiers[start:end]
		results := make([]Result, len(chunk))

		var wg sync.WaitGroup
		for i, identifier := range chunk {
			wg.Add(1)
			go func(i int, identifier string) {
				defer wg.Done()
				ch, err := New(e).Load(identifier)
				if err != nil {
					results[i] = Result{Status: StatusLoadFailed}
					return
				}
				results[i] = <-ch
			}(i, identifier)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return
		}
		emit(results)
	}
	if ctx.Err() == nil {
		done()
	}
}
