package hilltop

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// SourceSnapshot is a copy of one source's state for HTTP endpoints.
type SourceSnapshot struct {
	ID              string
	Color           string
	Baseline        image.Image
	PendingFrames   int
	LastFrame       image.Image
	LastReport      *PeakReport
	LastFrameAt     time.Time
	BaselineUpdated time.Time
}

// FrameStatus tells the caller what AddFrame did with a frame.
type FrameStatus struct {
	// Baseline is set when the frame can be compared: it is the background
	// to search against, and Frame is the frame at the baseline's size.
	Baseline image.Image
	Frame    image.Image

	// Collected and Needed report baseline progress while it is built.
	Collected int
	Needed    int
}

type sourceState struct {
	color           string
	pending         []image.Image
	baseline        image.Image
	baselineUpdated time.Time
	lastFrame       image.Image
	lastFrameAt     time.Time
	lastReport      *PeakReport
}

// StateTracker keeps per-source baselines, frames and reports. It is safe
// for concurrent use.
type StateTracker struct {
	mu             sync.RWMutex
	sources        map[string]*sourceState
	baselineFrames int
	dataDir        string // baselines are persisted here as PNG; empty disables persistence
}

// NewStateTracker creates a tracker that composes each baseline from
// baselineFrames frames.
func NewStateTracker(baselineFrames int) *StateTracker {
	return &StateTracker{
		sources:        make(map[string]*sourceState),
		baselineFrames: max(baselineFrames, 1),
	}
}

// NewStateTrackerWithDataDir creates a tracker that persists baselines under
// dataDir and loads any that are already there for the given source IDs.
func NewStateTrackerWithDataDir(baselineFrames int, dataDir string, sourceIDs []string) *StateTracker {
	st := NewStateTracker(baselineFrames)
	st.dataDir = dataDir
	if dataDir == "" {
		return st
	}
	for _, id := range sourceIDs {
		img, err := LoadImage(st.baselinePath(id))
		if err != nil {
			continue
		}
		s := st.source(id)
		s.baseline = img
		s.baselineUpdated = time.Now()
		Logf("[DEBUG] Loaded baseline for %s from %s", id, st.baselinePath(id))
	}
	return st
}

func (st *StateTracker) baselinePath(id string) string {
	return filepath.Join(st.dataDir, fmt.Sprintf("baseline-%s.png", id))
}

// source returns the state for id, creating it. Callers hold st.mu.
func (st *StateTracker) source(id string) *sourceState {
	s, ok := st.sources[id]
	if !ok {
		s = &sourceState{color: DefaultMarkerColor}
		st.sources[id] = s
	}
	return s
}

// SetColor sets the marker color for a source
func (st *StateTracker) SetColor(sourceID, hexColor string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.source(sourceID).color = hexColor
}

// AddFrame records a frame. Until the source has a baseline, frames are
// collected and composited once enough have arrived; after that each frame
// becomes the source's last frame and is returned for comparison.
func (st *StateTracker) AddFrame(sourceID string, img image.Image) (FrameStatus, error) {
	if img == nil || img.Bounds().Empty() {
		return FrameStatus{}, fmt.Errorf("%w: empty frame for %s", ErrInvalidInput, sourceID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.source(sourceID)

	if s.baseline == nil {
		s.pending = append(s.pending, img)
		status := FrameStatus{Collected: len(s.pending), Needed: st.baselineFrames}
		if len(s.pending) < st.baselineFrames {
			return status, nil
		}
		baseline, err := Composite(s.pending)
		if err != nil {
			return status, fmt.Errorf("compositing baseline for %s: %w", sourceID, err)
		}
		s.pending = nil
		s.baseline = baseline
		s.baselineUpdated = time.Now()
		if st.dataDir != "" {
			if err := SavePNG(st.baselinePath(sourceID), baseline); err != nil {
				Logf("[DEBUG] Saving baseline for %s failed: %v", sourceID, err)
			}
		}
		Logf("[DEBUG] Baseline for %s composed from %d frames", sourceID, st.baselineFrames)
		return status, nil
	}

	b := s.baseline.Bounds()
	frame := resizeTo(img, b.Dx(), b.Dy())
	s.lastFrame = frame
	s.lastFrameAt = time.Now()
	return FrameStatus{Baseline: s.baseline, Frame: frame, Collected: st.baselineFrames, Needed: st.baselineFrames}, nil
}

// SetReport stores the latest report for a source.
func (st *StateTracker) SetReport(sourceID string, report *PeakReport) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.source(sourceID).lastReport = report
}

// ResetBaseline drops the baseline, pending frames and last results of a
// source so a new baseline is collected.
func (st *StateTracker) ResetBaseline(sourceID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.source(sourceID)
	s.pending = nil
	s.baseline = nil
	s.lastFrame = nil
	s.lastReport = nil
	if st.dataDir != "" {
		if err := os.Remove(st.baselinePath(sourceID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing baseline for %s: %w", sourceID, err)
		}
	}
	return nil
}

// Snapshot returns a copy of a source's state.
func (st *StateTracker) Snapshot(sourceID string) (SourceSnapshot, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sources[sourceID]
	if !ok {
		return SourceSnapshot{}, false
	}
	snap := SourceSnapshot{
		ID:              sourceID,
		Color:           s.color,
		Baseline:        s.baseline,
		PendingFrames:   len(s.pending),
		LastFrame:       s.lastFrame,
		LastFrameAt:     s.lastFrameAt,
		BaselineUpdated: s.baselineUpdated,
	}
	if s.lastReport != nil {
		r := *s.lastReport
		snap.LastReport = &r
	}
	return snap, true
}

// GetReports returns the latest report of every source that has one
func (st *StateTracker) GetReports() map[string]*PeakReport {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make(map[string]*PeakReport)
	for id, s := range st.sources {
		if s.lastReport != nil {
			r := *s.lastReport
			result[id] = &r
		}
	}
	return result
}

// SourceIDs returns the known source IDs in sorted order.
func (st *StateTracker) SourceIDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ids := make([]string, 0, len(st.sources))
	for id := range st.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
