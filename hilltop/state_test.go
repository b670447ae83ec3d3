package hilltop

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTracker_CollectsBaseline(t *testing.T) {
	st := NewStateTracker(3)

	for i := 1; i <= 2; i++ {
		status, err := st.AddFrame("cam", solidImage(8, 6, black))
		require.NoError(t, err)
		assert.Nil(t, status.Baseline, "frame %d should not be compared yet", i)
		assert.Equal(t, i, status.Collected)
		assert.Equal(t, 3, status.Needed)
	}

	status, err := st.AddFrame("cam", solidImage(8, 6, black))
	require.NoError(t, err)
	assert.Nil(t, status.Baseline, "the completing frame is part of the baseline")

	snap, ok := st.Snapshot("cam")
	require.True(t, ok)
	require.NotNil(t, snap.Baseline)
	assert.Equal(t, image.Rect(0, 0, 8, 6), snap.Baseline.Bounds())
	assert.Equal(t, 0, snap.PendingFrames)
	assert.False(t, snap.BaselineUpdated.IsZero())
}

func TestStateTracker_ComparesAfterBaseline(t *testing.T) {
	st := NewStateTracker(1)
	_, err := st.AddFrame("cam", solidImage(10, 10, black))
	require.NoError(t, err)

	status, err := st.AddFrame("cam", solidImage(20, 5, white))
	require.NoError(t, err)
	require.NotNil(t, status.Baseline)
	require.NotNil(t, status.Frame)
	assert.Equal(t, status.Baseline.Bounds(), status.Frame.Bounds(), "frame is resized to the baseline")

	snap, _ := st.Snapshot("cam")
	assert.Equal(t, status.Frame, snap.LastFrame)
	assert.False(t, snap.LastFrameAt.IsZero())
}

func TestStateTracker_RejectsEmptyFrame(t *testing.T) {
	st := NewStateTracker(1)
	_, err := st.AddFrame("cam", nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = st.AddFrame("cam", image.NewNRGBA(image.Rect(0, 0, 0, 4)))
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestStateTracker_ResetBaseline(t *testing.T) {
	st := NewStateTracker(1)
	_, _ = st.AddFrame("cam", solidImage(4, 4, black))
	status, _ := st.AddFrame("cam", solidImage(4, 4, white))
	require.NotNil(t, status.Baseline)
	st.SetReport("cam", &PeakReport{Source: "cam"})

	require.NoError(t, st.ResetBaseline("cam"))

	snap, ok := st.Snapshot("cam")
	require.True(t, ok)
	assert.Nil(t, snap.Baseline)
	assert.Nil(t, snap.LastFrame)
	assert.Nil(t, snap.LastReport)

	status, err := st.AddFrame("cam", solidImage(4, 4, white))
	require.NoError(t, err)
	assert.Nil(t, status.Baseline, "first frame after a reset starts a new baseline")
}

func TestStateTracker_Reports(t *testing.T) {
	st := NewStateTracker(1)
	st.SetColor("b", "#00FF00")
	st.SetReport("a", &PeakReport{Source: "a", FeatureSize: 10})

	reports := st.GetReports()
	require.Len(t, reports, 1)
	assert.Equal(t, 10, reports["a"].FeatureSize)

	// copies, not shared pointers
	reports["a"].FeatureSize = 99
	snap, _ := st.Snapshot("a")
	assert.Equal(t, 10, snap.LastReport.FeatureSize)

	assert.Equal(t, []string{"a", "b"}, st.SourceIDs())

	snap, _ = st.Snapshot("b")
	assert.Equal(t, "#00FF00", snap.Color)

	_, ok := st.Snapshot("unknown")
	assert.False(t, ok)
}

func TestStateTracker_PersistsBaseline(t *testing.T) {
	dir := t.TempDir()

	st := NewStateTrackerWithDataDir(1, dir, []string{"cam"})
	_, err := st.AddFrame("cam", solidImage(5, 3, white))
	require.NoError(t, err)

	path := filepath.Join(dir, "baseline-cam.png")
	_, err = os.Stat(path)
	require.NoError(t, err, "baseline should be written to the data dir")

	reloaded := NewStateTrackerWithDataDir(1, dir, []string{"cam", "other"})
	snap, ok := reloaded.Snapshot("cam")
	require.True(t, ok)
	require.NotNil(t, snap.Baseline)
	assert.Equal(t, 5, snap.Baseline.Bounds().Dx())

	_, ok = reloaded.Snapshot("other")
	assert.False(t, ok, "sources without a saved baseline are not created")

	require.NoError(t, reloaded.ResetBaseline("cam"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "reset removes the saved baseline")

	// second reset with nothing on disk is fine
	assert.NoError(t, reloaded.ResetBaseline("cam"))
}

func TestStateTracker_Concurrent(t *testing.T) {
	st := NewStateTracker(2)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"a", "b"}[i%2]
			for j := 0; j < 5; j++ {
				_, _ = st.AddFrame(id, solidImage(4, 4, black))
				st.SetReport(id, &PeakReport{Source: id})
				_, _ = st.Snapshot(id)
				_ = st.GetReports()
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, st.GetReports(), 2)
}
