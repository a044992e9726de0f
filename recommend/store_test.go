package recommend

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solventlab/des-agent-go/core"
)

func newTestRec(id, taskID, material string, status Status) *Recommendation {
	return &Recommendation{
		ID: id,
		Task: core.Task{
			ID:             taskID,
			Description:    "dissolve " + material,
			TargetMaterial: material,
		},
		Formulation: core.Formulation{HBD: "urea", HBA: "choline chloride", MolarRatio: "2:1"},
		Confidence:  0.8,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
}

func liquidResult() *core.ExperimentResult {
	eff := 70.0
	return &core.ExperimentResult{
		IsLiquidFormed: true,
		Measurements: []core.Measurement{
			{TargetMaterial: "lignin", TimeHours: 24, Efficiency: &eff, Unit: "wt%"},
		},
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	rec := newTestRec("REC_1", "t1", "lignin", StatusPending)
	require.NoError(t, store.Save(rec))

	got, err := store.Get("REC_1")
	require.NoError(t, err)
	assert.Equal(t, "REC_1", got.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "urea : choline chloride (2:1)", got.Formulation.DisplayString())
	assert.Equal(t, Version, got.Version)

	_, err = store.Get("REC_MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveReplacesPlaceholder(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	task := core.Task{ID: "t1", Description: "d", TargetMaterial: "lignin"}
	placeholder := NewPlaceholder(task, time.Now().UTC())
	require.NoError(t, store.Save(placeholder))

	placeholder.Formulation = core.Formulation{HBD: "lactic acid", HBA: "choline chloride", MolarRatio: "2:1"}
	placeholder.Status = StatusPending
	require.NoError(t, store.Save(placeholder))

	assert.Len(t, store.List(ListFilter{}), 1)
	got, err := store.Get(placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestStore_ListFiltersAndOrder(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	old := newTestRec("REC_A", "t1", "lignin", StatusPending)
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := newTestRec("REC_B", "t2", "cellulose", StatusPending)
	done := newTestRec("REC_C", "t3", "lignin", StatusCompleted)
	for _, rec := range []*Recommendation{old, newer, done} {
		require.NoError(t, store.Save(rec))
	}

	all := store.List(ListFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, "REC_A", all[2].ID) // oldest last

	pending := store.List(ListFilter{Status: StatusPending})
	assert.Len(t, pending, 2)

	lignin := store.List(ListFilter{TargetMaterial: "lignin"})
	assert.Len(t, lignin, 2)

	limited := store.List(ListFilter{Limit: 1})
	assert.Len(t, limited, 1)
}

func TestStore_UpdateStatus(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(newTestRec("REC_1", "t1", "lignin", StatusPending)))

	require.NoError(t, store.UpdateStatus("REC_1", StatusProcessing))
	got, err := store.Get("REC_1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)

	err = store.UpdateStatus("REC_1", StatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = store.UpdateStatus("REC_MISSING", StatusProcessing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CancelOnlyPending(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(newTestRec("REC_P", "t1", "lignin", StatusPending)))
	require.NoError(t, store.Cancel("REC_P"))
	got, err := store.Get("REC_P")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	// Cancelled is terminal.
	assert.ErrorIs(t, store.Cancel("REC_P"), ErrInvalidTransition)

	require.NoError(t, store.Save(newTestRec("REC_C", "t2", "lignin", StatusCompleted)))
	assert.ErrorIs(t, store.Cancel("REC_C"), ErrInvalidTransition)
}

func TestStore_FailRecordsReason(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(newTestRec("REC_1", "t1", "lignin", StatusProcessing)))

	require.NoError(t, store.Fail("REC_1", "extraction timed out"))
	got, err := store.Get("REC_1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "extraction timed out", got.Metadata["error"])

	// PENDING cannot fail; it can only be processed or cancelled.
	require.NoError(t, store.Save(newTestRec("REC_2", "t2", "lignin", StatusPending)))
	assert.ErrorIs(t, store.Fail("REC_2", "nope"), ErrInvalidTransition)
}

func TestStore_BeginProcessing(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	for _, from := range []Status{StatusPending, StatusCompleted, StatusFailed} {
		id := "REC_" + string(from)
		require.NoError(t, store.Save(newTestRec(id, "t1", "lignin", from)))

		rec, err := store.BeginProcessing(id, liquidResult())
		require.NoError(t, err, string(from))
		assert.Equal(t, StatusProcessing, rec.Status)
		assert.NotNil(t, rec.ExperimentResult)
	}

	require.NoError(t, store.Save(newTestRec("REC_G", "t2", "lignin", StatusGenerating)))
	_, err = store.BeginProcessing("REC_G", liquidResult())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = store.BeginProcessing("REC_MISSING", liquidResult())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReloadFromDisk(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(newTestRec("REC_1", "t1", "lignin", StatusPending)))
	require.NoError(t, store.Save(newTestRec("REC_2", "t2", "cellulose", StatusCompleted)))

	reopened, err := NewStore(dir, nil)
	require.NoError(t, err)
	assert.Len(t, reopened.List(ListFilter{}), 2)

	got, err := reopened.Get("REC_2")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "cellulose", got.Task.TargetMaterial)
}

func TestStore_Statistics(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(newTestRec("REC_1", "t1", "lignin", StatusPending)))
	require.NoError(t, store.Save(newTestRec("REC_2", "t2", "lignin", StatusCompleted)))
	require.NoError(t, store.Save(newTestRec("REC_3", "t3", "cellulose", StatusPending)))

	st := store.Statistics()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.ByStatus[StatusPending])
	assert.Equal(t, 1, st.ByStatus[StatusCompleted])
	assert.Equal(t, 2, st.ByMaterial["lignin"])
	assert.Equal(t, 1, st.ByMaterial["cellulose"])
}

func TestStore_RecordFilesOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(newTestRec("REC_1", "t1", "lignin", StatusPending)))

	_, err = os.Stat(filepath.Join(dir, "REC_1.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "index.json"))
	assert.NoError(t, err)
}
