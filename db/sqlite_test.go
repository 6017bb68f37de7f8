package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndQueryPredictions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		rec := PredictionRecord{
			ID:              id,
			Year:            2018 + i,
			KmDriven:        1000 * float64(i+1),
			ExShowroomPrice: 80000,
			PredictedPrice:  40000 + float64(i),
			AdjustedPrice:   40000 + float64(i),
			Breakdown:       map[string]float64{"base": 40000 + float64(i)},
			ModelType:       "linear",
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		if i == 2 {
			rec.Owner = "1st owner"
			rec.AppliedAdjustments = true
			rec.AdjustedPrice = 42000
		}
		if err := store.SavePrediction(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	records, err := store.RecentPredictions(ctx, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	latest := records[0]
	if latest.ID != "c" || !latest.AppliedAdjustments || latest.Owner != "1st owner" {
		t.Fatalf("unexpected latest record: %+v", latest)
	}
	if latest.Breakdown["base"] != 40002 {
		t.Fatalf("breakdown not round-tripped: %v", latest.Breakdown)
	}
	if records[1].ID != "b" {
		t.Fatalf("expected newest first, got %s", records[1].ID)
	}
}

func TestSavePredictionRequiresID(t *testing.T) {
	store := openTestStore(t)
	if err := store.SavePrediction(context.Background(), PredictionRecord{}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestTrainingLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	entry := TrainingLog{
		ModelName:   "linear",
		R2:          0.81,
		MAE:         5200,
		RMSE:        7100,
		TrainedAt:   time.Now(),
		DataPoints:  600,
		DroppedRows: 435,
	}
	if err := store.SaveTrainingLog(ctx, entry); err != nil {
		t.Fatalf("save: %v", err)
	}
	logs, err := store.LoadTrainingLog(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(logs) != 1 || logs[0].DataPoints != 600 || logs[0].DroppedRows != 435 {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestNilStore(t *testing.T) {
	var store *Store
	if err := store.SavePrediction(context.Background(), PredictionRecord{ID: "x"}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("closing nil store should be a no-op: %v", err)
	}
}
