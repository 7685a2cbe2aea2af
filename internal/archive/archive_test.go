package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-engine/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func report(id string, epoch uint64, created time.Time) models.ConsensusReport {
	return models.ConsensusReport{
		ReportID:  id,
		Epoch:     epoch,
		Status:    models.ConsensusAllSucceeded,
		Summary:   "[alpha] looks like disk pressure",
		CreatedAt: created,
		Results: []models.DiagnosisResult{
			{Provider: "alpha", Status: models.ProviderSuccess, Text: "looks like disk pressure", Latency: 120 * time.Millisecond},
		},
	}
}

func TestStoreAndGetReport(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	want := report("r-1", 1, time.Unix(1000, 0).UTC())
	if err := store.StoreReport(ctx, want); err != nil {
		t.Fatalf("StoreReport: %v", err)
	}

	got, err := store.GetReport(ctx, "r-1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.Epoch != 1 || got.Status != models.ConsensusAllSucceeded || len(got.Results) != 1 {
		t.Fatalf("report mangled: %+v", got)
	}
	if got.Results[0].Text != "looks like disk pressure" {
		t.Fatalf("result text lost: %+v", got.Results[0])
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestGetReportMissing(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetReport(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing report error = %v, want ErrNotFound", err)
	}
}

func TestStoreReportIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	r := report("r-1", 1, time.Unix(1000, 0).UTC())
	if err := store.StoreReport(ctx, r); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if err := store.StoreReport(ctx, r); err != nil {
		t.Fatalf("replayed store must not error: %v", err)
	}

	reports, err := store.ListReports(ctx, 10)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("replay created a duplicate row: %d reports", len(reports))
	}
}

func TestListReportsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Unix(1000, 0).UTC()
	for i := 0; i < 5; i++ {
		r := report(string(rune('a'+i)), uint64(i+1), base.Add(time.Duration(i)*time.Minute))
		if err := store.StoreReport(ctx, r); err != nil {
			t.Fatalf("StoreReport %d: %v", i, err)
		}
	}

	reports, err := store.ListReports(ctx, 3)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("limit ignored: got %d reports", len(reports))
	}
	for i := 1; i < len(reports); i++ {
		if reports[i].CreatedAt.After(reports[i-1].CreatedAt) {
			t.Fatalf("reports not newest-first: %v then %v", reports[i-1].CreatedAt, reports[i].CreatedAt)
		}
	}
	if reports[0].Epoch != 5 {
		t.Fatalf("newest report epoch = %d, want 5", reports[0].Epoch)
	}
}
