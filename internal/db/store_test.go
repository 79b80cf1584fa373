//go:build testutil
// +build testutil

package db_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Spok95/streampoints/internal/db"
	"github.com/Spok95/streampoints/internal/models"
	"github.com/Spok95/streampoints/internal/points"
	"github.com/Spok95/streampoints/internal/testutil/testdb"
	"github.com/google/uuid"
)

func day(s string) time.Time {
	t, _ := models.ParseDate(s)
	return t
}

func startStore(t *testing.T) *db.Store {
	t.Helper()
	a, _ := startTwoStores(t)
	return a
}

// startTwoStores — два хранилища на разных пулах (lib/pq и pgx), как у двух процессов.
func startTwoStores(t *testing.T) (*db.Store, *db.Store) {
	t.Helper()
	h, err := testdb.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Close)
	second, err := db.Open(context.Background(), h.DSN)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = second.Close() })
	return db.NewStore(h.DB, models.DefaultSettings()), db.NewStore(second, models.DefaultSettings())
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()

	ledger := []models.LedgerEntry{
		{UserID: "007", Date: day("2026-10-01"), Points: 1},
		{UserID: "007", Date: day("2026-10-02"), Points: 1},
	}
	summary := []models.UserPoints{{UserID: "007", UserName: "阿七", TotalPoints: 2, ValidDays: 2,
		FirstDate: day("2026-10-01"), LastDate: day("2026-10-02")}}
	if err := s.SaveTenant(ctx, "shop", ledger, summary); err != nil {
		t.Fatal(err)
	}
	// повторная запись полностью заменяет состояние
	if err := s.SaveTenant(ctx, "shop", ledger[:1], summary); err != nil {
		t.Fatal(err)
	}

	gotL, err := s.LoadLedger(ctx, "shop")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotL) != 1 || !gotL[0].Date.Equal(day("2026-10-01")) {
		t.Fatalf("ledger=%+v", gotL)
	}
	gotS, err := s.LoadSummary(ctx, "shop")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotS) != 1 || gotS[0].UserName != "阿七" || !gotS[0].LastDate.Equal(day("2026-10-02")) {
		t.Fatalf("summary=%+v", gotS)
	}

	_ = s.SaveTenant(ctx, "other", nil, []models.UserPoints{{UserID: "9", UserName: models.UnknownUserName}})
	if found, _ := s.SearchByName(ctx, "未知"); len(found) != 0 {
		t.Fatalf("placeholder names must not match: %+v", found)
	}

	found, err := s.SearchByName(ctx, "七")
	if err != nil || len(found) != 1 || found[0].Tenant != "shop" {
		t.Fatalf("found=%+v err=%v", found, err)
	}
	tenants, _ := s.Tenants(ctx)
	if len(tenants) != 2 || tenants[1] != "shop" {
		t.Fatalf("tenants=%v", tenants)
	}
}

func TestStore_SettingsAndHistory(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()

	st, err := s.Settings(ctx, "t")
	if err != nil || st != models.DefaultSettings() {
		t.Fatalf("defaults=%+v err=%v", st, err)
	}
	st.MinDurationMinutes = 25
	if err := s.SaveSettings(ctx, "t", st); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Settings(ctx, "t"); got.MinDurationMinutes != 25 {
		t.Fatalf("settings=%+v", got)
	}

	for i := 0; i < 3; i++ {
		rec := models.Ingestion{ID: uuid.NewString(), Tenant: "t", Filename: fmt.Sprintf("%d.csv", i),
			Success: true, CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
		if err := s.RecordIngestion(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	hist, err := s.ListIngestions(ctx, "t", 2)
	if err != nil || len(hist) != 2 || hist[0].Filename != "2.csv" {
		t.Fatalf("history=%+v err=%v", hist, err)
	}
}

// Параллельные начисления одному арендатору не теряют записи.
func TestService_ConcurrentAccumulate(t *testing.T) {
	s := startStore(t)
	svc := points.NewService(s, s, nil, time.UTC).
		WithClock(func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := models.SessionRecord{UserID: fmt.Sprint(i), Date: day("2026-10-10"), Duration: 60}
			if _, err := svc.Accumulate(context.Background(), "t", []models.SessionRecord{rec}, models.DefaultSettings()); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	ledger, err := s.LoadLedger(context.Background(), "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger) != 10 {
		t.Fatalf("ledger has %d entries, want 10", len(ledger))
	}
}

// Пока первый пул держит арендатора, второй не читает его состояние.
func TestStore_UpdateTenantLocksAcrossPools(t *testing.T) {
	a, b := startTwoStores(t)
	ctx := context.Background()

	inA := make(chan struct{})
	releaseA := make(chan struct{})
	errA := make(chan error, 1)
	go func() {
		errA <- a.UpdateTenant(ctx, "shop", func(models.TenantState) ([]models.LedgerEntry, []models.UserPoints, error) {
			close(inA)
			<-releaseA
			return []models.LedgerEntry{{UserID: "1", Date: day("2026-10-15"), Points: 1}}, nil, nil
		})
	}()
	<-inA

	var bEntered atomic.Bool
	var seen []models.LedgerEntry
	errB := make(chan error, 1)
	go func() {
		errB <- b.UpdateTenant(ctx, "shop", func(cur models.TenantState) ([]models.LedgerEntry, []models.UserPoints, error) {
			bEntered.Store(true)
			seen = cur.Ledger
			return append(cur.Ledger, models.LedgerEntry{UserID: "2", Date: day("2026-10-15"), Points: 1}), nil, nil
		})
	}()

	time.Sleep(300 * time.Millisecond)
	if bEntered.Load() {
		t.Fatal("second pool read state while the first held the tenant lock")
	}
	close(releaseA)
	if err := <-errA; err != nil {
		t.Fatal(err)
	}
	if err := <-errB; err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0].UserID != "1" {
		t.Fatalf("second pool saw %+v", seen)
	}
	got, _ := a.LoadLedger(ctx, "shop")
	if len(got) != 2 {
		t.Fatalf("ledger=%+v", got)
	}
}

// Два сервиса со своими TenantLocker (ingest и serve) над одной базой.
func TestService_TwoProcessesAccumulate(t *testing.T) {
	a, b := startTwoStores(t)
	clock := func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }
	svcs := []*points.Service{
		points.NewService(a, a, nil, time.UTC).WithClock(clock),
		points.NewService(b, b, nil, time.UTC).WithClock(clock),
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := models.SessionRecord{UserID: fmt.Sprint(i), Date: day("2026-10-15"), Duration: 60}
			if _, err := svcs[i%2].Accumulate(context.Background(), "t", []models.SessionRecord{rec}, models.DefaultSettings()); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	ledger, err := a.LoadLedger(context.Background(), "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger) != 20 {
		t.Fatalf("lost updates: ledger has %d entries, want 20", len(ledger))
	}
}
