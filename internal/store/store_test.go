package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iwvelando/loan-amortization/pkg/codec"
	"github.com/iwvelando/loan-amortization/pkg/loans"
	"go.uber.org/zap"
)

func testSnapshot(principal float64) codec.Snapshot {
	cfg := loans.LoanConfiguration{
		Principal:                 principal,
		AnnualInterestRatePercent: 4.25,
		TermYears:                 15,
		StartDate:                 time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC),
		RecurringExtraPayment:     100,
		ModificationPeriods:       []loans.ModificationPeriod{{StartMonth: 6, EndMonth: 8, Amount: 250}},
	}
	return codec.NewSnapshot(cfg, time.Date(2025, time.March, 4, 5, 6, 7, 0, time.UTC))
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load of a missing key: expected ErrNotFound, got %v", err)
	}

	first := testSnapshot(120000)
	if err := s.Save(ctx, "home-loan", first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := s.Load(ctx, "home-loan")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Config.Principal != 120000 || len(loaded.Config.ModificationPeriods) != 1 {
		t.Errorf("unexpected configuration: %+v", loaded.Config)
	}
	if len(loaded.Schedule) != len(first.Schedule) {
		t.Fatalf("schedule length = %d, expected %d", len(loaded.Schedule), len(first.Schedule))
	}
	if loaded.Schedule[len(loaded.Schedule)-1] != first.Schedule[len(first.Schedule)-1] {
		t.Errorf("last period differs: %+v vs %+v", loaded.Schedule[len(loaded.Schedule)-1], first.Schedule[len(first.Schedule)-1])
	}
	if !loaded.SavedAt.Equal(first.SavedAt) {
		t.Errorf("SavedAt = %v, expected %v", loaded.SavedAt, first.SavedAt)
	}

	second := testSnapshot(80000)
	if err := s.Save(ctx, "home-loan", second); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	loaded, err = s.Load(ctx, "home-loan")
	if err != nil {
		t.Fatalf("Load after overwrite failed: %v", err)
	}
	if loaded.Config.Principal != 80000 {
		t.Errorf("expected overwritten principal 80000, got %v", loaded.Config.Principal)
	}

	if err := s.Delete(ctx, "home-loan"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Load(ctx, "home-loan"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after Delete: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "home-loan"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: expected ErrNotFound, got %v", err)
	}

	if err := s.Save(ctx, "bad key!", first); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Save with invalid key: expected ErrInvalidKey, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemoryStoreCopiesSnapshots(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	snapshot := testSnapshot(50000)
	if err := s.Save(ctx, "k", snapshot); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	snapshot.Schedule[0].Payment = -1
	snapshot.Config.ModificationPeriods[0].Amount = -1

	loaded, err := s.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Schedule[0].Payment == -1 || loaded.Config.ModificationPeriods[0].Amount == -1 {
		t.Error("stored snapshot shares memory with the caller")
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshots.db")
	s, err := NewSQLiteStore(context.Background(), zap.NewNop(), path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshots.db")

	s, err := NewSQLiteStore(ctx, nil, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s.Save(ctx, "persisted", testSnapshot(99000)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(ctx, nil, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, "persisted")
	if err != nil {
		t.Fatalf("Load after reopen failed: %v", err)
	}
	if loaded.Config.Principal != 99000 {
		t.Errorf("expected principal 99000, got %v", loaded.Config.Principal)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, nil, Config{})
	if err != nil {
		t.Fatalf("New with default backend failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}

	s, err = New(ctx, zap.NewNop(), Config{Backend: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "a.db")})
	if err != nil {
		t.Fatalf("New with sqlite backend failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore, got %T", s)
	}

	if _, err := New(ctx, nil, Config{Backend: "etcd"}); err == nil || !strings.Contains(err.Error(), "unsupported storage backend") {
		t.Errorf("expected unsupported backend error, got %v", err)
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := New(ctx, nil, Config{Backend: "redis", RedisAddr: "127.0.0.1:1"}); err == nil {
		t.Error("expected an error connecting to an unreachable redis")
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"mortgage", true},
		{"car-loan_2025.v2", true},
		{"ABC123", true},
		{"", false},
		{"has space", false},
		{"slash/key", false},
		{"colon:key", false},
		{"ünïcode", false},
		{strings.Repeat("a", 128), true},
		{strings.Repeat("a", 129), false},
	}

	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if tt.valid && err != nil {
			t.Errorf("ValidateKey(%q) unexpected error: %v", tt.key, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q) expected ErrInvalidKey, got %v", tt.key, err)
		}
	}
}

func TestRedisKey(t *testing.T) {
	if got := redisKey("mortgage"); got != "amortize:snapshot:mortgage" {
		t.Errorf("redisKey = %q", got)
	}
}
