package repository

import (
	"context"
	"testing"
	"time"

	"github.com/dkoval/leadpilot/internal/domain"
)

func TestFlagSetClear(t *testing.T) {
	db := newTestDB(t)
	repo := NewFlagsRepository(db)
	ctx := context.Background()

	active, err := repo.InEffect(ctx, domain.FlagGlobalPause)
	if err != nil {
		t.Fatalf("in-effect failed: %v", err)
	}
	if active {
		t.Error("unset flag should not be in effect")
	}

	if err := repo.Set(ctx, domain.FlagGlobalPause, nil, "manual pause", ""); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	active, err = repo.InEffect(ctx, domain.FlagGlobalPause)
	if err != nil {
		t.Fatalf("in-effect failed: %v", err)
	}
	if !active {
		t.Error("flag without timer should stay in effect until cleared")
	}

	if err := repo.Clear(ctx, domain.FlagGlobalPause); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	active, err = repo.InEffect(ctx, domain.FlagGlobalPause)
	if err != nil {
		t.Fatalf("in-effect failed: %v", err)
	}
	if active {
		t.Error("cleared flag must not be in effect")
	}
}

func TestFlagTimerAutoClears(t *testing.T) {
	db := newTestDB(t)
	repo := NewFlagsRepository(db)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	if err := repo.Set(ctx, domain.FlagQuarantine, &past, "challenge", "acct1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	active, err := repo.InEffect(ctx, domain.FlagQuarantine)
	if err != nil {
		t.Fatalf("in-effect failed: %v", err)
	}
	if active {
		t.Error("flag with elapsed timer must not be in effect")
	}

	// The elapsed timer must also be persisted as cleared.
	flag, err := repo.Get(ctx, domain.FlagQuarantine)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if flag.Active {
		t.Error("elapsed flag should be cleared in storage, not just reported inactive")
	}
}

func TestFlagSetOverwrites(t *testing.T) {
	db := newTestDB(t)
	repo := NewFlagsRepository(db)
	ctx := context.Background()

	until := time.Now().UTC().Add(time.Hour)
	if err := repo.Set(ctx, domain.FlagGlobalPause, &until, "first", "acct1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	later := time.Now().UTC().Add(2 * time.Hour)
	if err := repo.Set(ctx, domain.FlagGlobalPause, &later, "second", "acct2"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	flag, err := repo.Get(ctx, domain.FlagGlobalPause)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if flag.Reason != "second" {
		t.Errorf("reason = %q, want %q", flag.Reason, "second")
	}
	if flag.AccountID != "acct2" {
		t.Errorf("account = %q, want %q", flag.AccountID, "acct2")
	}
}
