package service

import (
	"context"
	"testing"
	"time"

	"github.com/dkoval/leadpilot/internal/config"
	"github.com/dkoval/leadpilot/internal/domain"
	"github.com/dkoval/leadpilot/internal/repository"
	"gorm.io/gorm"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		PendingInviteRatioMax:   0.8,
		ErrorRate24hMax:         0.5,
		ActionFailureRateMax:    0.5,
		DailyInviteHardCap:      40,
		ThrottleScore:           0.4,
		PauseScore:              0.65,
		QuarantineScore:         0.85,
		ConsecutiveFailureLimit: 5,
		CircuitPauseDuration:    2 * time.Hour,
		QuarantineDuration:      24 * time.Hour,
		PolicyPauseDuration:     8 * time.Hour,
		ScorePauseDuration:      4 * time.Hour,
	}
}

func newRiskEngine(db *gorm.DB) *RiskEngine {
	return NewRiskEngine(
		testRiskConfig(),
		repository.NewStatsRepository(db),
		repository.NewJobRepository(db),
		repository.NewLeadRepository(db),
		repository.NewFlagsRepository(db),
		quietLogger(),
	)
}

func TestScoreZeroInputs(t *testing.T) {
	engine := newRiskEngine(newTestDB(t))
	if got := engine.Score(RiskInputs{}); got != 0 {
		t.Errorf("Score(zero) = %v, want 0", got)
	}
}

func TestScoreWeightsSignals(t *testing.T) {
	engine := newRiskEngine(newTestDB(t))
	tests := []struct {
		name string
		in   RiskInputs
		want float64
	}{
		{"pending ratio at max", RiskInputs{PendingInviteRatio: 0.8}, 0.25},
		{"error rate at half max", RiskInputs{ErrorRate24h: 0.25}, 0.125},
		{"velocity at cap", RiskInputs{InviteVelocity: 1.0}, 0.30},
		{"velocity over cap clamps", RiskInputs{InviteVelocity: 3.0}, 0.30},
		{"one challenge bumps half", RiskInputs{ChallengesToday: 1}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Score(tt.in)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score(%+v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestActionForScoreThresholds(t *testing.T) {
	engine := newRiskEngine(newTestDB(t))
	tests := []struct {
		score float64
		want  RiskAction
	}{
		{0.0, RiskActionNormal},
		{0.39, RiskActionNormal},
		{0.4, RiskActionThrottle},
		{0.64, RiskActionThrottle},
		{0.65, RiskActionPause},
		{0.85, RiskActionQuarantine},
		{1.5, RiskActionQuarantine},
	}
	for _, tt := range tests {
		if got := engine.actionForScore(tt.score); got != tt.want {
			t.Errorf("actionForScore(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestTriggerQuarantineSetsBothFlags(t *testing.T) {
	db := newTestDB(t)
	engine := newRiskEngine(db)
	flags := repository.NewFlagsRepository(db)
	ctx := context.Background()

	if err := engine.TriggerQuarantine(ctx, "acct-1", "challenge detected"); err != nil {
		t.Fatalf("trigger quarantine failed: %v", err)
	}

	for _, key := range []string{domain.FlagQuarantine, domain.FlagGlobalPause} {
		active, err := flags.InEffect(ctx, key)
		if err != nil {
			t.Fatalf("in effect %s failed: %v", key, err)
		}
		if !active {
			t.Errorf("flag %s should be in effect after quarantine", key)
		}
	}
}

func TestOpenCircuitPausesGlobally(t *testing.T) {
	db := newTestDB(t)
	engine := newRiskEngine(db)
	flags := repository.NewFlagsRepository(db)
	ctx := context.Background()

	if err := engine.OpenCircuit(ctx, "acct-1", "5 consecutive job failures"); err != nil {
		t.Fatalf("open circuit failed: %v", err)
	}

	paused, err := flags.InEffect(ctx, domain.FlagGlobalPause)
	if err != nil {
		t.Fatalf("in effect failed: %v", err)
	}
	if !paused {
		t.Error("global pause should be in effect after circuit open")
	}
	quarantined, err := flags.InEffect(ctx, domain.FlagQuarantine)
	if err != nil {
		t.Fatalf("in effect failed: %v", err)
	}
	if quarantined {
		t.Error("circuit open must not raise quarantine")
	}

	flag, err := flags.Get(ctx, domain.FlagGlobalPause)
	if err != nil {
		t.Fatalf("get flag failed: %v", err)
	}
	if flag.ActiveUntil == nil {
		t.Fatal("circuit pause should carry an expiry")
	}
	if until := time.Until(*flag.ActiveUntil); until < time.Hour || until > 3*time.Hour {
		t.Errorf("circuit pause expiry %v from now, want about 2h", until)
	}
}
