package config

import (
	"strings"
	"testing"
)

const sampleConfig = `
tournament:
  name: summer-open
  seed: 42
  version: "1.0"
  format: bracket

compute_caps:
  max_output_tokens: 512
  timeout_s: 20

models:
  zeta:
    provider: mock
    strategy: always_fold
  alpha:
    provider: anthropic
    model_id: claude-sonnet-4.5
    api_key_env: ANTHROPIC_API_KEY
    max_output_tokens: 1024
  mid:
    provider: openrouter
    model_id: deepseek/deepseek-r1
    api_key_env: OPENROUTER_API_KEY
    timeout_s: 60
  omega:
    provider: mock
    strategy: aggressive

events:
  heads-up:
    weight: 3
    hands_per_match: 50
  liars-dice:
    weight: 1
    multiplayer: true
    rounds: 2

shot_clock:
  default_ms: 45000
  model_overrides:
    mid: 90000

forfeit_escalation:
  strike_violations: [timeout]
`

func TestParsePreservesDeclarationOrder(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []string{"zeta", "alpha", "mid", "omega"}
	got := cfg.ModelNames()
	if len(got) != len(want) {
		t.Fatalf("got %d models, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("model[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if cfg.Events[0].Name != "heads-up" || cfg.Events[1].Name != "liars-dice" {
		t.Errorf("event order = %q, %q", cfg.Events[0].Name, cfg.Events[1].Name)
	}
}

func TestParseAppliesCapDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	zeta, _ := cfg.ModelByName("zeta")
	if zeta.MaxOutputTokens != 512 {
		t.Errorf("zeta max_output_tokens = %d, want cap default 512", zeta.MaxOutputTokens)
	}
	if zeta.TimeoutS != 20 {
		t.Errorf("zeta timeout_s = %v, want cap default 20", zeta.TimeoutS)
	}

	alpha, _ := cfg.ModelByName("alpha")
	if alpha.MaxOutputTokens != 1024 {
		t.Errorf("alpha max_output_tokens = %d, want override 1024", alpha.MaxOutputTokens)
	}

	mid, _ := cfg.ModelByName("mid")
	if mid.TimeoutS != 60 {
		t.Errorf("mid timeout_s = %v, want override 60", mid.TimeoutS)
	}
}

func TestParseEscalationDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	fe := cfg.ForfeitEscalation
	if fe == nil {
		t.Fatal("expected forfeit_escalation section")
	}
	if fe.TurnForfeitThreshold != 2 {
		t.Errorf("turn_forfeit_threshold = %d, want default 2", fe.TurnForfeitThreshold)
	}
	if fe.MatchForfeitThreshold != 3 {
		t.Errorf("match_forfeit_threshold = %d, want default 3", fe.MatchForfeitThreshold)
	}
	if len(fe.StrikeViolations) != 1 || fe.StrikeViolations[0] != "timeout" {
		t.Errorf("strike_violations = %v, want [timeout]", fe.StrikeViolations)
	}
}

func TestShotClockLimitFor(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if got := cfg.ShotClock.LimitFor("zeta").Milliseconds(); got != 45000 {
		t.Errorf("LimitFor(zeta) = %dms, want 45000", got)
	}
	if got := cfg.ShotClock.LimitFor("mid").Milliseconds(); got != 90000 {
		t.Errorf("LimitFor(mid) = %dms, want 90000", got)
	}
}

func TestParseRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "bad format",
			mutate:  func(s string) string { return strings.Replace(s, "format: bracket", "format: ladder", 1) },
			wantErr: "tournament",
		},
		{
			name:    "unknown provider",
			mutate:  func(s string) string { return strings.Replace(s, "provider: anthropic", "provider: cohere", 1) },
			wantErr: "alpha",
		},
		{
			name:    "mock without strategy",
			mutate:  func(s string) string { return strings.Replace(s, "strategy: always_fold", "", 1) },
			wantErr: "strategy",
		},
		{
			name:    "missing model_id",
			mutate:  func(s string) string { return strings.Replace(s, "model_id: claude-sonnet-4.5", "", 1) },
			wantErr: "model_id",
		},
		{
			name:    "zero weight",
			mutate:  func(s string) string { return strings.Replace(s, "weight: 3", "weight: 0", 1) },
			wantErr: "heads-up",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mutate(sampleConfig)))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseEmptySections(t *testing.T) {
	_, err := Parse([]byte("tournament:\n  name: x\n  version: \"1\"\n  format: league\n"))
	if err == nil {
		t.Fatal("expected error for missing models")
	}
}
