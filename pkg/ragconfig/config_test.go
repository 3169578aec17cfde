package ragconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultWeightsSumToOne(t *testing.T) {
	cfg := Default()

	for name, w := range map[string]SignalWeights{
		"conceptual": cfg.Retrieval.Weights.Conceptual,
		"specific":   cfg.Retrieval.Weights.Specific,
	} {
		if sum := w.Vector + w.Lexical; sum != 1.0 {
			t.Fatalf("%s weights sum to %v, want 1.0", name, sum)
		}
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mailrag.yaml")
	yaml := `
retrieval:
  final_budget: 5
  rrf:
    k: 30
spam:
  penalty: 0.5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Retrieval.FinalBudget != 5 {
		t.Fatalf("final_budget = %d, want 5", cfg.Retrieval.FinalBudget)
	}
	if cfg.Retrieval.RRF.K != 30 {
		t.Fatalf("rrf.k = %d, want 30", cfg.Retrieval.RRF.K)
	}
	if cfg.Spam.Penalty != 0.5 {
		t.Fatalf("spam.penalty = %v, want 0.5", cfg.Spam.Penalty)
	}
	// Untouched values keep their defaults
	if cfg.Retrieval.MaxPerThread != 1 {
		t.Fatalf("max_per_thread = %d, want default 1", cfg.Retrieval.MaxPerThread)
	}
	if len(cfg.Spam.SenderPatterns) == 0 {
		t.Fatal("sender patterns should keep defaults")
	}
}

func TestLoadFromDirWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "mailrag.yaml"), []byte("retrieval:\n  final_budget: 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromDir(nested)
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.Retrieval.FinalBudget != 3 {
		t.Fatalf("final_budget = %d, want 3", cfg.Retrieval.FinalBudget)
	}
}

func TestHashChangesWithConfig(t *testing.T) {
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Fatal("identical configs should hash identically")
	}

	b.Retrieval.RRF.K = 10
	if a.Hash() == b.Hash() {
		t.Fatal("different configs should hash differently")
	}
}
