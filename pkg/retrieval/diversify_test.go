package retrieval

import "testing"

func scoredFixture(id, thread string, score float64) ScoredPassage {
	return ScoredPassage{
		Passage: Passage{PassageID: id, ThreadID: thread},
		Score:   score,
	}
}

func TestDiversifyOnePerThread(t *testing.T) {
	scored := []ScoredPassage{
		scoredFixture("p1", "T1", 0.9),
		scoredFixture("p2", "T1", 0.8),
		scoredFixture("p3", "T1", 0.7),
		scoredFixture("p4", "T2", 0.6),
		scoredFixture("p5", "T3", 0.5),
	}

	got := Diversify(scored, 1, 10)

	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	wantIDs := []string{"p1", "p4", "p5"}
	for i, want := range wantIDs {
		if got[i].PassageID != want {
			t.Fatalf("position %d = %s, want %s", i, got[i].PassageID, want)
		}
	}
}

func TestDiversifyHigherThreadCap(t *testing.T) {
	scored := []ScoredPassage{
		scoredFixture("p1", "T1", 0.9),
		scoredFixture("p2", "T1", 0.8),
		scoredFixture("p3", "T1", 0.7),
		scoredFixture("p4", "T2", 0.6),
	}

	got := Diversify(scored, 2, 10)

	wantIDs := []string{"p1", "p2", "p4"}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d results, want %d", len(got), len(wantIDs))
	}
	for i, want := range wantIDs {
		if got[i].PassageID != want {
			t.Fatalf("position %d = %s, want %s", i, got[i].PassageID, want)
		}
	}
}

func TestDiversifyBudgetStopsWalk(t *testing.T) {
	scored := []ScoredPassage{
		scoredFixture("p1", "T1", 0.9),
		scoredFixture("p2", "T2", 0.8),
		scoredFixture("p3", "T3", 0.7),
		scoredFixture("p4", "T4", 0.6),
	}

	got := Diversify(scored, 1, 2)

	if len(got) != 2 {
		t.Fatalf("got %d results, want budget 2", len(got))
	}
	if got[0].PassageID != "p1" || got[1].PassageID != "p2" {
		t.Fatalf("unexpected results %s, %s", got[0].PassageID, got[1].PassageID)
	}
}

func TestDiversifyEmptyInput(t *testing.T) {
	got := Diversify(nil, 1, 10)
	if len(got) != 0 {
		t.Fatalf("got %d results from empty input", len(got))
	}
}

func TestDiversifyZeroCapDefaultsToOne(t *testing.T) {
	scored := []ScoredPassage{
		scoredFixture("p1", "T1", 0.9),
		scoredFixture("p2", "T1", 0.8),
	}

	got := Diversify(scored, 0, 10)

	if len(got) != 1 || got[0].PassageID != "p1" {
		t.Fatalf("zero cap should behave as one per thread, got %d results", len(got))
	}
}
