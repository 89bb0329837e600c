package tarpit

import (
	"strings"
	"testing"
)

func testModel(t *testing.T) *Model {
	t.Helper()
	mf := modelFile{
		Version: "test",
		Tokens:  []string{"lorem", "ipsum", "dolor", "sit", "amet", "consectetur"},
		Chains: []chainEntry{
			{P: [2]int32{0, 1}, Next: []int32{2, 3}, Freq: []uint32{3, 1}},
			{P: [2]int32{1, 2}, Next: []int32{3}, Freq: []uint32{1}},
			{P: [2]int32{1, 3}, Next: []int32{4}, Freq: []uint32{1}},
			{P: [2]int32{2, 3}, Next: []int32{4, 5}, Freq: []uint32{2, 2}},
			{P: [2]int32{3, 4}, Next: []int32{0, 5}, Freq: []uint32{1, 1}},
			{P: [2]int32{4, 0}, Next: []int32{1}, Freq: []uint32{1}},
			{P: [2]int32{4, 5}, Next: []int32{0}, Freq: []uint32{1}},
			{P: [2]int32{5, 0}, Next: []int32{1}, Freq: []uint32{1}},
		},
	}
	m, err := buildModel(mf, "test")
	if err != nil {
		t.Fatalf("buildModel: %v", err)
	}
	return m
}

func TestSessionDeterministic(t *testing.T) {
	m := testModel(t)

	a := NewSession(m, 42).Paragraph(60)
	b := NewSession(m, 42).Paragraph(60)
	if a != b {
		t.Errorf("same seed must produce identical text:\n%s\nvs\n%s", a, b)
	}
	if a == "" {
		t.Fatal("paragraph came back empty")
	}
	if !strings.HasSuffix(a, ".") {
		t.Errorf("paragraph should end with a terminated sentence: %q", a)
	}
}

func TestSentenceTinyMaxWords(t *testing.T) {
	m := testModel(t)
	for _, max := range []int{0, 1, 3, 4, 5} {
		sent := NewSession(m, 7).Sentence(max)
		if sent == "" {
			t.Fatalf("Sentence(%d) came back empty", max)
		}
		limit := max
		if limit < 3 {
			limit = 3
		}
		if n := len(strings.Fields(sent)); n > limit {
			t.Errorf("Sentence(%d) produced %d words, cap is %d", max, n, limit)
		}
	}
}

func TestSessionSeedsDiffer(t *testing.T) {
	m := testModel(t)
	a := NewSession(m, 1).Paragraph(100)
	b := NewSession(m, 2).Paragraph(100)
	if a == b {
		t.Error("different seeds produced identical paragraphs")
	}
}

func TestSessionSurvivesDeadEnds(t *testing.T) {
	// A chain whose walks constantly fall off the index: the session must
	// restart rather than stall.
	mf := modelFile{
		Version: "deadend",
		Tokens:  []string{"alpha", "beta", "gamma"},
		Chains: []chainEntry{
			{P: [2]int32{0, 1}, Next: []int32{2}, Freq: []uint32{1}}, // (1,2) is a dead end
		},
	}
	m, err := buildModel(mf, "deadend")
	if err != nil {
		t.Fatal(err)
	}
	words := NewSession(m, 7).Words(50)
	if len(words) != 50 {
		t.Errorf("got %d words, want 50 via restarts", len(words))
	}
}

func TestPathSeed(t *testing.T) {
	if PathSeed("seed", "/page/a") != PathSeed("seed", "/page/a") {
		t.Error("seed derivation must be stable")
	}
	if PathSeed("seed", "/page/a") == PathSeed("seed", "/page/b") {
		t.Error("different paths should derive different seeds")
	}
	if PathSeed("seed", "/page/a") == PathSeed("other", "/page/a") {
		t.Error("different deployment seeds should derive different seeds")
	}
	if PathSeed("seed", "/page/a") < 0 {
		t.Error("seed must be non-negative")
	}
}

func TestBuildModelValidation(t *testing.T) {
	tokens := []string{"a", "b"}
	tests := []struct {
		name   string
		chains []chainEntry
	}{
		{"empty", nil},
		{"length mismatch", []chainEntry{{P: [2]int32{0, 1}, Next: []int32{0, 1}, Freq: []uint32{1}}}},
		{"successor out of range", []chainEntry{{P: [2]int32{0, 1}, Next: []int32{9}, Freq: []uint32{1}}}},
		{"context out of range", []chainEntry{{P: [2]int32{0, 9}, Next: []int32{0}, Freq: []uint32{1}}}},
		{"zero frequency", []chainEntry{{P: [2]int32{0, 1}, Next: []int32{0}, Freq: []uint32{0}}}},
		{"duplicate context", []chainEntry{
			{P: [2]int32{0, 1}, Next: []int32{0}, Freq: []uint32{1}},
			{P: [2]int32{0, 1}, Next: []int32{1}, Freq: []uint32{1}},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := buildModel(modelFile{Version: "v", Tokens: tokens, Chains: tc.chains}, "test"); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
