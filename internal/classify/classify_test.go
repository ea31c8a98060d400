package classify

import (
	"testing"

	"github.com/NeoRed-domo/qualys2human/internal/db"
)

func TestClassifyFirstMatchWins(t *testing.T) {
	rules := []Rule{
		{ID: 1, LayerID: 10, Field: db.MatchTitle, Pattern: "openssh"},
		{ID: 2, LayerID: 20, Field: db.MatchTitle, Pattern: "ssh"},
	}
	layerID, ok := Classify("OpenSSH Legacy Version", "", rules)
	if !ok || layerID != 10 {
		t.Fatalf("got layer %d ok=%v, want 10", layerID, ok)
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	rules := []Rule{{ID: 1, LayerID: 7, Field: db.MatchTitle, Pattern: "TLS"}}
	layerID, ok := Classify("tls weak cipher suites", "", rules)
	if !ok || layerID != 7 {
		t.Fatalf("got layer %d ok=%v, want 7", layerID, ok)
	}
}

func TestClassifyFieldSelection(t *testing.T) {
	rules := []Rule{{ID: 1, LayerID: 3, Field: db.MatchCategory, Pattern: "encryption"}}

	if _, ok := Classify("Encryption in title only", "Remote Access", rules); ok {
		t.Fatal("category rule matched the title")
	}
	layerID, ok := Classify("Anything", "Encryption", rules)
	if !ok || layerID != 3 {
		t.Fatalf("got layer %d ok=%v, want 3", layerID, ok)
	}
}

func TestClassifyNoMatch(t *testing.T) {
	rules := []Rule{{ID: 1, LayerID: 1, Field: db.MatchTitle, Pattern: "nothing"}}
	if _, ok := Classify("OpenSSH", "Remote Access", rules); ok {
		t.Fatal("unexpected match")
	}
}

func TestClassifyNoRules(t *testing.T) {
	if _, ok := Classify("OpenSSH", "Remote Access", nil); ok {
		t.Fatal("match with no rules")
	}
}

func TestFromDBPreservesOrder(t *testing.T) {
	rules := FromDB([]db.LayerRule{
		{ID: 5, LayerID: 1, MatchField: db.MatchTitle, Pattern: "a", Priority: 9},
		{ID: 6, LayerID: 2, MatchField: db.MatchCategory, Pattern: "b", Priority: 1},
	})
	if len(rules) != 2 || rules[0].ID != 5 || rules[1].Field != db.MatchCategory {
		t.Fatalf("got %+v", rules)
	}
}
