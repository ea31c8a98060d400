package classify

import (
	"strings"

	"github.com/NeoRed-domo/qualys2human/internal/db"
)

// Rule is one classification rule in evaluation order. Pattern is matched as
// a case-insensitive substring of the subject selected by Field.
type Rule struct {
	ID      int64
	LayerID int64
	Field   string
	Pattern string
}

// FromDB converts persisted rules, already ordered by priority, into the
// classifier's rule form.
func FromDB(rules []db.LayerRule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, Rule{
			ID:      r.ID,
			LayerID: r.LayerID,
			Field:   r.MatchField,
			Pattern: r.Pattern,
		})
	}
	return out
}

// Classify walks the rules in their given order and returns the layer of the
// first rule whose pattern is contained in its subject. The second return is
// false when nothing matches. Pure function; the importer applies it per row
// and the reclassification job realizes the same semantics in bulk.
func Classify(title, category string, rules []Rule) (int64, bool) {
	titleLower := strings.ToLower(title)
	categoryLower := strings.ToLower(category)

	for _, rule := range rules {
		subject := titleLower
		if rule.Field == db.MatchCategory {
			subject = categoryLower
		}
		if strings.Contains(subject, strings.ToLower(rule.Pattern)) {
			return rule.LayerID, true
		}
	}
	return 0, false
}
