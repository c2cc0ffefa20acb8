// Package policy loads an ordered rule set from a YAML file and evaluates
// it against a feature set to produce a PolicyDecision, generalizing the
// weighted-condition-to-decision shape of signal_filter.go's SignalFilter
// into a declarative, strictly-validated rule grammar.
package policy

// Scope is where in the trading lifecycle a rule applies.
type Scope string

const (
	ScopeNewEntry           Scope = "new_entry"
	ScopeOpenPosition       Scope = "open_position"
	ScopeNewEntryBreakdown  Scope = "new_entry_breakdown"
)

var validScopes = map[Scope]bool{
	ScopeNewEntry:          true,
	ScopeOpenPosition:      true,
	ScopeNewEntryBreakdown: true,
}

// recognizedConditions is the closed vocabulary of feature keys a rule's
// `when` clause may reference. Kept strict per spec's "Policy
// extensibility" design note: unknown keys fail loudly at load time.
var recognizedConditions = map[string]bool{
	"shock30mNatrGte":          true,
	"shock30mNatrLte":          true,
	"shock60mNatrGte":          true,
	"shock60mNatrLte":          true,
	"anchorTradeCountGte":      true,
	"anchorTradeCountLte":      true,
	"anchorWinCountGte":        true,
	"anchorWinCountLte":        true,
	"anchorLastTradeAgoMinGte": true,
	"anchorLastTradeAgoMinLte": true,
	"timeInAnchorZoneMinGte":   true,
	"timeInAnchorZoneMinLte":   true,
	"tpHitsCountEq":            true,
}

// recognizedActions is the closed vocabulary of `then` keys.
var recognizedActions = map[string]bool{
	"allowTrade":       true,
	"sizeMultiplier":   true,
	"tpNatrMultiplier": true,
	"slNatrMultiplier": true,
}

// Rule is one validated (when, then) pair.
type Rule struct {
	Name     string
	Priority int
	Scope    Scope
	When     map[string]float64
	Then     Then
}

// Then is the set of actions a matching rule applies.
type Then struct {
	AllowTrade       *bool
	SizeMultiplier   *float64
	TpNatrMultiplier *float64
	SlNatrMultiplier *float64
}

// Features is the evaluated feature vector a rule's `when` clause is
// compared against.
type Features struct {
	Shock30mNatr          float64
	Shock60mNatr          float64
	TimeInAnchorZoneMin   float64
	TimeSinceEntryMin     float64
	AnchorTradeCount      float64
	AnchorWinCount        float64
	AnchorLastTradeAgoMin float64
	TpHitsCount           float64
}

func (f Features) value(key string) (float64, bool) {
	switch key {
	case "shock30mNatrGte", "shock30mNatrLte":
		return f.Shock30mNatr, true
	case "shock60mNatrGte", "shock60mNatrLte":
		return f.Shock60mNatr, true
	case "anchorTradeCountGte", "anchorTradeCountLte":
		return f.AnchorTradeCount, true
	case "anchorWinCountGte", "anchorWinCountLte":
		return f.AnchorWinCount, true
	case "anchorLastTradeAgoMinGte", "anchorLastTradeAgoMinLte":
		return f.AnchorLastTradeAgoMin, true
	case "timeInAnchorZoneMinGte", "timeInAnchorZoneMinLte":
		return f.TimeInAnchorZoneMin, true
	case "tpHitsCountEq":
		return f.TpHitsCount, true
	}
	return 0, false
}

// Decision is the outcome of evaluating a rule set against a feature
// vector.
type Decision struct {
	AllowTrade       bool
	SizeMultiplier   float64
	TpNatrMultiplier float64
	SlNatrMultiplier float64
	Reason           string
}
