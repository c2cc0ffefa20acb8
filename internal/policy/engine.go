package policy

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// rawRule is the YAML-shaped rule before validation.
type rawRule struct {
	Name     string             `yaml:"name"`
	Priority int                `yaml:"priority"`
	Scope    string             `yaml:"scope"`
	When     map[string]float64 `yaml:"when"`
	Then     rawThen            `yaml:"then"`
}

type rawThen struct {
	AllowTrade       *bool    `yaml:"allowTrade"`
	SizeMultiplier   *float64 `yaml:"sizeMultiplier"`
	TpNatrMultiplier *float64 `yaml:"tpNatrMultiplier"`
	SlNatrMultiplier *float64 `yaml:"slNatrMultiplier"`

	Unknown map[string]interface{} `yaml:",inline"`
}

type rawFile struct {
	Rules []rawRule `yaml:"rules"`
}

// Engine holds a validated, priority-sorted rule set.
type Engine struct {
	rules  []Rule
	logger *log.Logger
}

// Load reads and validates rules from path. An invalid or missing file
// yields an empty rule set with a warning; this never returns an error,
// matching the "policy misconfiguration" taxonomy entry (log, empty set,
// continue).
func Load(path string, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{logger: logger}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Printf("⚠️ policy: failed to read %s: %v", path, err)
		}
		return e
	}

	var file rawFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		logger.Printf("⚠️ policy: failed to parse %s: %v", path, err)
		return e
	}

	var rules []Rule
	for _, rr := range file.Rules {
		rule, err := validate(rr)
		if err != nil {
			logger.Printf("⚠️ policy: rejecting rule %q: %v", rr.Name, err)
			continue
		}
		rules = append(rules, rule)
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	e.rules = rules
	return e
}

func validate(rr rawRule) (Rule, error) {
	if strings.TrimSpace(rr.Name) == "" {
		return Rule{}, fmt.Errorf("missing name")
	}
	scope := Scope(rr.Scope)
	if !validScopes[scope] {
		return Rule{}, fmt.Errorf("unrecognized scope %q", rr.Scope)
	}
	if len(rr.When) == 0 {
		return Rule{}, fmt.Errorf("empty when clause")
	}
	for k := range rr.When {
		if !recognizedConditions[k] {
			return Rule{}, fmt.Errorf("unrecognized condition key %q", k)
		}
	}
	for k := range rr.Then.Unknown {
		if !recognizedActions[k] {
			return Rule{}, fmt.Errorf("unrecognized action key %q", k)
		}
	}
	then := Then{
		AllowTrade:       rr.Then.AllowTrade,
		SizeMultiplier:   rr.Then.SizeMultiplier,
		TpNatrMultiplier: rr.Then.TpNatrMultiplier,
		SlNatrMultiplier: rr.Then.SlNatrMultiplier,
	}
	if then.AllowTrade == nil && then.SizeMultiplier == nil && then.TpNatrMultiplier == nil && then.SlNatrMultiplier == nil {
		return Rule{}, fmt.Errorf("empty then clause")
	}
	return Rule{
		Name:     rr.Name,
		Priority: rr.Priority,
		Scope:    scope,
		When:     rr.When,
		Then:     then,
	}, nil
}

func matches(rule Rule, f Features) bool {
	for k, threshold := range rule.When {
		val, ok := f.value(k)
		if !ok {
			return false
		}
		switch {
		case strings.HasSuffix(k, "Gte"):
			if val < threshold {
				return false
			}
		case strings.HasSuffix(k, "Lte"):
			if val > threshold {
				return false
			}
		case strings.HasSuffix(k, "Eq"):
			if val != threshold {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Evaluate runs every rule in the given scope, in ascending priority
// order, composing sizeMultiplier/tpNatrMultiplier/slNatrMultiplier
// cumulatively and overwriting allowTrade. Evaluation stops as soon as a
// matching rule sets allowTrade=false.
func (e *Engine) Evaluate(scope Scope, f Features) Decision {
	decision := Decision{
		AllowTrade:       true,
		SizeMultiplier:   1,
		TpNatrMultiplier: 1,
		SlNatrMultiplier: 1,
	}
	var matched []string

	for _, rule := range e.rules {
		if rule.Scope != scope {
			continue
		}
		if !matches(rule, f) {
			continue
		}
		matched = append(matched, rule.Name)
		if rule.Then.SizeMultiplier != nil {
			decision.SizeMultiplier *= *rule.Then.SizeMultiplier
		}
		if rule.Then.TpNatrMultiplier != nil {
			decision.TpNatrMultiplier *= *rule.Then.TpNatrMultiplier
		}
		if rule.Then.SlNatrMultiplier != nil {
			decision.SlNatrMultiplier *= *rule.Then.SlNatrMultiplier
		}
		if rule.Then.AllowTrade != nil {
			decision.AllowTrade = *rule.Then.AllowTrade
			if !decision.AllowTrade {
				decision.Reason = rule.Name
				return decision
			}
		}
	}

	if len(matched) > 0 {
		decision.Reason = strings.Join(matched, ",")
	} else {
		decision.Reason = "default"
	}
	return decision
}
