package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, yamlBody string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	return path
}

func TestEvaluateScenarioEPolicyVeto(t *testing.T) {
	path := writeRules(t, `
rules:
  - name: veto-repeat-winner
    priority: 1
    scope: new_entry
    when:
      anchorWinCountGte: 5
    then:
      allowTrade: false
`)
	e := Load(path, nil)
	d := e.Evaluate(ScopeNewEntry, Features{AnchorWinCount: 5})
	assert.False(t, d.AllowTrade)
	assert.Equal(t, "veto-repeat-winner", d.Reason)
}

func TestEvaluateComposesMultipliersCumulatively(t *testing.T) {
	path := writeRules(t, `
rules:
  - name: shock-dampener
    priority: 1
    scope: new_entry
    when:
      shock30mNatrGte: 1.0
    then:
      sizeMultiplier: 0.5
  - name: anchor-history-dampener
    priority: 2
    scope: new_entry
    when:
      anchorTradeCountGte: 1
    then:
      sizeMultiplier: 0.5
`)
	e := Load(path, nil)
	d := e.Evaluate(ScopeNewEntry, Features{Shock30mNatr: 2.0, AnchorTradeCount: 3})
	assert.True(t, d.AllowTrade)
	assert.InDelta(t, 0.25, d.SizeMultiplier, 1e-9)
	assert.Equal(t, "shock-dampener,anchor-history-dampener", d.Reason)
}

func TestEvaluateNoMatchReturnsDefault(t *testing.T) {
	path := writeRules(t, `
rules:
  - name: unreachable
    priority: 1
    scope: new_entry
    when:
      anchorWinCountGte: 99
    then:
      allowTrade: false
`)
	e := Load(path, nil)
	d := e.Evaluate(ScopeNewEntry, Features{AnchorWinCount: 0})
	assert.True(t, d.AllowTrade)
	assert.Equal(t, "default", d.Reason)
}

func TestLoadRejectsUnknownConditionKey(t *testing.T) {
	path := writeRules(t, `
rules:
  - name: bad-rule
    priority: 1
    scope: new_entry
    when:
      totallyUnknownKey: 1
    then:
      allowTrade: false
`)
	e := Load(path, nil)
	d := e.Evaluate(ScopeNewEntry, Features{})
	assert.True(t, d.AllowTrade)
	assert.Equal(t, "default", d.Reason)
}

func TestLoadMissingFileYieldsEmptyRuleSet(t *testing.T) {
	e := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	d := e.Evaluate(ScopeNewEntry, Features{})
	assert.True(t, d.AllowTrade)
	assert.Equal(t, "default", d.Reason)
}

func TestLoadMalformedYamlYieldsEmptyRuleSet(t *testing.T) {
	path := writeRules(t, "not: [valid: yaml")
	e := Load(path, nil)
	d := e.Evaluate(ScopeNewEntry, Features{})
	assert.True(t, d.AllowTrade)
}

func TestEvaluateStopsAtFirstVeto(t *testing.T) {
	path := writeRules(t, `
rules:
  - name: veto
    priority: 1
    scope: new_entry
    when:
      anchorTradeCountGte: 1
    then:
      allowTrade: false
  - name: would-boost
    priority: 2
    scope: new_entry
    when:
      anchorTradeCountGte: 1
    then:
      sizeMultiplier: 2.0
`)
	e := Load(path, nil)
	d := e.Evaluate(ScopeNewEntry, Features{AnchorTradeCount: 1})
	assert.False(t, d.AllowTrade)
	assert.Equal(t, "veto", d.Reason)
	assert.Equal(t, 1.0, d.SizeMultiplier)
}
