package categorizer

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// RuleProvider supplies the merchant rules for a profile
type RuleProvider interface {
	LoadRules(ctx context.Context, profileID string) ([]model.MerchantRule, error)
}

// rulesFile is the on-disk layout. Rules under "default" apply to every
// profile and are registered ahead of profile-specific ones.
//
//	default:
//	  - name: coffee
//	    pattern: BLUE BOTTLE
//	    payee_name: Blue Bottle Coffee
//	    category_id: cat-coffee
//	    priority: 5
//	profiles:
//	  personal:
//	    - name: rent
//	      pattern: "^RENT\\b"
//	      is_regex: true
//	      payee_name: Landlord
type rulesFile struct {
	Default  []model.MerchantRule            `yaml:"default"`
	Profiles map[string][]model.MerchantRule `yaml:"profiles"`
}

// FileRuleProvider reads rules from a YAML file on every load
type FileRuleProvider struct {
	path string
}

// NewFileRuleProvider creates a provider backed by the YAML file at path
func NewFileRuleProvider(path string) *FileRuleProvider {
	return &FileRuleProvider{path: path}
}

// LoadRules reads the file and returns default rules followed by the profile's
func (p *FileRuleProvider) LoadRules(ctx context.Context, profileID string) ([]model.MerchantRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, model.NewSyncError(model.ErrorConfiguration,
			fmt.Sprintf("failed to read rules file %s", p.path), err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, model.NewSyncError(model.ErrorConfiguration,
			fmt.Sprintf("failed to parse rules file %s", p.path), err)
	}

	rules := make([]model.MerchantRule, 0, len(file.Default)+len(file.Profiles[profileID]))
	rules = append(rules, file.Default...)
	rules = append(rules, file.Profiles[profileID]...)
	return rules, nil
}

// MemoryRuleProvider serves rules held in memory
type MemoryRuleProvider struct {
	mu    sync.RWMutex
	rules map[string][]model.MerchantRule
}

// NewMemoryRuleProvider creates an empty in-memory provider
func NewMemoryRuleProvider() *MemoryRuleProvider {
	return &MemoryRuleProvider{
		rules: make(map[string][]model.MerchantRule),
	}
}

// SetRules replaces the rules of a profile
func (p *MemoryRuleProvider) SetRules(profileID string, rules []model.MerchantRule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules[profileID] = append([]model.MerchantRule(nil), rules...)
}

// LoadRules returns a copy of the profile's rules
func (p *MemoryRuleProvider) LoadRules(ctx context.Context, profileID string) ([]model.MerchantRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]model.MerchantRule(nil), p.rules[profileID]...), nil
}

// LoadRuleSet loads and compiles a profile's rules. A nil provider yields
// an empty rule set.
func LoadRuleSet(ctx context.Context, provider RuleProvider, profileID string) (*RuleSet, error) {
	if provider == nil {
		return Compile(nil)
	}
	rules, err := provider.LoadRules(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return Compile(rules)
}
