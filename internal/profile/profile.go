// Package profile bundles the locator chains and extraction schemas for one
// site, with optional overrides loaded from YAML.
package profile

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/quill/internal/extract"
	"github.com/xkilldash9x/quill/internal/inject"
	"github.com/xkilldash9x/quill/internal/locator"
	"github.com/xkilldash9x/quill/internal/session"
)

// Profile is every selector the pipeline needs for one site.
type Profile struct {
	Name    string
	Session session.Chains

	SearchItems  locator.Chain
	SearchResult extract.Schema
	HotItems     locator.Chain
	HotItem      extract.Schema
	Question     extract.Schema
	Article      extract.Schema

	Inject inject.Chains
}

// Validate checks every chain and schema.
func (p *Profile) Validate() error {
	if err := p.Session.Validate(); err != nil {
		return err
	}
	if err := p.Inject.Validate(); err != nil {
		return err
	}
	for _, c := range []locator.Chain{p.SearchItems, p.HotItems} {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for name, s := range map[string]extract.Schema{
		"search_result": p.SearchResult,
		"hot_item":      p.HotItem,
		"question":      p.Question,
		"article":       p.Article,
	} {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("schema %s: %w", name, err)
		}
	}
	return nil
}

// Override is the YAML shape of a profile override file.
//
//	chains:
//	  session.indicator:
//	    replace:
//	      - selector: ".Avatar"
//	  inject.publish:
//	    append:
//	      - selector: "button"
//	        text: ["Publish"]
//	patterns:
//	  search_result.followers: '(\d+) followers'
type Override struct {
	Chains   map[string]ChainOverride `yaml:"chains"`
	Patterns map[string]string        `yaml:"patterns"`
}

// ChainOverride replaces a chain's strategies or appends fallbacks to it.
type ChainOverride struct {
	Replace []locator.Strategy `yaml:"replace"`
	Append  []locator.Strategy `yaml:"append"`
}

// Load returns the built-in profile with the overrides at path applied. An
// empty path returns the built-in profile unchanged.
func Load(fs afero.Fs, path string) (Profile, error) {
	p := Zhihu()
	if path == "" {
		return p, nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	var o Override
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if err := p.Apply(o); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Apply merges o into the profile. Unknown keys are rejected so typos do not
// silently fall back to the built-in selectors.
func (p *Profile) Apply(o Override) error {
	chains := p.chainIndex()
	for _, key := range sortedKeys(o.Chains) {
		target, ok := chains[key]
		if !ok {
			return fmt.Errorf("unknown chain %q", key)
		}
		ov := o.Chains[key]
		if len(ov.Replace) > 0 {
			*target = locator.NewChain(target.Name, prioritized(ov.Replace)...)
		}
		if len(ov.Append) > 0 {
			*target = target.Then(ov.Append...)
		}
	}

	patterns := p.counterIndex()
	for _, key := range sortedKeys(o.Patterns) {
		target, ok := patterns[key]
		if !ok {
			return fmt.Errorf("unknown counter %q", key)
		}
		re, err := regexp.Compile(o.Patterns[key])
		if err != nil {
			return fmt.Errorf("counter %q: %w", key, err)
		}
		target.Pattern = re
	}
	return nil
}

// ChainNames lists every overridable chain key.
func (p *Profile) ChainNames() []string {
	return sortedKeys(p.chainIndex())
}

func (p *Profile) chainIndex() map[string]*locator.Chain {
	idx := map[string]*locator.Chain{
		"session.indicator":   &p.Session.Indicator,
		"session.mode_toggle": &p.Session.ModeToggle,
		"session.username":    &p.Session.Username,
		"session.password":    &p.Session.Password,
		"session.submit":      &p.Session.Submit,
		"session.challenge":   &p.Session.Challenge,
		"search.items":        &p.SearchItems,
		"hot.items":           &p.HotItems,
		"inject.open_editor":  &p.Inject.OpenEditor,
		"inject.editor":       &p.Inject.Editor,
		"inject.fallback":     &p.Inject.Fallback,
		"inject.publish":      &p.Inject.Publish,
	}
	for prefix, s := range p.schemas() {
		fields := map[string]*extract.FieldSpec{
			"title": &s.Title, "url": &s.URL, "author": &s.Author,
			"timestamp": &s.Timestamp, "media": &s.Media, "tags": &s.Tags,
		}
		for name, f := range fields {
			idx[prefix+"."+name] = &f.Chain
		}
		idx[prefix+".body"] = &s.Body.Scope
		idx[prefix+".blocks"] = &s.Body.Blocks
		for i := range s.Counters {
			idx[prefix+".counters."+s.Counters[i].Name] = &s.Counters[i].Chain
		}
	}
	return idx
}

func (p *Profile) counterIndex() map[string]*extract.CounterSpec {
	idx := make(map[string]*extract.CounterSpec)
	for prefix, s := range p.schemas() {
		for i := range s.Counters {
			idx[prefix+"."+s.Counters[i].Name] = &s.Counters[i]
		}
	}
	return idx
}

func (p *Profile) schemas() map[string]*extract.Schema {
	return map[string]*extract.Schema{
		"search_result": &p.SearchResult,
		"hot_item":      &p.HotItem,
		"question":      &p.Question,
		"article":       &p.Article,
	}
}

// prioritized keeps explicit priorities and ranks the rest by position.
func prioritized(strategies []locator.Strategy) []locator.Strategy {
	out := make([]locator.Strategy, len(strategies))
	for i, s := range strategies {
		if s.Priority == 0 {
			s.Priority = len(strategies) - i
		}
		out[i] = s
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
