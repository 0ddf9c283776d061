package projects

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cryptofarm/cryptofarm/internal/domain"
)

// File is the on-disk projects configuration: tracked projects grouped by
// priority tier, the per-category action policy, the blacklist, and the
// source trust weights.
type File struct {
	HighPriority   []domain.Project                       `yaml:"high_priority"`
	MediumPriority []domain.Project                       `yaml:"medium_priority"`
	Blacklist      []string                               `yaml:"blacklist"`
	ActionPolicy   map[domain.Category][]domain.ActionType `yaml:"action_policy"`
	SourceWeights  map[domain.SourceTier]float64          `yaml:"source_weights"`
}

// Registry is the read-only project lookup consumed by the ingestor,
// planner and scorer.
type Registry struct {
	byID          map[string]*domain.Project
	blacklist     map[string]bool
	actionPolicy  map[domain.Category][]domain.ActionType
	sourceWeights map[domain.SourceTier]float64
}

// Load reads and validates a projects YAML file.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read projects config %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse projects config %s: %w", path, err)
	}
	return NewRegistry(f)
}

// NewRegistry validates the configuration and builds the lookup tables.
// Any inconsistency is a ConfigError and fatal at startup.
func NewRegistry(f File) (*Registry, error) {
	r := &Registry{
		byID:         make(map[string]*domain.Project),
		blacklist:    make(map[string]bool),
		actionPolicy: f.ActionPolicy,
	}

	add := func(tier domain.Tier, list []domain.Project) error {
		for i := range list {
			p := list[i]
			if p.ID == "" {
				return &domain.ConfigError{Field: "projects", Reason: fmt.Sprintf("project %q has no id", p.Name)}
			}
			if _, dup := r.byID[p.ID]; dup {
				return &domain.ConfigError{Field: "projects", Reason: fmt.Sprintf("duplicate project id %q", p.ID)}
			}
			p.Tier = tier
			r.byID[p.ID] = &p
		}
		return nil
	}
	if err := add(domain.TierProjectHigh, f.HighPriority); err != nil {
		return nil, err
	}
	if err := add(domain.TierProjectMedium, f.MediumPriority); err != nil {
		return nil, err
	}

	if len(r.actionPolicy) == 0 {
		return nil, &domain.ConfigError{Field: "action_policy", Reason: "must map at least one category to actions"}
	}
	for cat, actions := range r.actionPolicy {
		if len(actions) == 0 {
			return nil, &domain.ConfigError{Field: "action_policy." + string(cat), Reason: "must list at least one action"}
		}
		for _, a := range actions {
			switch a {
			case domain.ActionSocialPost, domain.ActionTransaction, domain.ActionNodeAction:
			default:
				return nil, &domain.ConfigError{Field: "action_policy." + string(cat), Reason: fmt.Sprintf("unknown action %q", a)}
			}
		}
	}

	// Partial maps overlay the defaults, so a file that only tunes one tier
	// never zeroes out the others.
	weights := DefaultSourceWeights()
	for tier, w := range f.SourceWeights {
		if w <= 0 || w > 1 {
			return nil, &domain.ConfigError{Field: "source_weights." + string(tier), Reason: "must be in (0, 1]"}
		}
		weights[tier] = w
	}
	r.sourceWeights = weights

	for _, id := range f.Blacklist {
		r.blacklist[id] = true
	}
	return r, nil
}

// DefaultSourceWeights returns the stock channel trust weights.
func DefaultSourceWeights() map[domain.SourceTier]float64 {
	return map[domain.SourceTier]float64{
		domain.SourceOfficial:  1.0,
		domain.SourcePartner:   0.8,
		domain.SourceCommunity: 0.6,
		domain.SourceGeneral:   0.4,
	}
}

// Get returns a tracked project by id.
func (r *Registry) Get(id string) (*domain.Project, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Tier returns the priority tier of a project, defaulting to medium for
// projects that are tracked but missing from the registry snapshot.
func (r *Registry) Tier(id string) domain.Tier {
	if p, ok := r.byID[id]; ok {
		return p.Tier
	}
	return domain.TierProjectMedium
}

// Blacklisted reports whether a project must never produce opportunities
// or tasks.
func (r *Registry) Blacklisted(id string) bool {
	return r.blacklist[id]
}

// Actions resolves the automation actions applicable to a category per the
// policy table. An empty slice means the category is observe-only.
func (r *Registry) Actions(category domain.Category) []domain.ActionType {
	return r.actionPolicy[category]
}

// SourceWeight returns the trust weight of a source tier, defaulting to
// the general-channel weight for unknown tiers.
func (r *Registry) SourceWeight(tier domain.SourceTier) float64 {
	if w, ok := r.sourceWeights[tier]; ok {
		return w
	}
	return r.sourceWeights[domain.SourceGeneral]
}

// All returns every tracked project.
func (r *Registry) All() []*domain.Project {
	out := make([]*domain.Project, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	return out
}
