// Package policy decides whether an evidence-producing action must
// succeed (mandatory: failure rolls back the parent operation) or may
// fail silently (best-effort: failure is logged and the operation
// proceeds). The rule table is fixed at deploy time; changing it is a
// policy change, not a runtime mutation.
package policy

import (
	"log/slog"
	"sync"
)

// Class is the evidence classification of an action.
type Class string

const (
	ClassMandatory  Class = "mandatory"
	ClassBestEffort Class = "best-effort"
)

// Rule maps one action name to a classification, with a human-readable
// rationale and an optional CEL predicate restricting when it applies.
type Rule struct {
	Action    string `yaml:"action" json:"action"`
	Class     Class  `yaml:"class" json:"class"`
	Rationale string `yaml:"rationale" json:"rationale"`
	When      string `yaml:"when,omitempty" json:"when,omitempty"`
}

// Policy is a pure, synchronous classification table. Zero value is not
// usable; construct via Default or Load.
type Policy struct {
	rules                map[string]Rule
	mandatoryTransitions map[string]struct{}
	failClosed           bool
	production           bool
	logger               *slog.Logger

	mu       sync.Mutex
	programs map[string]celProgram
}

// Option configures a Policy.
type Option func(*Policy)

// WithProduction suppresses configuration-gap warnings for unmatched
// actions. Outside production every unmatched action is logged once.
func WithProduction(prod bool) Option {
	return func(p *Policy) { p.production = prod }
}

// WithFailClosed makes unmatched actions classify as mandatory instead
// of the permissive best-effort default.
func WithFailClosed(fc bool) Option {
	return func(p *Policy) { p.failClosed = fc }
}

// WithLogger overrides the configuration-gap logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// New builds a Policy from explicit rules and a mandatory-transition set.
func New(rules []Rule, mandatoryTransitions []string, opts ...Option) *Policy {
	p := &Policy{
		rules:                make(map[string]Rule, len(rules)),
		mandatoryTransitions: make(map[string]struct{}, len(mandatoryTransitions)),
		logger:               slog.Default().With("component", "policy"),
		programs:             make(map[string]celProgram),
	}
	for _, r := range rules {
		p.rules[r.Action] = r
	}
	for _, t := range mandatoryTransitions {
		p.mandatoryTransitions[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Default returns the compiled-in rule set covering the terminal
// actions, used when no policy document is deployed.
func Default(opts ...Option) *Policy {
	return New([]Rule{
		{Action: "session.sealed", Class: ClassMandatory, Rationale: "sealing is irreversible; its evidence must exist"},
		{Action: "result.finalized", Class: ClassMandatory, Rationale: "finalized results are regulator-visible"},
		{Action: "export.generated", Class: ClassMandatory, Rationale: "exports leave the trust boundary"},
		{Action: "session.created", Class: ClassBestEffort, Rationale: "creation is reversible and re-auditable"},
	}, []string{"sealed", "finalized", "exported"}, opts...)
}

// Classify returns the classification of an action name. Total: every
// well-formed input yields exactly one class, never an error. Unmatched
// actions fall back to the configured default and, outside production,
// are flagged as a configuration gap.
func (p *Policy) Classify(action string) Class {
	return p.ClassifyContext(action, nil)
}

// ClassifyContext classifies an action with request attributes made
// available to rule predicates as `attrs`.
func (p *Policy) ClassifyContext(action string, attrs map[string]any) Class {
	rule, ok := p.rules[action]
	if !ok {
		return p.unmatched(action)
	}
	if rule.When != "" {
		applies, err := p.evalPredicate(rule, attrs)
		if err != nil {
			// A broken predicate must not weaken a mandatory rule.
			p.logger.Error("rule predicate failed; applying rule unconditionally",
				"action", action, "error", err)
			return rule.Class
		}
		if !applies {
			return p.unmatched(action)
		}
	}
	return rule.Class
}

// ClassifyTransition classifies a target-state transition: membership
// in the mandatory-transition set wins, everything else is best-effort.
func (p *Policy) ClassifyTransition(toState string) Class {
	if _, ok := p.mandatoryTransitions[toState]; ok {
		return ClassMandatory
	}
	return ClassBestEffort
}

// Rationale returns the recorded rationale for an action rule, or "".
func (p *Policy) Rationale(action string) string {
	return p.rules[action].Rationale
}

func (p *Policy) unmatched(action string) Class {
	if !p.production {
		p.logger.Warn("no classification rule for action; configuration gap",
			"action", action, "default", p.defaultClass())
	}
	return p.defaultClass()
}

func (p *Policy) defaultClass() Class {
	if p.failClosed {
		return ClassMandatory
	}
	return ClassBestEffort
}
