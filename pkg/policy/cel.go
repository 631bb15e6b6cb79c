package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

type celProgram = cel.Program

// evalPredicate compiles (once, cached) and evaluates a rule's CEL
// predicate against the request attributes.
func (p *Policy) evalPredicate(rule Rule, attrs map[string]any) (bool, error) {
	prg, err := p.program(rule)
	if err != nil {
		return false, err
	}

	if attrs == nil {
		attrs = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"action": rule.Action,
		"attrs":  attrs,
	})
	if err != nil {
		return false, fmt.Errorf("policy: evaluate %q: %w", rule.When, err)
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: predicate %q did not yield a bool", rule.When)
	}
	return b, nil
}

func (p *Policy) program(rule Rule) (celProgram, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prg, ok := p.programs[rule.Action]; ok {
		return prg, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("attrs", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel environment: %w", err)
	}

	ast, issues := env.Compile(rule.When)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile %q: %w", rule.When, issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: program %q: %w", rule.When, err)
	}
	p.programs[rule.Action] = prg
	return prg, nil
}
