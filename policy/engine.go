// Package policy implements the ordered rule engine that validates every
// decision before execution. Rules are tagged value records with a validator
// closure; registration order is part of the contract. Counter side-effects
// are deferred and applied only when the whole decision passes, so rejected
// decisions never consume quota.
package policy

import (
	"context"
	"fmt"

	"github.com/aegis-labs/aegis/core"
	"github.com/aegis-labs/aegis/log"
)

// Severity classifies a rule failure.
type Severity string

// Rule severities. ERROR failures reject the decision; WARN failures are
// advisory.
const (
	SeverityError Severity = "ERROR"
	SeverityWarn  Severity = "WARN"
)

// RuleResult is the outcome of one rule evaluation. OnPass is an optional
// deferred side-effect (counter append) run only if the overall validation
// passes.
type RuleResult struct {
	Passed   bool
	Message  string
	Severity Severity
	OnPass   func(ctx context.Context)
}

// Rule is one named policy check.
type Rule struct {
	Name        string
	Description string
	Severity    Severity
	Validate    func(ctx context.Context, d *core.Decision, cfg *core.AgentConfig) RuleResult
}

// Result aggregates a full validation run. Errors and Warnings carry
// "[rule-name] message" strings.
type Result struct {
	Passed       bool
	Errors       []string
	Warnings     []string
	AppliedRules []string
}

// Engine evaluates rules in declaration order.
type Engine struct {
	rules  []Rule
	logger *log.Logger
}

// NewEngine creates an Engine over the given ordered rule set.
func NewEngine(rules []Rule) *Engine {
	return &Engine{
		rules:  rules,
		logger: log.Default().Module("policy"),
	}
}

// Validate runs every rule against the decision. Any ERROR failure fails
// the overall result. Deferred side-effects fire only on an overall pass.
func (e *Engine) Validate(ctx context.Context, d *core.Decision, cfg *core.AgentConfig) *Result {
	res := &Result{Passed: true}
	var deferred []func(ctx context.Context)

	for _, rule := range e.rules {
		rr := rule.Validate(ctx, d, cfg)
		res.AppliedRules = append(res.AppliedRules, rule.Name)

		sev := rr.Severity
		if sev == "" {
			sev = rule.Severity
		}

		if rr.Passed {
			if rr.OnPass != nil {
				deferred = append(deferred, rr.OnPass)
			}
			continue
		}

		line := fmt.Sprintf("[%s] %s", rule.Name, rr.Message)
		switch sev {
		case SeverityWarn:
			res.Warnings = append(res.Warnings, line)
		default:
			res.Errors = append(res.Errors, line)
			res.Passed = false
		}
	}

	if res.Passed {
		for _, fn := range deferred {
			fn(ctx)
		}
	} else {
		e.logger.Info("decision rejected", "action", string(d.Action), "errors", res.Errors)
	}
	return res
}
