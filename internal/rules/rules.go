// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rules evaluates operator-defined provider preference rules during
// provider selection. Conditions are expr expressions over the request
// context; the first matching rule supplies a preferred provider order that
// is applied ahead of the registry's default ordering.
package rules

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"
)

// Context is the expression environment a rule condition sees.
type Context struct {
	// Command is the normalized command path.
	Command string
	// Subject is the authenticated caller subject.
	Subject string
	// Hour is the server-local hour of day, 0-23.
	Hour int
}

// Rule is one declarative preference rule from configuration.
type Rule struct {
	// Name identifies the rule in logs.
	Name string `yaml:"name"`
	// Condition is an expr expression over Context, e.g.
	// `Command startsWith "/equity" && Hour >= 9`.
	Condition string `yaml:"condition"`
	// Prefer is the provider order applied when the condition matches.
	Prefer []string `yaml:"prefer"`
}

type compiledRule struct {
	rule    Rule
	program *vm.Program
}

// Engine holds the compiled rule set. Compilation happens once at load;
// evaluation is read-only and safe for concurrent use.
type Engine struct {
	rules []compiledRule
}

// NewEngine compiles the rule set. A rule that fails to compile is a
// configuration error and aborts startup.
func NewEngine(rules []Rule) (*Engine, error) {
	e := &Engine{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		program, err := expr.Compile(r.Condition, expr.Env(Context{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("rules: rule %q: %w", r.Name, err)
		}
		e.rules = append(e.rules, compiledRule{rule: r, program: program})
	}
	return e, nil
}

// Preferred returns the provider order from the first matching rule, or nil
// when no rule matches. Evaluation errors disable the rule for that request
// rather than failing the dispatch.
func (e *Engine) Preferred(ctx Context) []string {
	if e == nil {
		return nil
	}
	for _, cr := range e.rules {
		out, err := expr.Run(cr.program, ctx)
		if err != nil {
			log.WithFields(log.Fields{"rule": cr.rule.Name, "command": ctx.Command}).
				Warnf("rule evaluation failed: %v", err)
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return cr.rule.Prefer
		}
	}
	return nil
}

// Len returns the number of compiled rules.
func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}
