package authz

import (
	"context"
	"errors"
	"fmt"
)

// Policy decision sentinel errors. Rules return them, possibly wrapped, and
// callers test them with errors.Is.
var (
	// Allow terminates evaluation with an allow decision.
	Allow = errors.New("forge/authz: allow rule")

	// Deny terminates evaluation with a deny decision.
	Deny = errors.New("forge/authz: deny rule")

	// Skip continues evaluation with the next rule.
	Skip = errors.New("forge/authz: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Request is what a rule decides on.
type Request struct {
	// Operation is the name of the operation being executed.
	Operation string
	// Input is the operation input.
	Input any
	// Metadata is the operation's metadata.
	Metadata map[string]string
}

// Rule decides whether a request may proceed.
type Rule interface {
	Eval(ctx context.Context, req *Request) error
}

// RuleFunc adapts an ordinary function to a Rule.
type RuleFunc func(context.Context, *Request) error

// Eval returns f(ctx, req).
func (f RuleFunc) Eval(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

// AlwaysAllowRule returns a rule that always allows.
func AlwaysAllowRule() Rule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always denies.
func AlwaysDenyRule() Rule {
	return fixedDecision{Deny}
}

// ContextRule creates a rule from a function of the context alone. A nil
// result is equivalent to Skip.
func ContextRule(eval func(context.Context) error) Rule {
	return RuleFunc(func(ctx context.Context, _ *Request) error {
		return eval(ctx)
	})
}

// OnOperation evaluates rule only for the named operations and skips the
// rest.
func OnOperation(rule Rule, names ...string) Rule {
	return RuleFunc(func(ctx context.Context, req *Request) error {
		for _, n := range names {
			if n == req.Operation {
				return rule.Eval(ctx, req)
			}
		}
		return Skip
	})
}

// Policy is an ordered rule chain.
type Policy []Rule

// Eval evaluates the rules in order. An Allow decision is returned as nil,
// and a decision stored in ctx with DecisionContext overrides the rules.
func (p Policy) Eval(ctx context.Context, req *Request) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, rule := range p {
		switch decision := rule.Eval(ctx, req); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// Policies combines several policies. Evaluation stops at the first policy
// that allows or denies.
type Policies []Policy

// Eval evaluates each policy in turn.
func (ps Policies) Eval(ctx context.Context, req *Request) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, p := range ps {
		for _, rule := range p {
			switch decision := rule.Eval(ctx, req); {
			case decision == nil || errors.Is(decision, Skip):
				continue
			case errors.Is(decision, Allow):
				return nil
			default:
				return decision
			}
		}
	}
	return nil
}

type decisionCtxKey struct{}

// DecisionContext returns a context carrying a decision that short-cuts
// every policy evaluated with it. Skip and nil leave parent unchanged.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the decision stored by DecisionContext. An
// Allow decision is reported as nil.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) Eval(context.Context, *Request) error {
	return f.decision
}
