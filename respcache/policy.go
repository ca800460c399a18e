package respcache

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/hrygo/switchboard/agent"
)

// DefaultPolicyExpr is the built-in cacheability predicate. Personalized and
// time-sensitive queries are never cached, nor are trivially short ones.
const DefaultPolicyExpr = `!personalized && !time_sensitive && size(message) >= 8`

// Policy decides whether a query's response may be cached. The predicate is
// a compiled CEL expression over {message, agent, personalized,
// time_sensitive}, so deployments can tighten it without code changes.
type Policy struct {
	program cel.Program
}

// NewPolicy compiles a cacheability expression. An empty expression uses the
// built-in default.
func NewPolicy(expr string) (*Policy, error) {
	if strings.TrimSpace(expr) == "" {
		expr = DefaultPolicyExpr
	}

	env, err := cel.NewEnv(
		cel.Variable("message", cel.StringType),
		cel.Variable("agent", cel.StringType),
		cel.Variable("personalized", cel.BoolType),
		cel.Variable("time_sensitive", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("cacheability env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cacheability expression: %w", issues.Err())
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, fmt.Errorf("cacheability expression must be boolean, got %v", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cacheability program: %w", err)
	}
	return &Policy{program: program}, nil
}

// MustPolicy compiles an expression and panics on error. For the built-in
// default only; free-form expressions go through NewPolicy.
func MustPolicy(expr string) *Policy {
	p, err := NewPolicy(expr)
	if err != nil {
		panic("respcache: " + err.Error())
	}
	return p
}

// Cacheable evaluates the predicate. Evaluation errors mean not cacheable.
func (p *Policy) Cacheable(message string, ag agent.ID, personalized, timeSensitive bool) bool {
	out, _, err := p.program.Eval(map[string]any{
		"message":        message,
		"agent":          string(ag),
		"personalized":   personalized,
		"time_sensitive": timeSensitive,
	})
	if err != nil {
		return false
	}
	ok, isBool := out.Value().(bool)
	return isBool && ok
}

// personalMarkers flag queries about the caller's own data or context.
var personalMarkers = []string{
	" my ", " me ", " mine ", " i ", " i'm ", " i am ", "remind me", "for me",
}

// temporalMarkers flag queries whose answer shifts with the clock.
var temporalMarkers = []string{
	"now", "today", "tonight", "tomorrow", "current", "currently",
	"right now", "this week", "at the moment", "latest",
}

// timeSensitiveAgents answer from live data; their responses go stale fast
// regardless of phrasing.
var timeSensitiveAgents = map[agent.ID]bool{
	agent.Weather: true,
	agent.Finance: true,
}

// Traits derives the personalized/time_sensitive inputs for the predicate
// from the query text and target agent.
func Traits(message string, ag agent.ID) (personalized, timeSensitive bool) {
	lowered := " " + strings.ToLower(message) + " "
	for _, m := range personalMarkers {
		if strings.Contains(lowered, m) {
			personalized = true
			break
		}
	}
	if timeSensitiveAgents[ag] {
		timeSensitive = true
	} else {
		for _, m := range temporalMarkers {
			if strings.Contains(lowered, m) {
				timeSensitive = true
				break
			}
		}
	}
	return personalized, timeSensitive
}
