package synthesis

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/google/cel-go/cel"

	"github.com/nextlevelbuilder/recall/internal/session"
	"github.com/nextlevelbuilder/recall/internal/store"
)

// RuleDef is a user-defined suggestion rule as it appears in config:
// when the CEL condition evaluates true against the merged context, the
// suggestion is appended after the built-ins.
type RuleDef struct {
	Name    string `json:"name"`
	When    string `json:"when"`
	Suggest string `json:"suggest"`
}

// Rule is a compiled suggestion rule.
type Rule struct {
	Name    string
	Suggest string
	prg     cel.Program
}

// ruleEnv declares the variables rule expressions may reference.
func ruleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("spawned", cel.IntType),
		cel.Variable("completed", cel.IntType),
		cel.Variable("errored", cel.IntType),
		cel.Variable("uncommitted", cel.BoolType),
		cel.Variable("uncommitted_files", cel.IntType),
		cel.Variable("branch", cel.StringType),
		cel.Variable("specs", cel.ListType(cel.StringType)),
		cel.Variable("preferences", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("topics", cel.ListType(cel.StringType)),
	)
}

// CompileRules compiles rule definitions, rejecting any whose condition
// does not type-check to bool.
func CompileRules(defs []RuleDef) ([]Rule, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	env, err := ruleEnv()
	if err != nil {
		return nil, fmt.Errorf("build rule env: %w", err)
	}

	rules := make([]Rule, 0, len(defs))
	for _, def := range defs {
		if def.When == "" || def.Suggest == "" {
			return nil, fmt.Errorf("rule %q: when and suggest are required", def.Name)
		}
		ast, iss := env.Compile(def.When)
		if iss.Err() != nil {
			return nil, fmt.Errorf("rule %q: %w", def.Name, iss.Err())
		}
		if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
			return nil, fmt.Errorf("rule %q: condition must evaluate to bool, got %v", def.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", def.Name, err)
		}
		rules = append(rules, Rule{Name: def.Name, Suggest: def.Suggest, prg: prg})
	}
	return rules, nil
}

// evalRules runs the compiled rules in order. A rule that fails to
// evaluate is skipped; rule errors never break the merge.
func evalRules(rules []Rule, state session.State, counts ActivityCounts, prefs []store.PreferenceRecord, knowledge []store.SemanticKnowledge) []string {
	if len(rules) == 0 {
		return nil
	}

	prefMap := make(map[string]string, len(prefs))
	for _, p := range prefs {
		prefMap[p.Key] = p.Value
	}
	topics := make([]string, 0, len(knowledge))
	for _, k := range knowledge {
		topics = append(topics, k.Topic)
	}
	specs := state.SpecsInProgress
	if specs == nil {
		specs = []string{}
	}

	activation := map[string]any{
		"spawned":           counts.Spawned,
		"completed":         counts.Completed,
		"errored":           counts.Errored,
		"uncommitted":       state.UncommittedChanges,
		"uncommitted_files": len(state.UncommittedFiles),
		"branch":            state.CurrentBranch,
		"specs":             specs,
		"preferences":       prefMap,
		"topics":            topics,
	}

	var out []string
	for _, r := range rules {
		val, _, err := r.prg.Eval(activation)
		if err != nil {
			slog.Debug("synthesis: rule evaluation failed", "rule", r.Name, "error", err)
			continue
		}
		if hit, ok := val.Value().(bool); ok && hit {
			out = append(out, r.Suggest)
		}
	}
	return out
}
