package asset

import (
	"fmt"
	"sort"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/devblok/koruasset/assetref"
)

// Prioritizer orders the queued transfers before they are dispatched to
// providers. Prioritize reorders queued in place and must keep the
// relative order of transfers it considers equal. It's only ever handed
// transfers in the Queued state.
type Prioritizer interface {
	Prioritize(queued []*Transfer)
}

// TypePriority dispatches transfers by asset type, higher values first.
// Types missing from the map have priority 0.
type TypePriority map[string]int

// Prioritize implements interface
func (p TypePriority) Prioritize(queued []*Transfer) {
	sort.SliceStable(queued, func(i, j int) bool {
		return p[queued[i].assetType] > p[queued[j].assetType]
	})
}

// ExprPrioritizer computes the priority of each transfer with an expr
// expression, higher values first. The expression sees the variables
// ref, type, filename, extension, storage and seq, e.g.
//
//	type == "Texture" ? 10 : (extension == ".dae" ? 5 : 0)
//
// Expressions must evaluate to a number or a boolean.
type ExprPrioritizer struct {
	expression string
	program    *exprvm.Program
}

// NewExprPrioritizer compiles expression.
func NewExprPrioritizer(expression string) (*ExprPrioritizer, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, fmt.Errorf("priority expression must not be empty")
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(priorityEnv(nil)),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile priority expression: %w", err)
	}
	return &ExprPrioritizer{expression: expression, program: program}, nil
}

// Priority evaluates the expression for t. Evaluation errors give 0.
func (p *ExprPrioritizer) Priority(t *Transfer) float64 {
	result, err := exprlang.Run(p.program, priorityEnv(t))
	if err != nil {
		return 0
	}
	switch v := result.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

// Prioritize implements interface
func (p *ExprPrioritizer) Prioritize(queued []*Transfer) {
	priorities := make(map[*Transfer]float64, len(queued))
	for _, t := range queued {
		priorities[t] = p.Priority(t)
	}
	sort.SliceStable(queued, func(i, j int) bool {
		return priorities[queued[i]] > priorities[queued[j]]
	})
}

func priorityEnv(t *Transfer) map[string]any {
	env := map[string]any{
		"ref":       "",
		"type":      "",
		"filename":  "",
		"extension": "",
		"storage":   "",
		"seq":       0,
	}
	if t == nil {
		return env
	}
	env["ref"] = t.ref
	env["type"] = t.assetType
	env["filename"] = assetref.ExtractFilename(t.ref)
	env["extension"] = assetref.Extension(t.ref)
	if t.storage != nil {
		env["storage"] = t.storage.Name
	}
	env["seq"] = int(t.seq)
	return env
}
