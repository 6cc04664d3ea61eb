// Package audience evaluates saved CEL audience filters over classified customers.
package audience

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrNotLoaded is returned when an audience is not loaded in the engine.
var ErrNotLoaded = errors.New("audience not loaded")

// Engine holds compiled audience programs.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*compiledAudience
	maxWorkers int
}

type compiledAudience struct {
	audience *domain.Audience
	program  cel.Program
}

// NewEngine creates an audience engine. maxWorkers bounds concurrent
// evaluation in Members.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := cel.NewEnv(
		cel.Variable("r", cel.IntType),
		cel.Variable("f", cel.IntType),
		cel.Variable("m", cel.IntType),
		cel.Variable("recency_days", cel.IntType),
		cel.Variable("frequency", cel.IntType),
		cel.Variable("monetary", cel.DoubleType),
		cel.Variable("average_order_value", cel.DoubleType),
		cel.Variable("segment", cel.StringType),
		cel.Variable("company", cel.StringType),
		cel.Variable("email", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		compiled:   make(map[string]*compiledAudience),
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles an expression without loading it.
func (e *Engine) Validate(expression string) error {
	_, err := e.compile(expression)
	return err
}

// Load compiles an audience and makes it available to Members.
// Disabled audiences are unloaded.
func (e *Engine) Load(a *domain.Audience) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("audience id is required")
	}

	if !a.Enabled {
		e.Unload(a.ID)
		return nil
	}

	program, err := e.compile(a.Expression)
	if err != nil {
		return fmt.Errorf("audience %s: %w", a.ID, err)
	}

	e.mu.Lock()
	e.compiled[a.ID] = &compiledAudience{audience: a, program: program}
	e.mu.Unlock()

	return nil
}

// Unload removes an audience from the engine.
func (e *Engine) Unload(id string) {
	e.mu.Lock()
	delete(e.compiled, id)
	e.mu.Unlock()
}

// Reload replaces every loaded audience. On a compile error nothing changes.
func (e *Engine) Reload(audiences []*domain.Audience) error {
	next := make(map[string]*compiledAudience, len(audiences))

	for _, a := range audiences {
		if !a.Enabled {
			continue
		}
		program, err := e.compile(a.Expression)
		if err != nil {
			return fmt.Errorf("audience %s: %w", a.ID, err)
		}
		next[a.ID] = &compiledAudience{audience: a, program: program}
	}

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()

	return nil
}

// Loaded returns the loaded audiences ordered by name.
func (e *Engine) Loaded() []*domain.Audience {
	e.mu.RLock()
	out := make([]*domain.Audience, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, c.audience)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of loaded audiences.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Members returns the customers matching the audience, in input order.
func (e *Engine) Members(ctx context.Context, id string, customers []domain.ClassifiedCustomer) ([]domain.ClassifiedCustomer, error) {
	e.mu.RLock()
	c, ok := e.compiled[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}

	matched := make([]bool, len(customers))
	errs := make([]error, len(customers))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i := range customers {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			matched[idx], errs[idx] = evaluate(c.program, &customers[idx])
		}(i)
	}
	wg.Wait()

	members := []domain.ClassifiedCustomer{}
	for i, ok := range matched {
		if errs[i] != nil {
			return nil, fmt.Errorf("audience %s: customer %s: %w", id, customers[i].CustomerID, errs[i])
		}
		if ok {
			members = append(members, customers[i])
		}
	}

	return members, nil
}

func (e *Engine) compile(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression is required")
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

func evaluate(program cel.Program, c *domain.ClassifiedCustomer) (bool, error) {
	out, _, err := program.Eval(activation(c))
	if err != nil {
		return false, err
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression returned %s", out.Type())
	}
	return bool(b), nil
}

func activation(c *domain.ClassifiedCustomer) map[string]any {
	return map[string]any{
		"r":                   int64(c.Score.R),
		"f":                   int64(c.Score.F),
		"m":                   int64(c.Score.M),
		"recency_days":        int64(c.RecencyDays),
		"frequency":           int64(c.TotalOrders),
		"monetary":            c.MonetaryValue,
		"average_order_value": c.AverageOrderValue,
		"segment":             string(c.Segment),
		"company":             c.Company,
		"email":               c.CustomerEmail,
	}
}
