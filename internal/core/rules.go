package core

import (
	"context"
	"fmt"
	"sort"
	"workspacestore/pkg/domain"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// NewDefaultRulesEngine builds a rules engine with the given rules registered
// in order.
func NewDefaultRulesEngine(rules ...domain.Rule) *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	for _, rule := range rules {
		engine.Register(rule)
	}
	return engine
}

// ExprRule evaluates a boolean expression over the fields of every created
// or updated entity of one type. A false result is reported as a violation.
type ExprRule struct {
	name       string
	entity     domain.EntityType
	expression string
	severity   domain.Severity
	message    string
	program    *vm.Program
}

// NewExprRule compiles expression. Field names are exposed as variables;
// fields that are unset evaluate to nil.
func NewExprRule(name string, entity domain.EntityType, expression string, severity domain.Severity, message string) (*ExprRule, error) {
	program, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile rule %s: %w", name, err)
	}
	if severity == "" {
		severity = domain.SeverityBlock
	}
	return &ExprRule{
		name:       name,
		entity:     entity,
		expression: expression,
		severity:   severity,
		message:    message,
		program:    program,
	}, nil
}

func (r *ExprRule) Name() string { return r.name }

// Expression returns the source expression.
func (r *ExprRule) Expression() string { return r.expression }

func (r *ExprRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != r.entity || change.Action == domain.ActionDelete {
			continue
		}
		data, ok := view.EntityData(change.ID)
		if !ok {
			continue
		}
		out, err := expr.Run(r.program, data.Fields())
		if err != nil {
			return domain.Result{}, fmt.Errorf("evaluate %s on %s: %w", r.expression, change.ID, err)
		}
		if passed, _ := out.(bool); passed {
			continue
		}
		msg := r.message
		if msg == "" {
			msg = fmt.Sprintf("%s does not satisfy %q", change.ID, r.expression)
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.name,
			Severity: r.severity,
			Message:  msg,
			Entity:   r.entity,
			EntityID: change.ID,
		})
	}
	return res, nil
}

// NewUniqueFieldRule blocks commits that leave two entities of type t with
// the same value in field.
func NewUniqueFieldRule(t domain.EntityType, field string) domain.Rule {
	return uniqueFieldRule{entity: t, field: field}
}

type uniqueFieldRule struct {
	entity domain.EntityType
	field  string
}

func (r uniqueFieldRule) Name() string { return "unique_" + string(r.entity) + "_" + r.field }

func (r uniqueFieldRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	owners := make(map[string]domain.EntityID)
	res := domain.Result{}
	for _, data := range view.Entities(r.entity) {
		v, ok := data.Fields()[r.field]
		if !ok {
			continue
		}
		key := fmt.Sprint(v)
		if first, dup := owners[key]; dup {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s %s=%q duplicates %s", data.ID(), r.field, key, first),
				Entity:   r.entity,
				EntityID: data.ID(),
			})
			continue
		}
		owners[key] = data.ID()
	}
	return res, nil
}

// NewChildLimitRule blocks commits where a parent holds more than limit
// children on conn.
func NewChildLimitRule(conn domain.ConnectionID, limit int) domain.Rule {
	return childLimitRule{conn: conn, limit: limit}
}

type childLimitRule struct {
	conn  domain.ConnectionID
	limit int
}

func (r childLimitRule) Name() string { return "child_limit_" + string(r.conn.Parent) + "_" + string(r.conn.Child) }

func (r childLimitRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	parents := view.Entities(r.conn.Parent)
	sort.Slice(parents, func(i, j int) bool { return parents[i].ID().Seq < parents[j].ID().Seq })
	for _, parent := range parents {
		count := len(view.Children(parent.ID(), r.conn))
		if count > r.limit {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s over capacity on %s: %d/%d children", parent.ID(), r.conn, count, r.limit),
				Entity:   r.conn.Parent,
				EntityID: parent.ID(),
			})
		}
	}
	return res, nil
}
