// Package analyzer estimates the cost of a GraphQL operation by walking its
// AST against a type-weight table. The estimate is static: no resolver runs,
// list sizes come from pagination arguments and bound variables.
package analyzer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/graphql-go/graphql/language/ast"

	"github.com/oslabs-beta/graphqlgate/internal/typeweights"
)

var (
	// ErrSchemaMismatch is returned when the query selects a field or type
	// the weight table doesn't know about.
	ErrSchemaMismatch = errors.New("query does not match the weighted schema")

	// ErrInvalidQuery is returned for structurally unusable operations:
	// inline fragments without a type condition, spreads of unknown
	// fragments, unbounded lists when bounding is enforced, or a depth
	// limit violation.
	ErrInvalidQuery = errors.New("invalid graphql query")
)

// Options tunes analysis behavior.
type Options struct {
	// EnforceBoundedLists rejects list fields that carry no size-bounding
	// argument instead of costing them like plain object links.
	EnforceBoundedLists bool

	// DepthLimit rejects operations nested deeper than this before any
	// cost is computed. Zero disables the check.
	DepthLimit int
}

// Analyzer walks parsed operations against an immutable weight table.
// It holds no per-request state and is safe for concurrent use.
type Analyzer struct {
	table typeweights.Table
	opts  Options
}

// New creates an analyzer over the given table.
func New(table typeweights.Table, opts Options) *Analyzer {
	return &Analyzer{table: table, opts: opts}
}

// Cost returns the total cost of the document: fragment definitions are
// costed first and cached, then each operation is costed and summed.
// A fragment definition itself contributes nothing; its cost is charged at
// every spread that references it.
func (a *Analyzer) Cost(doc *ast.Document, variables map[string]interface{}) (int64, error) {
	if doc == nil {
		return 0, fmt.Errorf("%w: empty document", ErrInvalidQuery)
	}

	if a.opts.DepthLimit > 0 {
		depth, err := a.Depth(doc)
		if err != nil {
			return 0, err
		}
		if depth > a.opts.DepthLimit {
			return 0, fmt.Errorf("%w: depth %d exceeds limit %d", ErrInvalidQuery, depth, a.opts.DepthLimit)
		}
	}

	fragmentCosts := make(map[string]int64)

	for _, def := range doc.Definitions {
		frag, ok := def.(*ast.FragmentDefinition)
		if !ok {
			continue
		}
		if frag.TypeCondition == nil || frag.TypeCondition.Name == nil {
			return 0, fmt.Errorf("%w: fragment %s has no type condition", ErrInvalidQuery, fragmentName(frag))
		}

		cost, err := a.selectionSetCost(frag.SelectionSet, strings.ToLower(frag.TypeCondition.Name.Value), variables, fragmentCosts)
		if err != nil {
			return 0, err
		}
		fragmentCosts[fragmentName(frag)] = cost
	}

	var total int64
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}

		cost, err := a.operationCost(op, variables, fragmentCosts)
		if err != nil {
			return 0, err
		}
		total, err = typeweights.CheckedAdd(total, cost)
		if err != nil {
			return 0, err
		}
	}

	return total, nil
}

func (a *Analyzer) operationCost(op *ast.OperationDefinition, variables map[string]interface{}, fragmentCosts map[string]int64) (int64, error) {
	var cost int64
	if row, ok := a.table[op.Operation]; ok {
		cost = row.Weight
	}

	inner, err := a.selectionSetCost(op.SelectionSet, op.Operation, variables, fragmentCosts)
	if err != nil {
		return 0, err
	}
	return typeweights.CheckedAdd(cost, inner)
}

func (a *Analyzer) selectionSetCost(ss *ast.SelectionSet, parent string, variables map[string]interface{}, fragmentCosts map[string]int64) (int64, error) {
	if ss == nil {
		return 0, nil
	}

	var total int64
	for _, sel := range ss.Selections {
		var cost int64
		var err error

		switch s := sel.(type) {
		case *ast.Field:
			cost, err = a.fieldCost(s, parent, variables, fragmentCosts)

		case *ast.InlineFragment:
			if s.TypeCondition == nil || s.TypeCondition.Name == nil {
				return 0, fmt.Errorf("%w: inline fragment on %s has no type condition", ErrInvalidQuery, parent)
			}
			cost, err = a.selectionSetCost(s.SelectionSet, strings.ToLower(s.TypeCondition.Name.Value), variables, fragmentCosts)

		case *ast.FragmentSpread:
			name := ""
			if s.Name != nil {
				name = s.Name.Value
			}
			cached, ok := fragmentCosts[name]
			if !ok {
				return 0, fmt.Errorf("%w: spread of unknown fragment %q", ErrInvalidQuery, name)
			}
			cost = cached

		default:
			return 0, fmt.Errorf("%w: unsupported selection kind %T", ErrInvalidQuery, sel)
		}

		if err != nil {
			return 0, err
		}
		total, err = typeweights.CheckedAdd(total, cost)
		if err != nil {
			return 0, err
		}
	}

	return total, nil
}

// fieldCost applies the three-case field rule: a field whose name is itself
// a table row, a field resolved through its parent's field record, and a
// scalar leaf.
func (a *Analyzer) fieldCost(field *ast.Field, parent string, variables map[string]interface{}, fragmentCosts map[string]int64) (int64, error) {
	if field.Name == nil {
		return 0, fmt.Errorf("%w: unnamed field on %s", ErrInvalidQuery, parent)
	}
	name := field.Name.Value

	// Meta fields (__typename, __schema, __type) exist on every type and
	// never appear in the weight table.
	if strings.HasPrefix(name, "__") {
		return 0, nil
	}

	parentRow, ok := a.table[parent]
	if !ok {
		return 0, fmt.Errorf("%w: unknown parent type %q", ErrSchemaMismatch, parent)
	}
	fieldRec, hasField := parentRow.Fields[name]

	if hasField && fieldRec.List && fieldRec.Fn == nil && a.opts.EnforceBoundedLists {
		return 0, fmt.Errorf("%w: list field %s.%s has no size-bounding argument", ErrInvalidQuery, parent, name)
	}

	// Case 1: the field name is itself a row in the table.
	if row, ok := a.table[strings.ToLower(name)]; ok {
		inner, err := a.selectionSetCost(field.SelectionSet, strings.ToLower(name), variables, fragmentCosts)
		if err != nil {
			return 0, err
		}
		if hasField && fieldRec.Fn != nil && len(field.Arguments) > 0 {
			cost, err := fieldRec.Fn(field.Arguments, variables, inner)
			if err != nil {
				return 0, a.wrapWeightErr(err, parent, name)
			}
			return cost, nil
		}
		return typeweights.CheckedAdd(row.Weight, inner)
	}

	// Case 2: the parent's field record links to another row.
	if hasField && fieldRec.ResolveTo != "" {
		resolved, ok := a.table[fieldRec.ResolveTo]
		if !ok {
			return 0, fmt.Errorf("%w: field %s.%s resolves to unknown type %q", ErrSchemaMismatch, parent, name, fieldRec.ResolveTo)
		}

		inner, err := a.selectionSetCost(field.SelectionSet, fieldRec.ResolveTo, variables, fragmentCosts)
		if err != nil {
			return 0, err
		}
		if fieldRec.Fn != nil {
			cost, err := fieldRec.Fn(field.Arguments, variables, inner)
			if err != nil {
				return 0, a.wrapWeightErr(err, parent, name)
			}
			return cost, nil
		}
		return typeweights.CheckedAdd(resolved.Weight, inner)
	}

	// Case 3: scalar leaf.
	if hasField {
		return fieldRec.Weight, nil
	}

	return 0, fmt.Errorf("%w: field %q is not defined on type %q", ErrSchemaMismatch, name, parent)
}

// wrapWeightErr classifies weight function failures: overflow passes through,
// everything else (missing argument, unbound variable, bad value) is the
// query's fault.
func (a *Analyzer) wrapWeightErr(err error, parent, field string) error {
	if errors.Is(err, typeweights.ErrCostOverflow) {
		return err
	}
	return fmt.Errorf("%w: field %s.%s: %v", ErrInvalidQuery, parent, field, err)
}

func fragmentName(frag *ast.FragmentDefinition) string {
	if frag.Name == nil {
		return ""
	}
	return frag.Name.Value
}
