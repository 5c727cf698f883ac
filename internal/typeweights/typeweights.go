// Package typeweights builds the static cost table the complexity analyzer
// walks a query against. The table maps each schema type to a weight and a
// per-field weight record; list fields whose size is argument-controlled get
// a weight function instead of a constant.
package typeweights

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
)

// ErrCostOverflow is returned when cost arithmetic exceeds the int64 range.
var ErrCostOverflow = errors.New("query cost overflows supported integer range")

// Defaults holds the base weights applied to schema members during table
// construction.
type Defaults struct {
	Mutation   int64 `mapstructure:"mutation"`
	Object     int64 `mapstructure:"object"`
	Scalar     int64 `mapstructure:"scalar"`
	Connection int64 `mapstructure:"connection"`
}

// DefaultWeights returns the standard weight assignment.
func DefaultWeights() Defaults {
	return Defaults{
		Mutation:   10,
		Object:     1,
		Scalar:     0,
		Connection: 2,
	}
}

// WeightFunc computes the cost of a list-returning field from its arguments,
// the operation variables, and the cost of its inner selection set.
type WeightFunc func(args []*ast.Argument, variables map[string]interface{}, inner int64) (int64, error)

// FieldWeight describes how one field contributes to query cost.
type FieldWeight struct {
	// Weight is the constant contribution for scalar leaves.
	Weight int64

	// ResolveTo names the table row of the field's return type. Referencing
	// rows by name keeps cyclic schemas (User.posts -> Post.author -> User)
	// representable in a flat map.
	ResolveTo string

	// Fn is set for list fields whose size is argument-controlled.
	Fn WeightFunc

	// List marks fields returning a list type. A list field with no Fn has
	// no size-bounding argument; the analyzer can reject these.
	List bool
}

// TypeWeight is one row of the table: the type's own weight plus its fields.
type TypeWeight struct {
	Weight int64
	Fields map[string]FieldWeight
}

// Table maps lower-cased type names to their weight rows. It is immutable
// after Build and safe for concurrent reads.
type Table map[string]TypeWeight

// DefaultPaginationArgs are the argument names recognized as bounding the
// size of a list field.
var DefaultPaginationArgs = []string{"first", "last", "limit"}

var builtinScalars = map[string]bool{
	"int":     true,
	"float":   true,
	"string":  true,
	"boolean": true,
	"id":      true,
}

// Build constructs the table from a parsed SDL document.
// paginationArgs extends DefaultPaginationArgs; pass nil for the defaults.
func Build(doc *ast.Document, defaults Defaults, paginationArgs []string) (Table, error) {
	if doc == nil {
		return nil, fmt.Errorf("schema document is required")
	}

	boundingArgs := append(append([]string{}, DefaultPaginationArgs...), paginationArgs...)

	scalars := make(map[string]bool)
	for name := range builtinScalars {
		scalars[name] = true
	}

	// Root operation type names, overridable by an explicit schema definition.
	roots := map[string]string{
		"query":        "query",
		"mutation":     "mutation",
		"subscription": "subscription",
	}

	// First pass: scalar and enum names, root bindings.
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.ScalarDefinition:
			scalars[lower(d.Name.Value)] = true
		case *ast.EnumDefinition:
			scalars[lower(d.Name.Value)] = true
		case *ast.SchemaDefinition:
			for _, opType := range d.OperationTypes {
				roots[lower(opType.Type.Name.Value)] = opType.Operation
			}
		}
	}

	table := make(Table)

	// Second pass: one row per object or interface type.
	for _, def := range doc.Definitions {
		var name string
		var fields []*ast.FieldDefinition

		switch d := def.(type) {
		case *ast.ObjectDefinition:
			name = d.Name.Value
			fields = d.Fields
		case *ast.InterfaceDefinition:
			name = d.Name.Value
			fields = d.Fields
		case *ast.UnionDefinition:
			// Unions carry no fields of their own; selections go through
			// inline fragments on the member types.
			table[lower(d.Name.Value)] = TypeWeight{
				Weight: defaults.Object,
				Fields: map[string]FieldWeight{},
			}
			continue
		default:
			continue
		}

		key := lower(name)
		row := TypeWeight{
			Weight: defaults.Object,
			Fields: make(map[string]FieldWeight, len(fields)),
		}
		if roots[key] == "mutation" {
			row.Weight = defaults.Mutation
		}

		for _, field := range fields {
			fw, err := buildFieldWeight(field, defaults, scalars, boundingArgs)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", name, field.Name.Value, err)
			}
			row.Fields[field.Name.Value] = fw
		}

		table[key] = row

		// A custom root name (schema { query: RootQuery }) is also reachable
		// under its operation kind so the analyzer's root lookup stays uniform.
		if op, ok := roots[key]; ok && op != key {
			table[op] = row
		}
	}

	return table, nil
}

func buildFieldWeight(field *ast.FieldDefinition, defaults Defaults, scalars map[string]bool, boundingArgs []string) (FieldWeight, error) {
	named, isList := unwrapType(field.Type)
	if named == "" {
		return FieldWeight{}, fmt.Errorf("unresolvable field type")
	}

	typeName := lower(named)

	if scalars[typeName] {
		return FieldWeight{
			Weight: defaults.Scalar,
			List:   isList,
		}, nil
	}

	fw := FieldWeight{
		Weight:    defaults.Object,
		ResolveTo: typeName,
		List:      isList,
	}

	if isList {
		if argName := boundingArg(field.Arguments, boundingArgs); argName != "" {
			fw.Fn = boundedListWeight(argName, defaults.Connection)
		}
	}

	return fw, nil
}

// boundedListWeight is the built-in weight function for paginated list
// fields: the requested item count times the connection weight plus the
// inner selection cost.
func boundedListWeight(argName string, connection int64) WeightFunc {
	return func(args []*ast.Argument, variables map[string]interface{}, inner int64) (int64, error) {
		count, ok, err := argumentCount(args, argName, variables)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("list field is missing its %q argument", argName)
		}
		if count < 0 {
			return 0, fmt.Errorf("list size argument %q must be non-negative, got %d", argName, count)
		}

		per, err := CheckedAdd(connection, inner)
		if err != nil {
			return 0, err
		}
		return CheckedMul(count, per)
	}
}

// argumentCount extracts the int value of the named argument, resolving a
// variable reference against the operation variables.
func argumentCount(args []*ast.Argument, argName string, variables map[string]interface{}) (int64, bool, error) {
	for _, arg := range args {
		if arg.Name == nil || arg.Name.Value != argName {
			continue
		}

		switch v := arg.Value.(type) {
		case *ast.IntValue:
			n, err := strconv.ParseInt(v.Value, 10, 64)
			if err != nil {
				return 0, false, fmt.Errorf("argument %q is not a valid integer: %w", argName, err)
			}
			return n, true, nil

		case *ast.Variable:
			if v.Name == nil {
				return 0, false, fmt.Errorf("argument %q references an unnamed variable", argName)
			}
			raw, ok := variables[v.Name.Value]
			if !ok {
				return 0, false, fmt.Errorf("variable $%s for argument %q is not bound", v.Name.Value, argName)
			}
			n, err := toInt64(raw)
			if err != nil {
				return 0, false, fmt.Errorf("variable $%s: %w", v.Name.Value, err)
			}
			return n, true, nil

		default:
			return 0, false, fmt.Errorf("argument %q must be an integer or variable", argName)
		}
	}
	return 0, false, nil
}

func toInt64(raw interface{}) (int64, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("value %v is not an integer", n)
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("value %v is not an integer", raw)
	}
}

// boundingArg returns the first declared argument whose name marks it as a
// list size bound, or "" when the list is unbounded.
func boundingArg(args []*ast.InputValueDefinition, boundingArgs []string) string {
	for _, candidate := range boundingArgs {
		for _, arg := range args {
			if arg.Name != nil && arg.Name.Value == candidate {
				return candidate
			}
		}
	}
	return ""
}

// unwrapType strips NonNull and List wrappers and reports the named type
// plus whether any list wrapper was crossed.
func unwrapType(t ast.Type) (string, bool) {
	isList := false
	for {
		switch tt := t.(type) {
		case *ast.Named:
			return tt.Name.Value, isList
		case *ast.List:
			isList = true
			t = tt.Type
		case *ast.NonNull:
			t = tt.Type
		default:
			return "", isList
		}
	}
}

// CheckedAdd adds two non-negative costs, failing with ErrCostOverflow when
// the sum leaves the int64 range.
func CheckedAdd(a, b int64) (int64, error) {
	if a > math.MaxInt64-b {
		return 0, ErrCostOverflow
	}
	return a + b, nil
}

// CheckedMul multiplies two non-negative costs, failing with ErrCostOverflow
// when the product leaves the int64 range.
func CheckedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxInt64/b {
		return 0, ErrCostOverflow
	}
	return a * b, nil
}

func lower(s string) string {
	return strings.ToLower(s)
}
