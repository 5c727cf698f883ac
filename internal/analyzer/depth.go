package analyzer

import (
	"fmt"

	"github.com/graphql-go/graphql/language/ast"
)

// Depth returns the maximum selection nesting across all operations in the
// document. Fragment spreads are resolved through their definitions, so a
// flat query hiding depth behind fragments is measured at its true depth.
func (a *Analyzer) Depth(doc *ast.Document) (int, error) {
	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if frag, ok := def.(*ast.FragmentDefinition); ok {
			fragments[fragmentName(frag)] = frag
		}
	}

	var maxDepth int
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		depth, err := selectionSetDepth(op.SelectionSet, 0, fragments, make(map[string]bool))
		if err != nil {
			return 0, err
		}
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	return maxDepth, nil
}

func selectionSetDepth(ss *ast.SelectionSet, current int, fragments map[string]*ast.FragmentDefinition, expanding map[string]bool) (int, error) {
	if ss == nil || len(ss.Selections) == 0 {
		return current, nil
	}

	maxDepth := current + 1
	for _, sel := range ss.Selections {
		var depth int
		var err error

		switch s := sel.(type) {
		case *ast.Field:
			depth, err = selectionSetDepth(s.SelectionSet, current+1, fragments, expanding)

		case *ast.InlineFragment:
			// The fragment itself adds no level; its fields do.
			depth, err = selectionSetDepth(s.SelectionSet, current, fragments, expanding)

		case *ast.FragmentSpread:
			name := ""
			if s.Name != nil {
				name = s.Name.Value
			}
			frag, ok := fragments[name]
			if !ok {
				return 0, fmt.Errorf("%w: spread of unknown fragment %q", ErrInvalidQuery, name)
			}
			if expanding[name] {
				return 0, fmt.Errorf("%w: fragment cycle through %q", ErrInvalidQuery, name)
			}
			expanding[name] = true
			depth, err = selectionSetDepth(frag.SelectionSet, current, fragments, expanding)
			delete(expanding, name)
		}

		if err != nil {
			return 0, err
		}
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	return maxDepth, nil
}
