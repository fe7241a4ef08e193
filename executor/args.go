package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pml-run/pml/core"
)

var (
	referenceSegmentRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)((?:\[[0-9]+\]|\.[A-Za-z_][A-Za-z0-9_]*)*)$`)
	pathTokenRe        = regexp.MustCompile(`\[(\d+)\]|\.([A-Za-z_][A-Za-z0-9_]*)`)
	templateExprRe     = regexp.MustCompile(`\$\{([^}]*)\}`)
	legacyOutputRe     = regexp.MustCompile(`^\$OUTPUT\[([A-Za-z0-9_]+)\]((?:\[[0-9]+\]|\.[A-Za-z_][A-Za-z0-9_]*)*)$`)
)

// resolveArguments resolves every ArgumentSpec for task against the results
// of already-completed tasks, in the order literal, reference, parameter,
// legacy $OUTPUT tokens, then passthrough of whatever remains in Legacy.
// A reference that fails to resolve is omitted from the output map rather
// than set to nil, matching "emission is skipped for undefined values".
func resolveArguments(task Task, completed map[string]TaskResult) map[string]core.Value {
	out := make(map[string]core.Value, len(task.Arguments)+len(task.Legacy))

	for name, spec := range task.Arguments {
		if spec.Literal != nil {
			out[name] = *spec.Literal
			continue
		}
		if spec.Reference != "" {
			if v, ok := resolveReferenceOrTemplate(spec.Reference, completed); ok {
				out[name] = v
			}
			continue
		}
		if spec.Parameter != "" {
			if v, ok := spec.Parameters[spec.Parameter]; ok {
				out[name] = v
			}
			continue
		}
	}

	for name, raw := range task.Legacy {
		out[name] = resolveValueRecursive(raw, completed)
	}

	return out
}

// resolveValueRecursive walks nested maps/slices looking for legacy
// "$OUTPUT[task_id][.path]" string tokens, substituting the referenced
// output in place; everything else passes through unchanged.
func resolveValueRecursive(v core.Value, completed map[string]TaskResult) core.Value {
	switch val := v.(type) {
	case string:
		if resolved, ok := resolveLegacyToken(val, completed); ok {
			return resolved
		}
		return val
	case map[string]core.Value:
		out := make(map[string]core.Value, len(val))
		for k, inner := range val {
			out[k] = resolveValueRecursive(inner, completed)
		}
		return out
	case []core.Value:
		out := make([]core.Value, len(val))
		for i, inner := range val {
			out[i] = resolveValueRecursive(inner, completed)
		}
		return out
	default:
		return v
	}
}

func resolveLegacyToken(s string, completed map[string]TaskResult) (core.Value, bool) {
	m := legacyOutputRe.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	taskID, pathExpr := m[1], m[2]
	result, ok := completed[taskID]
	if !ok || result.Status != StatusCompleted {
		return nil, false
	}
	segments := parsePathSegments(pathExpr)
	return core.Path(result.Output, segments)
}

// resolveReferenceOrTemplate handles both a bare reference expression
// ("taskId.path") and a template literal containing one or more
// "${taskId.path}" interpolations.
func resolveReferenceOrTemplate(expr string, completed map[string]TaskResult) (core.Value, bool) {
	if !strings.Contains(expr, "${") {
		return resolveReference(expr, completed)
	}

	missing := false
	rendered := templateExprRe.ReplaceAllStringFunc(expr, func(match string) string {
		inner := templateExprRe.FindStringSubmatch(match)[1]
		v, ok := resolveReference(strings.TrimSpace(inner), completed)
		if !ok {
			missing = true
			return ""
		}
		return stringifyValue(v)
	})
	if missing {
		return nil, false
	}
	return rendered, true
}

func resolveReference(expr string, completed map[string]TaskResult) (core.Value, bool) {
	m := referenceSegmentRe.FindStringSubmatch(expr)
	if m == nil {
		return nil, false
	}
	nodeID, pathExpr := m[1], m[2]
	result, ok := completed["task_"+nodeID]
	if !ok {
		result, ok = completed[nodeID]
	}
	if !ok || result.Status != StatusCompleted {
		return nil, false
	}
	segments := parsePathSegments(pathExpr)
	return core.Path(result.Output, segments)
}

func parsePathSegments(expr string) []core.PathSegment {
	matches := pathTokenRe.FindAllStringSubmatch(expr, -1)
	segments := make([]core.PathSegment, 0, len(matches))
	for _, m := range matches {
		if m[1] != "" {
			idx, _ := strconv.Atoi(m[1])
			segments = append(segments, core.PathSegment{Index: &idx})
		} else {
			segments = append(segments, core.PathSegment{Key: m[2]})
		}
	}
	return segments
}

func stringifyValue(v core.Value) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
