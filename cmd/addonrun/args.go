package main

import (
	"fmt"
	"maps"
	"math/big"
	"slices"
	"strconv"
	"strings"

	"github.com/wippyai/addon-runtime/refhost"
)

// argList collects repeated -arg flags.
type argList []string

func (a *argList) String() string { return strings.Join(*a, ",") }

func (a *argList) Set(v string) error {
	*a = append(*a, v)
	return nil
}

func (a argList) values() []any {
	out := make([]any, len(a))
	for i, s := range a {
		out[i] = parseArg(s)
	}
	return out
}

// parseArg converts a command line argument into the Go value passed to
// the addon. Quoted text is always a string.
func parseArg(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null", "undefined":
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return unq
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.HasSuffix(s, "n") {
		if b, ok := new(big.Int).SetString(strings.TrimSuffix(s, "n"), 10); ok {
			return b
		}
	}
	return s
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = formatValue(a)
	}
	return strings.Join(parts, ", ")
}

// formatValue renders a call result the way a script would print it.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "undefined"
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case *big.Int:
		return x.String() + "n"
	case []any:
		return "[" + formatArgs(x) + "]"
	case map[string]any:
		keys := slices.Sorted(maps.Keys(x))
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + formatValue(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *refhost.Exception:
		return x.Error()
	case *refhost.Promise:
		return "Promise"
	default:
		return fmt.Sprint(x)
	}
}
