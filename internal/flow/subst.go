package flow

import (
	"fmt"
	"regexp"
)

// varPattern matches [name]-style variable references.
var varPattern = regexp.MustCompile(`\[([a-zA-Z_][a-zA-Z0-9_-]*)\]`)

// Substitute replaces every [name] reference in text with its value from
// vars. A reference to a variable that was never produced is a StepError,
// never rendered as literal placeholder text.
func Substitute(text string, vars map[string]string) (string, error) {
	var missing string
	out := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		val, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return val
	})

	if missing != "" {
		return "", fmt.Errorf("unresolved variable reference [%s]", missing)
	}
	return out, nil
}
