package broadcast

import (
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\d+\}\}|\{var\d+\}`)

// hasPlaceholders reports whether a body contains positional variable slots.
func hasPlaceholders(content string) bool {
	return placeholderPattern.MatchString(content)
}

// ResolveVariables substitutes placeholders in a template or custom message
// body. Named placeholders like {name} are filled from rowData (every column
// except phone), then positional placeholders {{1}} and {var1} (1-indexed)
// from the variable list. Unmatched placeholders are left intact and the
// inputs are never mutated.
func ResolveVariables(content string, variables []string, rowData map[string]string) string {
	resolved := content

	for column, value := range rowData {
		if column == "phone" {
			continue
		}
		resolved = strings.ReplaceAll(resolved, "{"+column+"}", value)
	}

	for i, value := range variables {
		n := strconv.Itoa(i + 1)
		resolved = strings.ReplaceAll(resolved, "{{"+n+"}}", value)
		resolved = strings.ReplaceAll(resolved, "{var"+n+"}", value)
	}

	return resolved
}
