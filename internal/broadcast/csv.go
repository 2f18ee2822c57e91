package broadcast

import (
	"regexp"
	"strings"
)

// Recipient is one normalized entry of a campaign's recipient list,
// produced from CSV ingestion or accepted directly as structured input.
type Recipient struct {
	Phone     string            `json:"phone"`
	Name      string            `json:"name,omitempty"`
	Variables []string          `json:"variables"`
	RowData   map[string]string `json:"row_data,omitempty"`
}

// A first row counts as a header row when it contains at least one letter
// and is not made up solely of phone-like characters.
var (
	letterPattern    = regexp.MustCompile(`[a-zA-Z]`)
	phoneLikePattern = regexp.MustCompile(`^[\d+\-\s()]+$`)
)

// DetectHeaders reports whether the first non-empty CSV line looks like a
// header row rather than data.
func DetectHeaders(csvText string) bool {
	lines := nonEmptyLines(csvText)
	if len(lines) == 0 {
		return false
	}
	first := lines[0]
	return letterPattern.MatchString(first) && !phoneLikePattern.MatchString(first)
}

// ParseCSV turns raw CSV text into a recipient list. With headers the first
// column is the phone column and every other column becomes both a named
// row-data entry and (when non-empty) a positional variable in column order.
// Without headers each row's first field is a bare phone number. Rows with an
// empty phone are dropped.
func ParseCSV(csvText string) ([]Recipient, bool) {
	hasHeaders := DetectHeaders(csvText)
	lines := nonEmptyLines(csvText)

	var recipients []Recipient

	if hasHeaders && len(lines) > 0 {
		headers := parseLine(lines[0])
		phoneColumn := headers[0]

		for _, line := range lines[1:] {
			values := parseLine(line)
			row := make(map[string]string, len(headers))
			for i, header := range headers {
				if i < len(values) {
					row[header] = values[i]
				} else {
					row[header] = ""
				}
			}

			phone := strings.TrimSpace(row[phoneColumn])
			if phone == "" {
				continue
			}

			var variables []string
			for _, header := range headers[1:] {
				if row[header] != "" {
					variables = append(variables, row[header])
				}
			}

			recipients = append(recipients, Recipient{
				Phone:     phone,
				Variables: variables,
				RowData:   row,
			})
		}
		return recipients, true
	}

	for _, line := range lines {
		values := parseLine(line)
		if len(values) == 0 {
			continue
		}
		phone := strings.TrimSpace(values[0])
		if phone == "" {
			continue
		}
		recipients = append(recipients, Recipient{
			Phone:   phone,
			RowData: map[string]string{"phone": phone},
		})
	}
	return recipients, false
}

// parseLine splits one CSV line on commas, with double quotes toggling field
// boundaries so quoted commas stay literal.
func parseLine(line string) []string {
	var fields []string
	var current strings.Builder
	inQuotes := false

	for _, ch := range line {
		switch {
		case ch == '"':
			inQuotes = !inQuotes
		case ch == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	fields = append(fields, strings.TrimSpace(current.String()))
	return fields
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
