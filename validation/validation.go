package validation

import (
	"strings"
	"time"
)

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

func MaxLen(field, value string, maxLen int, v Violations) {
	if len(value) > maxLen {
		v[field] = "too_long"
	}
}

// acceptedDateFormats are the only layouts date fields may use.
var acceptedDateFormats = []string{"01/02/06", "01/02/2006"}

// blank markers treated as an empty date value
var emptyDateMarkers = map[string]bool{"": true, "N/A": true, "NA": true, "NULL": true, "NONE": true, "-": true}

// NormalizeDate trims a date field and maps the usual blank markers to "".
func NormalizeDate(value string) string {
	s := strings.TrimSpace(value)
	if emptyDateMarkers[strings.ToUpper(s)] {
		return ""
	}
	return s
}

// Date validates a date field: empty is allowed, otherwise it must parse as
// MM/DD/YY or MM/DD/YYYY.
func Date(field, value string, v Violations) {
	s := NormalizeDate(value)
	if s == "" {
		return
	}
	for _, layout := range acceptedDateFormats {
		if _, err := time.Parse(layout, s); err == nil {
			return
		}
	}
	v[field] = "invalid_date"
}

// OneOf requires value to be a member of the allowed set.
func OneOf(field, value string, allowed []string, v Violations) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v[field] = "invalid_value"
}

// JobNumber requires a non-empty identifier whose base (before any ".N"
// allocation suffix) is numeric and at most 20 characters.
func JobNumber(field, value string, v Violations) {
	s := strings.TrimSpace(value)
	if s == "" {
		v[field] = "required"
		return
	}
	base := s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		base = s[:i]
	}
	if base == "" || !isDigits(base) {
		v[field] = "must_be_numeric"
		return
	}
	if len(base) > 20 {
		v[field] = "too_long"
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
