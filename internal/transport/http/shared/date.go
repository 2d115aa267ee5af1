package shared

import "time"

// ParseDate accepts RFC3339 or YYYY-MM-DD.
func ParseDate(value string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02", value)
}

// ParseDateRange parses an inclusive start/end pair and reports each bad
// field under its JSON name. An end before the start is reported on the end.
func ParseDateRange(startField, start, endField, end string) (time.Time, time.Time, []ValidationIssue) {
	var issues []ValidationIssue
	from, err := ParseDate(start)
	if err != nil {
		issues = append(issues, ValidationIssue{Field: startField, Reason: "must be a valid date in YYYY-MM-DD format"})
	}
	to, err := ParseDate(end)
	if err != nil {
		issues = append(issues, ValidationIssue{Field: endField, Reason: "must be a valid date in YYYY-MM-DD format"})
	}
	if len(issues) == 0 && to.Before(from) {
		issues = append(issues, ValidationIssue{Field: endField, Reason: "must not be before " + startField})
	}
	return from, to, issues
}
