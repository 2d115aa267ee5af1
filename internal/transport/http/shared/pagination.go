package shared

import (
	"net/http"
	"strconv"
)

type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit and offset. A limit above maxLimit is clamped;
// values that are not integers, or are out of range, come back as issues.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) (Pagination, []ValidationIssue) {
	page := Pagination{Limit: defaultLimit}
	var issues []ValidationIssue
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			issues = append(issues, ValidationIssue{Field: "limit", Reason: "must be a positive integer"})
		} else {
			page.Limit = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			issues = append(issues, ValidationIssue{Field: "offset", Reason: "must be zero or a positive integer"})
		} else {
			page.Offset = v
		}
	}
	if maxLimit > 0 && page.Limit > maxLimit {
		page.Limit = maxLimit
	}
	return page, issues
}
