package shared

import (
	"net/http"
	"strings"
)

// QueryBool treats "true" and "1" as true; anything else is false.
func QueryBool(r *http.Request, key string) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get(key))) {
	case "true", "1":
		return true
	}
	return false
}
