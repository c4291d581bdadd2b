package redash

import (
	"fmt"
	"strings"
	"time"
)

// FormatTimestamp renders a timestamp the way Redash SQL templates expect:
// "YYYY-MM-DD HH:MM:SS" in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// BuildQuery substitutes {{key}} placeholders in a SQL template.
func BuildQuery(template string, params map[string]string) string {
	query := template
	for key, value := range params {
		query = strings.ReplaceAll(query, fmt.Sprintf("{{%s}}", key), value)
	}
	return query
}
