package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// formatSQLForLog interpolates positional parameters into a query string for
// debug logging only. The result is never executed.
func formatSQLForLog(query string, args ...any) string {
	if strings.TrimSpace(query) == "" || len(args) == 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + len(args)*8)
	argIdx := 0
	for _, ch := range query {
		if ch == '?' && argIdx < len(args) {
			b.WriteString(formatSQLArg(args[argIdx]))
			argIdx++
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func formatSQLArg(arg any) string {
	switch v := arg.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case sql.NullFloat64:
		if !v.Valid {
			return "NULL"
		}
		return strconv.FormatFloat(v.Float64, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", arg)
	}
}
