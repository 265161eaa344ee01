package mover

import (
	"fmt"
	"strings"
)

// upsertSQL builds a single multi-row upsert statement. Every column except
// the primary key is overwritten on conflict, which is what makes re-running
// a completed migration a no-op on unchanged rows.
//
// MySQL gets INSERT ... ON DUPLICATE KEY UPDATE; any other dialect (sqlite in
// tests) gets the equivalent ON CONFLICT ... DO UPDATE form. Backtick
// identifier quoting is accepted by both.
func upsertSQL(dialect, table string, columns []string, pk string, rowCount int) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = "`" + col + "`"
	}

	row := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	values := strings.TrimSuffix(strings.Repeat(row+",", rowCount), ",")

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO `%s` (%s) VALUES %s", table, strings.Join(quoted, ","), values)

	if dialect == "mysql" {
		sb.WriteString(" ON DUPLICATE KEY UPDATE ")
		first := true
		for _, col := range columns {
			if col == pk {
				continue
			}
			if !first {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "`%s`=VALUES(`%s`)", col, col)
			first = false
		}
		return sb.String()
	}

	fmt.Fprintf(&sb, " ON CONFLICT(`%s`) DO UPDATE SET ", pk)
	first := true
	for _, col := range columns {
		if col == pk {
			continue
		}
		if !first {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "`%s`=excluded.`%s`", col, col)
		first = false
	}
	return sb.String()
}
