package schema

import (
	"fmt"
	"strings"
)

// indexDef describes one secondary index. Names are derived from the table
// so the same definition set can back every per-type table (and sqlite,
// whose index namespace is database-wide, stays collision-free in tests).
type indexDef struct {
	suffix  string
	columns []string
	// prefixLen applies a MySQL prefix length to every column (0 = none).
	// Needed for meta_key, which is wider than the index size limit under
	// utf8mb4.
	prefixLen int
}

func (d indexDef) name(table string) string {
	return fmt.Sprintf("idx_%s_%s", table, d.suffix)
}

// contentIndexes matches the shared table's secondary indexes so query plans
// survive the move in either direction.
var contentIndexes = []indexDef{
	{suffix: "status", columns: []string{"post_status"}},
	{suffix: "date", columns: []string{"post_date"}},
	{suffix: "modified", columns: []string{"post_modified"}},
	{suffix: "author", columns: []string{"post_author"}},
	{suffix: "parent", columns: []string{"post_parent"}},
	{suffix: "type", columns: []string{"post_type"}},
	{suffix: "order", columns: []string{"menu_order"}},
}

var metaIndexes = []indexDef{
	{suffix: "post_id", columns: []string{"post_id"}},
	{suffix: "key", columns: []string{"meta_key"}, prefixLen: 191},
	{suffix: "post_key", columns: []string{"post_id", "meta_key"}, prefixLen: 191},
}

// createIndexes creates any of the given indexes that do not exist yet.
func (s *Store) createIndexes(table string, indexes []indexDef) error {
	mysql := s.db.Dialector.Name() == "mysql"
	for _, idx := range indexes {
		name := idx.name(table)
		if s.db.Migrator().HasIndex(table, name) {
			continue
		}
		cols := make([]string, len(idx.columns))
		for i, col := range idx.columns {
			if mysql && idx.prefixLen > 0 && col == "meta_key" {
				cols[i] = fmt.Sprintf("`%s`(%d)", col, idx.prefixLen)
			} else {
				cols[i] = fmt.Sprintf("`%s`", col)
			}
		}
		stmt := fmt.Sprintf("CREATE INDEX `%s` ON `%s` (%s)", name, table, strings.Join(cols, ", "))
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}
	return nil
}
