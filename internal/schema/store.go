// Package schema owns the per-post-type table pair: creation, validation,
// detection and backup. All DDL for the custom tables goes through here.
package schema

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/openpress/cptables/internal/common"
	"github.com/openpress/cptables/internal/domain"
	"github.com/openpress/cptables/pkg/logger"
)

// Shared (CMS built-in) table names.
const (
	SharedContentTable = "wp_posts"
	SharedMetaTable    = "wp_postmeta"
)

const customPrefix = "wp_cpt_"
const metaSuffix = "_meta"

// Table handling modes for pre-existing custom tables at activation.
const (
	HandlingAuto     = "auto"
	HandlingBackup   = "backup"
	HandlingValidate = "validate"
	HandlingSkip     = "skip"
)

// ContentTable returns the custom content table name for a post type.
func ContentTable(postType string) string {
	return customPrefix + postType
}

// MetaTable returns the custom attribute table name for a post type.
func MetaTable(postType string) string {
	return ContentTable(postType) + metaSuffix
}

// PostTypeFromTable reverses the naming convention. The second return is the
// meta flag; ok is false for tables outside the convention.
func PostTypeFromTable(table string) (postType string, meta bool, ok bool) {
	if !strings.HasPrefix(table, customPrefix) {
		return "", false, false
	}
	rest := strings.TrimPrefix(table, customPrefix)
	if strings.HasSuffix(rest, metaSuffix) {
		return strings.TrimSuffix(rest, metaSuffix), true, true
	}
	return rest, false, true
}

// Diff is the structured result of comparing an actual table against the
// expected shape. Callers decide which mismatches are fatal.
type Diff struct {
	Table          string   `json:"table"`
	MissingColumns []string `json:"missing_columns,omitempty"`
	ExtraColumns   []string `json:"extra_columns,omitempty"`
	MissingIndexes []string `json:"missing_indexes,omitempty"`
}

// Clean reports whether the table matches the expected shape exactly.
func (d *Diff) Clean() bool {
	return len(d.MissingColumns) == 0 && len(d.ExtraColumns) == 0 && len(d.MissingIndexes) == 0
}

func (d *Diff) String() string {
	var parts []string
	if len(d.MissingColumns) > 0 {
		parts = append(parts, "missing columns: "+strings.Join(d.MissingColumns, ","))
	}
	if len(d.ExtraColumns) > 0 {
		parts = append(parts, "extra columns: "+strings.Join(d.ExtraColumns, ","))
	}
	if len(d.MissingIndexes) > 0 {
		parts = append(parts, "missing indexes: "+strings.Join(d.MissingIndexes, ","))
	}
	if len(parts) == 0 {
		return d.Table + ": ok"
	}
	return d.Table + ": " + strings.Join(parts, "; ")
}

// TableInfo describes one detected custom table.
type TableInfo struct {
	Table    string `json:"table"`
	PostType string `json:"post_type"`
	Meta     bool   `json:"meta"`
	Rows     int64  `json:"rows"`
	HasData  bool   `json:"has_data"`
}

// Store creates, validates and drops the custom table pairs.
type Store struct {
	db       *gorm.DB
	handling string
}

// NewStore creates a schema store. handling is one of the Handling* modes
// and governs what EnsureSchema does with pre-existing tables.
func NewStore(db *gorm.DB, handling string) *Store {
	switch handling {
	case HandlingAuto, HandlingBackup, HandlingValidate, HandlingSkip:
	default:
		handling = HandlingAuto
	}
	return &Store{db: db, handling: handling}
}

// HasTable reports whether the named table exists.
func (s *Store) HasTable(table string) bool {
	return s.db.Migrator().HasTable(table)
}

// EnsureSchema creates the content and attribute tables for a post type if
// absent. It is idempotent: a pre-existing compatible table is left alone
// (or backed up/validated per the handling mode), and an incompatible one is
// reported, never silently altered beyond additive column migration in auto
// mode. If the attribute table fails to create after the content table was
// just created, the content table is rolled back so no half-pair remains.
func (s *Store) EnsureSchema(postType string) error {
	if !domain.IsValidTypeName(postType) {
		return fmt.Errorf("%w: %q", common.ErrInvalidTypeName, postType)
	}

	content := ContentTable(postType)
	meta := MetaTable(postType)

	createdContent, err := s.ensureTable(content, &domain.Post{}, domain.PostColumns, contentIndexes)
	if err != nil {
		return fmt.Errorf("ensure %s: %w", content, err)
	}

	if _, err := s.ensureTable(meta, &domain.PostMeta{}, domain.PostMetaColumns, metaIndexes); err != nil {
		if createdContent {
			if dropErr := s.db.Migrator().DropTable(content); dropErr != nil {
				logger.Warn("rollback of %s after meta table failure also failed: %v", content, dropErr)
			}
		}
		return fmt.Errorf("ensure %s: %w", meta, err)
	}
	return nil
}

// ensureTable brings one table to the expected shape. Returns whether the
// table was created by this call.
func (s *Store) ensureTable(table string, model interface{}, columns []string, indexes []indexDef) (bool, error) {
	if !s.HasTable(table) {
		if err := s.db.Table(table).AutoMigrate(model); err != nil {
			return false, err
		}
		if err := s.createIndexes(table, indexes); err != nil {
			// Index failure on a table we just created: remove the table so
			// a retry starts clean.
			_ = s.db.Migrator().DropTable(table)
			return false, err
		}
		return true, nil
	}

	switch s.handling {
	case HandlingSkip:
		return false, nil
	case HandlingBackup:
		if _, err := s.Backup(table); err != nil {
			return false, err
		}
	}

	diff, err := s.ValidateSchema(table, columns, indexes)
	if err != nil {
		return false, err
	}
	if len(diff.MissingColumns) > 0 || len(diff.MissingIndexes) > 0 {
		if s.handling == HandlingValidate {
			return false, fmt.Errorf("%w: %s", common.ErrSchemaMismatch, diff)
		}
		// auto/backup: additive repair only. Extra columns are left alone.
		if len(diff.MissingColumns) > 0 {
			if err := s.db.Table(table).AutoMigrate(model); err != nil {
				return false, err
			}
		}
		if err := s.createIndexes(table, indexes); err != nil {
			return false, err
		}
	}
	return false, nil
}

// DropSchema drops both tables of the pair. Absent tables are not an error.
func (s *Store) DropSchema(postType string) error {
	if !domain.IsValidTypeName(postType) {
		return fmt.Errorf("%w: %q", common.ErrInvalidTypeName, postType)
	}
	for _, table := range []string{MetaTable(postType), ContentTable(postType)} {
		if !s.HasTable(table) {
			continue
		}
		if err := s.db.Migrator().DropTable(table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}

// DetectExisting enumerates tables matching the wp_cpt_* convention with row
// counts, so activation code can warn before touching pre-existing data.
// Backup copies are excluded.
func (s *Store) DetectExisting() ([]TableInfo, error) {
	tables, err := s.db.Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	var infos []TableInfo
	for _, table := range tables {
		if strings.Contains(table, "_backup_") {
			continue
		}
		postType, meta, ok := PostTypeFromTable(table)
		if !ok {
			continue
		}
		var rows int64
		if err := s.db.Table(table).Count(&rows).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		infos = append(infos, TableInfo{
			Table:    table,
			PostType: postType,
			Meta:     meta,
			Rows:     rows,
			HasData:  rows > 0,
		})
	}
	return infos, nil
}

// ValidateContentTable diffs a content table against the expected shape.
func (s *Store) ValidateContentTable(table string) (*Diff, error) {
	return s.ValidateSchema(table, domain.PostColumns, contentIndexes)
}

// ValidateMetaTable diffs an attribute table against the expected shape.
func (s *Store) ValidateMetaTable(table string) (*Diff, error) {
	return s.ValidateSchema(table, domain.PostMetaColumns, metaIndexes)
}

// ValidateSchema compares the actual column and index sets of a table
// against the expected shape and returns a structured diff.
func (s *Store) ValidateSchema(table string, expectedColumns []string, indexes []indexDef) (*Diff, error) {
	if !s.HasTable(table) {
		return nil, fmt.Errorf("%w: %s", common.ErrTableMissing, table)
	}

	colTypes, err := s.db.Migrator().ColumnTypes(table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}

	actual := make(map[string]bool, len(colTypes))
	for _, ct := range colTypes {
		actual[strings.ToLower(ct.Name())] = true
	}

	diff := &Diff{Table: table}
	for _, col := range expectedColumns {
		if !actual[strings.ToLower(col)] {
			diff.MissingColumns = append(diff.MissingColumns, col)
		}
	}
	expected := make(map[string]bool, len(expectedColumns))
	for _, col := range expectedColumns {
		expected[strings.ToLower(col)] = true
	}
	for _, ct := range colTypes {
		if !expected[strings.ToLower(ct.Name())] {
			diff.ExtraColumns = append(diff.ExtraColumns, ct.Name())
		}
	}

	for _, idx := range indexes {
		if !s.db.Migrator().HasIndex(table, idx.name(table)) {
			diff.MissingIndexes = append(diff.MissingIndexes, idx.name(table))
		}
	}
	return diff, nil
}

// Backup creates a timestamped structural+data copy of a table and returns
// the new name. Removing old backups is the caller's responsibility.
func (s *Store) Backup(table string) (string, error) {
	if !s.HasTable(table) {
		return "", fmt.Errorf("%w: %s", common.ErrTableMissing, table)
	}
	backup := fmt.Sprintf("%s_backup_%s", table, time.Now().Format("20060102150405"))

	if s.db.Dialector.Name() == "mysql" {
		if err := s.db.Exec(fmt.Sprintf("CREATE TABLE `%s` LIKE `%s`", backup, table)).Error; err != nil {
			return "", fmt.Errorf("backup %s: %w", table, err)
		}
		if err := s.db.Exec(fmt.Sprintf("INSERT INTO `%s` SELECT * FROM `%s`", backup, table)).Error; err != nil {
			_ = s.db.Migrator().DropTable(backup)
			return "", fmt.Errorf("backup %s: %w", table, err)
		}
		return backup, nil
	}

	// Portable fallback: structure-from-select (indexes are not copied).
	if err := s.db.Exec(fmt.Sprintf("CREATE TABLE `%s` AS SELECT * FROM `%s`", backup, table)).Error; err != nil {
		return "", fmt.Errorf("backup %s: %w", table, err)
	}
	return backup, nil
}
