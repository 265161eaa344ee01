package domain

// Option is a persisted site-wide setting row, modeled on the CMS options
// table. The routing flag set lives here under OptionEnabledTypes as a JSON
// array of post type names.
type Option struct {
	ID    int64  `gorm:"column:option_id;primaryKey;autoIncrement" json:"id"`
	Name  string `gorm:"column:option_name;type:varchar(191);uniqueIndex" json:"name"`
	Value string `gorm:"column:option_value;type:longtext" json:"value"`
}

func (Option) TableName() string { return "wp_options" }

// Option names owned by this service.
const (
	OptionEnabledTypes  = "cptables_enabled_types"
	OptionTableHandling = "cptables_table_handling"
)
