package domain

// PostMeta is one key/value attribute row. Keys are not unique per post;
// multi-valued attributes are stored as multiple rows with the same key.
// Values may hold serialized compound data, which the storage layer treats
// as opaque text.
type PostMeta struct {
	MetaID int64  `gorm:"column:meta_id;primaryKey;autoIncrement" json:"meta_id"`
	PostID int64  `gorm:"column:post_id;default:0" json:"post_id"`
	Key    string `gorm:"column:meta_key;type:varchar(255)" json:"key"`
	Value  string `gorm:"column:meta_value;type:longtext" json:"value"`
}

func (PostMeta) TableName() string { return "wp_postmeta" }

// PostMetaColumns lists every column of an attribute row in declaration
// order, for the movers' bulk upserts.
var PostMetaColumns = []string{"meta_id", "post_id", "meta_key", "meta_value"}

// Values returns the row values in PostMetaColumns order.
func (m *PostMeta) Values() []interface{} {
	return []interface{}{m.MetaID, m.PostID, m.Key, m.Value}
}
