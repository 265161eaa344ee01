package domain

import "time"

// Post statuses mirror the shared-table status enum. The column is a plain
// varchar so plugins can define their own statuses; these are the built-ins.
const (
	PostStatusDraft   = "draft"
	PostStatusPublish = "publish"
	PostStatusPending = "pending"
	PostStatusPrivate = "private"
	PostStatusTrash   = "trash"
)

// Post is one content row. The same shape is used for the shared wp_posts
// table and every per-type wp_cpt_* table; which table a query hits is decided
// per call via db.Table(...). Indexes carry table-derived names and are
// created by internal/schema, not by gorm tags, since one model backs many
// tables.
type Post struct {
	ID            int64     `gorm:"column:ID;primaryKey;autoIncrement" json:"id"`
	AuthorID      int64     `gorm:"column:post_author;default:0" json:"author_id"`
	Date          time.Time `gorm:"column:post_date" json:"date"`
	DateGMT       time.Time `gorm:"column:post_date_gmt" json:"date_gmt"`
	Content       string    `gorm:"column:post_content;type:longtext" json:"content"`
	Title         string    `gorm:"column:post_title;type:text" json:"title"`
	Excerpt       string    `gorm:"column:post_excerpt;type:text" json:"excerpt"`
	Status        string    `gorm:"column:post_status;type:varchar(20);default:'publish'" json:"status"`
	CommentStatus string    `gorm:"column:comment_status;type:varchar(20);default:'open'" json:"comment_status"`
	PingStatus    string    `gorm:"column:ping_status;type:varchar(20);default:'open'" json:"ping_status"`
	Slug          string    `gorm:"column:post_name;type:varchar(200)" json:"slug"`
	ParentID      int64     `gorm:"column:post_parent;default:0" json:"parent_id"`
	MenuOrder     int       `gorm:"column:menu_order;default:0" json:"menu_order"`
	Type          string    `gorm:"column:post_type;type:varchar(20)" json:"type"`
	Modified      time.Time `gorm:"column:post_modified" json:"modified"`
	ModifiedGMT   time.Time `gorm:"column:post_modified_gmt" json:"modified_gmt"`
	CommentCount  int64     `gorm:"column:comment_count;default:0" json:"comment_count"`
	GUID          string    `gorm:"column:guid;type:varchar(255)" json:"guid"`
}

// TableName is the default (shared) table; per-type tables override it with
// db.Table(...).
func (Post) TableName() string { return "wp_posts" }

// PostColumns lists every column of a content row in declaration order.
// The movers build their multi-row upserts from this list, so it must stay in
// sync with the struct above.
var PostColumns = []string{
	"ID", "post_author", "post_date", "post_date_gmt", "post_content",
	"post_title", "post_excerpt", "post_status", "comment_status",
	"ping_status", "post_name", "post_parent", "menu_order", "post_type",
	"post_modified", "post_modified_gmt", "comment_count", "guid",
}

// Values returns the row values in PostColumns order.
func (p *Post) Values() []interface{} {
	return []interface{}{
		p.ID, p.AuthorID, p.Date, p.DateGMT, p.Content,
		p.Title, p.Excerpt, p.Status, p.CommentStatus,
		p.PingStatus, p.Slug, p.ParentID, p.MenuOrder, p.Type,
		p.Modified, p.ModifiedGMT, p.CommentCount, p.GUID,
	}
}
