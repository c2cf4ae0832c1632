package comments

import (
	"time"

	"github.com/readingroom/catalog/internal/catalog"
	"github.com/readingroom/catalog/internal/visitors"
)

// PublishedAtLayout is the timestamp format used in comment receipts.
const PublishedAtLayout = "2006-Jan-02 15:04:05"

// Comment is one node of a book's discussion forest. The nested-set
// columns (tree_id, lft, rgt, depth) let a whole subtree be read with a
// single range query; the parent pointer carries the reply relation and
// the delete cascades. Comments are never edited after creation.
type Comment struct {
	ID          uint             `gorm:"column:id;primaryKey;autoIncrement"`
	BookID      uint             `gorm:"column:book_id;not null;index:idx_comments_book_tree,priority:1"`
	Book        catalog.Book     `gorm:"constraint:OnDelete:CASCADE"`
	VisitorID   uint             `gorm:"column:visitor_id;not null;index"`
	Visitor     visitors.Visitor `gorm:"constraint:OnDelete:CASCADE"`
	ParentID    *uint            `gorm:"column:parent_id;index"`
	Parent      *Comment         `gorm:"constraint:OnDelete:CASCADE"`
	Text        string           `gorm:"column:comment;size:500;not null;default:''"`
	PublishedAt time.Time        `gorm:"column:published_at;not null"`
	TreeID      uint             `gorm:"column:tree_id;not null;index:idx_comments_book_tree,priority:2"`
	Lft         int              `gorm:"column:lft;not null"`
	Rgt         int              `gorm:"column:rgt;not null"`
	Depth       int              `gorm:"column:depth;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// IsReply reports whether the comment has a parent.
func (c Comment) IsReply() bool {
	return c.ParentID != nil
}

// Receipt is the JSON-serializable result of a comment submission.
type Receipt struct {
	IsChild     bool   `json:"is_child"`
	ID          uint   `json:"id"`
	Visitor     string `json:"visitor"`
	ParentID    *uint  `json:"parent_id"`
	PublishedAt string `json:"published_at"`
	Comment     string `json:"comment"`
}

// Node is one materialized tree node returned by TreeForBook. Children
// appear in the service's sibling order.
type Node struct {
	ID          uint    `json:"id"`
	Visitor     string  `json:"visitor"`
	VisitorID   uint    `json:"visitor_id"`
	ParentID    *uint   `json:"parent_id"`
	IsChild     bool    `json:"is_child"`
	Depth       int     `json:"depth"`
	PublishedAt string  `json:"published_at"`
	Comment     string  `json:"comment"`
	Children    []*Node `json:"children"`
}
