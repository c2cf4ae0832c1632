package ratings

import (
	"time"

	"github.com/readingroom/catalog/internal/catalog"
	"github.com/readingroom/catalog/internal/visitors"
)

// BookRate is one visitor's active rating of one book. The unique
// (book_id, visitor_id) index is the invariant's backstop: a racing
// duplicate insert surfaces as a constraint violation, never as a
// second row.
type BookRate struct {
	ID        uint             `gorm:"column:id;primaryKey;autoIncrement"`
	BookID    uint             `gorm:"column:book_id;not null;uniqueIndex:idx_book_visitor_rate,priority:1"`
	Book      catalog.Book     `gorm:"constraint:OnDelete:CASCADE"`
	VisitorID uint             `gorm:"column:visitor_id;not null;uniqueIndex:idx_book_visitor_rate,priority:2"`
	Visitor   visitors.Visitor `gorm:"constraint:OnDelete:CASCADE"`
	Rate      int              `gorm:"column:rate;not null"`
	RatedAt   time.Time        `gorm:"column:rated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (BookRate) TableName() string {
	return "book_rates"
}

// VoteStatus reports how a cast vote resolved.
type VoteStatus string

const (
	// VoteCreated means no prior rating existed and one was stored.
	VoteCreated VoteStatus = "created"
	// VoteUpdated means the prior rating was overwritten with a new value.
	VoteUpdated VoteStatus = "updated"
	// VoteDeleted means resubmitting the same value retracted the rating.
	VoteDeleted VoteStatus = "deleted"
)

// VoteReceipt is the JSON-serializable result of a cast vote. RatingSum
// is the book's mean rating recomputed after the mutation.
type VoteReceipt struct {
	Status    VoteStatus `json:"status"`
	RatingSum float64    `json:"rating_sum"`
}
