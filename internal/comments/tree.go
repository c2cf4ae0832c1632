package comments

import (
	"gorm.io/gorm"
)

// SiblingOrder selects how comments sharing a parent are ordered. The
// ordering is baked into the structural encoding at insert time, so it
// is a property of the service, not of individual reads.
type SiblingOrder int

const (
	// OrderNewestFirst places newer siblings before older ones.
	OrderNewestFirst SiblingOrder = iota
	// OrderOldestFirst places older siblings before newer ones.
	OrderOldestFirst
)

// nextTreeID allocates the tree identifier for a new root comment.
// Allocation is monotonic per book, so tree_id order doubles as root
// recency order. Callers hold the book's insert lock.
func nextTreeID(tx *gorm.DB, bookID uint) (uint, error) {
	var maxTreeID uint
	err := tx.Model(&Comment{}).
		Where("book_id = ?", bookID).
		Select("COALESCE(MAX(tree_id), 0)").
		Scan(&maxTreeID).Error
	if err != nil {
		return 0, err
	}
	return maxTreeID + 1, nil
}

// insertUnderParent shifts the parent's tree boundaries to open a gap of
// width two and returns the lft position of the new node. With
// OrderNewestFirst the gap opens directly after the parent's lft, making
// the new node its first child; with OrderOldestFirst it opens at the
// parent's rgt, making it the last child. Both updates are scoped to one
// (book, tree) pair so concurrent inserts into other books never touch
// these rows.
func insertUnderParent(tx *gorm.DB, parent Comment, order SiblingOrder) (int, error) {
	var boundary int
	switch order {
	case OrderOldestFirst:
		boundary = parent.Rgt - 1
	default:
		boundary = parent.Lft
	}

	err := tx.Model(&Comment{}).
		Where("book_id = ? AND tree_id = ? AND lft > ?", parent.BookID, parent.TreeID, boundary).
		Update("lft", gorm.Expr("lft + 2")).Error
	if err != nil {
		return 0, err
	}
	err = tx.Model(&Comment{}).
		Where("book_id = ? AND tree_id = ? AND rgt > ?", parent.BookID, parent.TreeID, boundary).
		Update("rgt", gorm.Expr("rgt + 2")).Error
	if err != nil {
		return 0, err
	}
	return boundary + 1, nil
}

// assembleForest turns a bulk comment fetch into a forest. Rows must
// arrive in structural order (parents before their children), which the
// nested-set lft ordering guarantees; sibling order is whatever order
// the encoding was built with.
func assembleForest(rows []Comment) []*Node {
	nodes := make(map[uint]*Node, len(rows))
	roots := make([]*Node, 0)
	for _, row := range rows {
		node := &Node{
			ID:          row.ID,
			Visitor:     row.Visitor.DisplayName(),
			VisitorID:   row.VisitorID,
			ParentID:    row.ParentID,
			IsChild:     row.IsReply(),
			Depth:       row.Depth,
			PublishedAt: row.PublishedAt.Format(PublishedAtLayout),
			Comment:     row.Text,
			Children:    []*Node{},
		}
		nodes[row.ID] = node
		if row.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*row.ParentID]
		if !ok {
			// Orphaned by a partial cascade; surface as a root rather
			// than dropping the subtree.
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}
