package database

import (
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/readingroom/catalog/internal/comments"
)

const migrationRebuildCommentTreeEncoding = "2026-08-10_rebuild_comment_tree_encoding"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRebuildCommentTreeEncoding, apply: rebuildCommentTreeEncoding},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// rebuildCommentTreeEncoding recomputes tree_id/lft/rgt/depth from the
// parent pointers for any database whose comment rows predate the
// nested-set columns (those rows carry lft = 0, which a valid encoding
// never produces). Roots get tree ids in publication order so that
// tree_id DESC matches newest-first; siblings are laid out newest first.
func rebuildCommentTreeEncoding(db *gorm.DB) error {
	var stale int64
	if err := db.Model(&comments.Comment{}).Where("lft = 0").Count(&stale).Error; err != nil {
		return err
	}
	if stale == 0 {
		return nil
	}

	var rows []comments.Comment
	if err := db.Order("book_id ASC, published_at ASC, id ASC").Find(&rows).Error; err != nil {
		return err
	}

	childrenOf := make(map[uint][]*comments.Comment)
	rootsOf := make(map[uint][]*comments.Comment)
	for i := range rows {
		row := &rows[i]
		if row.ParentID == nil {
			rootsOf[row.BookID] = append(rootsOf[row.BookID], row)
		} else {
			childrenOf[*row.ParentID] = append(childrenOf[*row.ParentID], row)
		}
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for _, roots := range rootsOf {
			for treeIndex, root := range roots {
				counter := 1
				if err := renumberSubtree(tx, root, uint(treeIndex+1), 0, &counter, childrenOf); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func renumberSubtree(tx *gorm.DB, node *comments.Comment, treeID uint, depth int, counter *int, childrenOf map[uint][]*comments.Comment) error {
	lft := *counter
	*counter++

	children := childrenOf[node.ID]
	// Newest first within a sibling group.
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].PublishedAt.After(children[j].PublishedAt)
	})
	for _, child := range children {
		if err := renumberSubtree(tx, child, treeID, depth+1, counter, childrenOf); err != nil {
			return err
		}
	}

	rgt := *counter
	*counter++

	return tx.Model(&comments.Comment{}).
		Where("id = ?", node.ID).
		Updates(map[string]interface{}{
			"tree_id": treeID,
			"lft":     lft,
			"rgt":     rgt,
			"depth":   depth,
		}).Error
}
