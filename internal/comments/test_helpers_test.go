package comments

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/readingroom/catalog/internal/catalog"
	"github.com/readingroom/catalog/internal/visitors"
)

// tickingClock hands out strictly increasing timestamps so sibling
// ordering is observable.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestService(t *testing.T, order SiblingOrder) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:comments_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&visitors.Account{}, &visitors.Visitor{}, &catalog.Author{}, &catalog.Book{}, &Comment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:     db,
		Clock:        newTickingClock().Now,
		SiblingOrder: order,
	})
	if err != nil {
		t.Fatalf("failed to construct comment service: %v", err)
	}
	return service, db
}

func seedBook(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	author := catalog.Author{Name: "Iris", Surname: "Murdoch", YearOfBirth: 1919}
	if err := db.Create(&author).Error; err != nil {
		t.Fatalf("failed to seed author: %v", err)
	}
	book := catalog.Book{Name: name, AuthorID: author.ID, Year: 1954}
	if err := db.Create(&book).Error; err != nil {
		t.Fatalf("failed to seed book: %v", err)
	}
	return book.ID
}

func seedVisitor(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	account := visitors.Account{
		ID:           fmt.Sprintf("acct-%s-%d", name, time.Now().UnixNano()),
		Username:     fmt.Sprintf("%s-%d", name, time.Now().UnixNano()),
		PasswordHash: "x",
	}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	visitor := visitors.Visitor{AccountID: account.ID, Name: name, Surname: "Reader"}
	if err := db.Create(&visitor).Error; err != nil {
		t.Fatalf("failed to seed visitor: %v", err)
	}
	return visitor.ID
}

func mustCreate(t *testing.T, service *Service, req CreateRequest) Receipt {
	t.Helper()
	receipt, err := service.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return receipt
}

// checkEncoding verifies every tree in the book's forest is a valid
// nested set: roots start at 1, intervals have even width, children lie
// strictly inside their parent and siblings never overlap.
func checkEncoding(t *testing.T, db *gorm.DB, bookID uint) {
	t.Helper()
	var rows []Comment
	if err := db.Where("book_id = ?", bookID).Order("tree_id ASC, lft ASC").Find(&rows).Error; err != nil {
		t.Fatalf("failed to load comments: %v", err)
	}
	byID := make(map[uint]Comment, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	for _, row := range rows {
		if row.Rgt <= row.Lft {
			t.Fatalf("comment %d has inverted interval [%d,%d]", row.ID, row.Lft, row.Rgt)
		}
		if (row.Rgt-row.Lft)%2 != 1 {
			t.Fatalf("comment %d has even interval width [%d,%d]", row.ID, row.Lft, row.Rgt)
		}
		if row.ParentID == nil {
			if row.Lft != 1 {
				t.Fatalf("root comment %d does not start at 1 (lft=%d)", row.ID, row.Lft)
			}
			if row.Depth != 0 {
				t.Fatalf("root comment %d has depth %d", row.ID, row.Depth)
			}
			continue
		}
		parent, ok := byID[*row.ParentID]
		if !ok {
			t.Fatalf("comment %d references missing parent %d", row.ID, *row.ParentID)
		}
		if parent.TreeID != row.TreeID {
			t.Fatalf("comment %d in tree %d but parent in tree %d", row.ID, row.TreeID, parent.TreeID)
		}
		if row.Lft <= parent.Lft || row.Rgt >= parent.Rgt {
			t.Fatalf("comment %d interval [%d,%d] escapes parent [%d,%d]", row.ID, row.Lft, row.Rgt, parent.Lft, parent.Rgt)
		}
		if row.Depth != parent.Depth+1 {
			t.Fatalf("comment %d depth %d, parent depth %d", row.ID, row.Depth, parent.Depth)
		}
	}
	// Sibling intervals must be disjoint.
	for _, a := range rows {
		for _, b := range rows {
			if a.ID == b.ID || a.TreeID != b.TreeID {
				continue
			}
			nested := (a.Lft < b.Lft && b.Rgt < a.Rgt) || (b.Lft < a.Lft && a.Rgt < b.Rgt)
			disjoint := a.Rgt < b.Lft || b.Rgt < a.Lft
			if !nested && !disjoint {
				t.Fatalf("comments %d [%d,%d] and %d [%d,%d] overlap", a.ID, a.Lft, a.Rgt, b.ID, b.Lft, b.Rgt)
			}
		}
	}
}
