package comments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/readingroom/catalog/internal/catalog"
	"github.com/readingroom/catalog/internal/fault"
	"github.com/readingroom/catalog/internal/visitors"
)

const maxCommentLength = 500

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries an operation-scoped failure code and its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable failure code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "comments.service.new"
	opCreateComment = "comments.create"
	opTreeForBook   = "comments.tree_for_book"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies required by the tree engine.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	Logger       *zap.Logger
	SiblingOrder SiblingOrder
}

// Service stores comments as nested-set trees, one forest per book.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
	order  SiblingOrder

	// bookLocks serializes structural writes per book. Boundary shifts
	// interleaved from two inserts into the same tree would corrupt the
	// encoding; inserts into different books never contend.
	bookLocks sync.Map
}

// NewService constructs the comment tree engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
		order:  cfg.SiblingOrder,
	}, nil
}

func (s *Service) lockBook(bookID uint) *sync.Mutex {
	lock, _ := s.bookLocks.LoadOrStore(bookID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// CreateRequest carries a validated comment submission.
type CreateRequest struct {
	BookID    uint
	VisitorID uint
	Text      string
	ParentID  *uint
}

// Create inserts a comment under the optional parent and returns its
// receipt. The whole insertion, boundary shifts included, happens inside
// one transaction while holding the book's insert lock, so the tree is
// either fully updated or untouched.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Receipt, error) {
	if utf8.RuneCountInString(req.Text) > maxCommentLength {
		cause := fmt.Errorf("%w: comment must not exceed %d characters", fault.ErrValidation, maxCommentLength)
		return Receipt{}, newServiceError(opCreateComment, "text_too_long", cause)
	}
	if req.VisitorID == 0 {
		cause := fmt.Errorf("%w: a resolved visitor identity is required", fault.ErrPermissionDenied)
		return Receipt{}, newServiceError(opCreateComment, "missing_visitor", cause)
	}

	lock := s.lockBook(req.BookID)
	lock.Lock()
	defer lock.Unlock()

	var created Comment
	var author visitors.Visitor
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bookCount int64
		if err := tx.Model(&catalog.Book{}).Where("id = ?", req.BookID).Count(&bookCount).Error; err != nil {
			return newServiceError(opCreateComment, "book_select_failed", err)
		}
		if bookCount == 0 {
			cause := fmt.Errorf("%w: book %d", fault.ErrNotFound, req.BookID)
			return newServiceError(opCreateComment, "book_not_found", cause)
		}

		if err := tx.Take(&author, req.VisitorID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				cause := fmt.Errorf("%w: visitor %d", fault.ErrNotFound, req.VisitorID)
				return newServiceError(opCreateComment, "visitor_not_found", cause)
			}
			return newServiceError(opCreateComment, "visitor_select_failed", err)
		}

		created = Comment{
			BookID:      req.BookID,
			VisitorID:   req.VisitorID,
			ParentID:    req.ParentID,
			Text:        req.Text,
			PublishedAt: s.clock().UTC(),
		}

		if req.ParentID == nil {
			treeID, err := nextTreeID(tx, req.BookID)
			if err != nil {
				return newServiceError(opCreateComment, "tree_id_failed", err)
			}
			created.TreeID = treeID
			created.Lft = 1
			created.Rgt = 2
			created.Depth = 0
		} else {
			var parent Comment
			if err := tx.Take(&parent, *req.ParentID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					cause := fmt.Errorf("%w: parent comment %d", fault.ErrNotFound, *req.ParentID)
					return newServiceError(opCreateComment, "parent_not_found", cause)
				}
				return newServiceError(opCreateComment, "parent_select_failed", err)
			}
			if parent.BookID != req.BookID {
				cause := fmt.Errorf("%w: parent comment %d belongs to book %d", fault.ErrValidation, parent.ID, parent.BookID)
				return newServiceError(opCreateComment, "parent_book_mismatch", cause)
			}

			position, err := insertUnderParent(tx, parent, s.order)
			if err != nil {
				return newServiceError(opCreateComment, "boundary_shift_failed", err)
			}
			created.TreeID = parent.TreeID
			created.Lft = position
			created.Rgt = position + 1
			created.Depth = parent.Depth + 1
		}

		if err := tx.Create(&created).Error; err != nil {
			return newServiceError(opCreateComment, "comment_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logger.Error("comment creation failed",
			zap.Uint("book_id", req.BookID),
			zap.Uint("visitor_id", req.VisitorID),
			zap.Error(txErr))
		return Receipt{}, txErr
	}

	return Receipt{
		IsChild:     created.IsReply(),
		ID:          created.ID,
		Visitor:     author.DisplayName(),
		ParentID:    created.ParentID,
		PublishedAt: created.PublishedAt.Format(PublishedAtLayout),
		Comment:     created.Text,
	}, nil
}

// TreeForBook returns the book's comment forest. One bulk fetch in
// structural order plus in-memory assembly; no per-node queries. With
// OrderNewestFirst both roots and siblings come back newest first.
func (s *Service) TreeForBook(ctx context.Context, bookID uint) ([]*Node, error) {
	var bookCount int64
	if err := s.db.WithContext(ctx).Model(&catalog.Book{}).Where("id = ?", bookID).Count(&bookCount).Error; err != nil {
		return nil, newServiceError(opTreeForBook, "book_select_failed", err)
	}
	if bookCount == 0 {
		cause := fmt.Errorf("%w: book %d", fault.ErrNotFound, bookID)
		return nil, newServiceError(opTreeForBook, "book_not_found", cause)
	}

	treeOrder := "tree_id DESC, lft ASC"
	if s.order == OrderOldestFirst {
		treeOrder = "tree_id ASC, lft ASC"
	}

	var rows []Comment
	err := s.db.WithContext(ctx).
		Preload("Visitor").
		Where("book_id = ?", bookID).
		Order(treeOrder).
		Find(&rows).Error
	if err != nil {
		return nil, newServiceError(opTreeForBook, "query_failed", err)
	}

	return assembleForest(rows), nil
}
