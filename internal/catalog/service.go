package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/readingroom/catalog/internal/config"
	"github.com/readingroom/catalog/internal/fault"
)

const (
	maxBookNameLength   = 100
	maxAuthorNameLength = 50
)

// ServiceConfig describes the dependencies required for catalog management.
type ServiceConfig struct {
	Database           *gorm.DB
	Clock              func() time.Time
	Logger             *zap.Logger
	PageSize           int
	AuthorDeletePolicy config.AuthorDeletePolicy
}

// Service manages books, authors and their image attachments.
type Service struct {
	db           *gorm.DB
	now          func() time.Time
	logger       *zap.Logger
	pageSize     int
	deletePolicy config.AuthorDeletePolicy
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("catalog: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 3
	}
	policy := cfg.AuthorDeletePolicy
	if policy == "" {
		policy = config.AuthorDeleteProtect
	}
	return &Service{
		db:           cfg.Database,
		now:          clock,
		logger:       logger,
		pageSize:     pageSize,
		deletePolicy: policy,
	}, nil
}

// AuthorInput carries the editable author fields.
type AuthorInput struct {
	Name        string
	Surname     string
	YearOfBirth int
	Description string
}

func (in AuthorInput) validate() error {
	if strings.TrimSpace(in.Name) == "" || utf8.RuneCountInString(in.Name) > maxAuthorNameLength {
		return fmt.Errorf("%w: author name must be 1-%d characters", fault.ErrValidation, maxAuthorNameLength)
	}
	if strings.TrimSpace(in.Surname) == "" || utf8.RuneCountInString(in.Surname) > maxAuthorNameLength {
		return fmt.Errorf("%w: author surname must be 1-%d characters", fault.ErrValidation, maxAuthorNameLength)
	}
	if in.YearOfBirth <= 0 {
		return fmt.Errorf("%w: year of birth must be positive", fault.ErrValidation)
	}
	return nil
}

// CreateAuthor stores a new author record.
func (s *Service) CreateAuthor(ctx context.Context, input AuthorInput) (Author, error) {
	if err := input.validate(); err != nil {
		return Author{}, err
	}
	author := Author{
		Name:        strings.TrimSpace(input.Name),
		Surname:     strings.TrimSpace(input.Surname),
		YearOfBirth: input.YearOfBirth,
		Description: input.Description,
	}
	if err := s.db.WithContext(ctx).Create(&author).Error; err != nil {
		return Author{}, err
	}
	return author, nil
}

// UpdateAuthor overwrites the editable fields of an existing author.
func (s *Service) UpdateAuthor(ctx context.Context, authorID uint, input AuthorInput) (Author, error) {
	if err := input.validate(); err != nil {
		return Author{}, err
	}
	author, err := s.AuthorByID(ctx, authorID)
	if err != nil {
		return Author{}, err
	}
	author.Name = strings.TrimSpace(input.Name)
	author.Surname = strings.TrimSpace(input.Surname)
	author.YearOfBirth = input.YearOfBirth
	author.Description = input.Description
	if err := s.db.WithContext(ctx).Save(&author).Error; err != nil {
		return Author{}, err
	}
	return author, nil
}

// DeleteAuthor removes an author subject to the configured policy:
// protect refuses while books still reference the author, cascade
// removes those books (and through them comments, ratings and images).
func (s *Service) DeleteAuthor(ctx context.Context, authorID uint) error {
	if _, err := s.AuthorByID(ctx, authorID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bookCount int64
		if err := tx.Model(&Book{}).Where("author_id = ?", authorID).Count(&bookCount).Error; err != nil {
			return err
		}
		if bookCount > 0 && s.deletePolicy == config.AuthorDeleteProtect {
			return fmt.Errorf("%w: author %d still has %d books", fault.ErrConstraintViolation, authorID, bookCount)
		}
		return tx.Delete(&Author{}, authorID).Error
	})
}

// AuthorByID loads a single author.
func (s *Service) AuthorByID(ctx context.Context, authorID uint) (Author, error) {
	var author Author
	err := s.db.WithContext(ctx).Take(&author, authorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Author{}, fmt.Errorf("%w: author %d", fault.ErrNotFound, authorID)
	}
	if err != nil {
		return Author{}, err
	}
	return author, nil
}

// ListAuthors returns all authors ordered by surname.
func (s *Service) ListAuthors(ctx context.Context) ([]Author, error) {
	var authors []Author
	if err := s.db.WithContext(ctx).Order("surname ASC, name ASC").Find(&authors).Error; err != nil {
		return nil, err
	}
	return authors, nil
}

// BookInput carries the editable book fields.
type BookInput struct {
	Name        string
	AuthorID    uint
	Year        int
	Description string
}

func (s *Service) validateBookInput(in BookInput) error {
	if strings.TrimSpace(in.Name) == "" || utf8.RuneCountInString(in.Name) > maxBookNameLength {
		return fmt.Errorf("%w: book name must be 1-%d characters", fault.ErrValidation, maxBookNameLength)
	}
	if in.Year <= 0 || in.Year > s.now().Year()+1 {
		return fmt.Errorf("%w: publication year %d out of range", fault.ErrValidation, in.Year)
	}
	return nil
}

// CreateBook stores a new book after checking its author exists.
func (s *Service) CreateBook(ctx context.Context, input BookInput) (Book, error) {
	if err := s.validateBookInput(input); err != nil {
		return Book{}, err
	}
	if _, err := s.AuthorByID(ctx, input.AuthorID); err != nil {
		return Book{}, err
	}
	book := Book{
		Name:        strings.TrimSpace(input.Name),
		AuthorID:    input.AuthorID,
		Year:        input.Year,
		Description: input.Description,
	}
	if err := s.db.WithContext(ctx).Create(&book).Error; err != nil {
		return Book{}, err
	}
	s.logger.Info("book created", zap.Uint("book_id", book.ID), zap.String("name", book.Name))
	return s.BookByID(ctx, book.ID)
}

// UpdateBook overwrites the editable fields of an existing book.
func (s *Service) UpdateBook(ctx context.Context, bookID uint, input BookInput) (Book, error) {
	if err := s.validateBookInput(input); err != nil {
		return Book{}, err
	}
	book, err := s.BookByID(ctx, bookID)
	if err != nil {
		return Book{}, err
	}
	if _, err := s.AuthorByID(ctx, input.AuthorID); err != nil {
		return Book{}, err
	}
	book.Name = strings.TrimSpace(input.Name)
	book.AuthorID = input.AuthorID
	book.Year = input.Year
	book.Description = input.Description
	if err := s.db.WithContext(ctx).Omit("Author", "Images").Save(&book).Error; err != nil {
		return Book{}, err
	}
	return s.BookByID(ctx, bookID)
}

// DeleteBook removes a book; its comments, ratings and images are
// removed by foreign key cascade.
func (s *Service) DeleteBook(ctx context.Context, bookID uint) error {
	if _, err := s.BookByID(ctx, bookID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&Book{}, bookID).Error; err != nil {
		return err
	}
	s.logger.Info("book deleted", zap.Uint("book_id", bookID))
	return nil
}

// BookByID loads a book with its author and images preloaded.
func (s *Service) BookByID(ctx context.Context, bookID uint) (Book, error) {
	var book Book
	err := s.db.WithContext(ctx).Preload("Author").Preload("Images").Take(&book, bookID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Book{}, fmt.Errorf("%w: book %d", fault.ErrNotFound, bookID)
	}
	if err != nil {
		return Book{}, err
	}
	return book, nil
}

// BookPage is one page of the catalog listing.
type BookPage struct {
	Books    []Book
	Page     int
	PageSize int
	Total    int64
}

// ListBooks returns one page of books ordered by name. Pages start at 1.
func (s *Service) ListBooks(ctx context.Context, page int) (BookPage, error) {
	if page < 1 {
		page = 1
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&Book{}).Count(&total).Error; err != nil {
		return BookPage{}, err
	}
	var books []Book
	err := s.db.WithContext(ctx).
		Preload("Author").
		Preload("Images").
		Order("name ASC").
		Offset((page - 1) * s.pageSize).
		Limit(s.pageSize).
		Find(&books).Error
	if err != nil {
		return BookPage{}, err
	}
	return BookPage{Books: books, Page: page, PageSize: s.pageSize, Total: total}, nil
}

// Search matches books whose name, or whose author's name or surname,
// contains the query (case-insensitive).
func (s *Service) Search(ctx context.Context, query string) ([]Book, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	var books []Book
	err := s.db.WithContext(ctx).
		Joins("Author").
		Preload("Images").
		Where("LOWER(books.name) LIKE ? OR LOWER(\"Author\".name) LIKE ? OR LOWER(\"Author\".surname) LIKE ?",
			pattern, pattern, pattern).
		Order("books.name ASC").
		Find(&books).Error
	if err != nil {
		return nil, err
	}
	return books, nil
}

// AttachImage records an image attachment for a book. The stored file
// reference is derived from the book name and uploaded filename.
func (s *Service) AttachImage(ctx context.Context, bookID uint, filename string) (Image, error) {
	book, err := s.BookByID(ctx, bookID)
	if err != nil {
		return Image{}, err
	}
	if strings.TrimSpace(filename) == "" {
		return Image{}, fmt.Errorf("%w: image filename required", fault.ErrValidation)
	}
	image := Image{
		BookID:  book.ID,
		FileRef: NewImageRef(book.Name, filename),
	}
	if err := s.db.WithContext(ctx).Create(&image).Error; err != nil {
		return Image{}, err
	}
	return image, nil
}

// ImagesForBook lists a book's image attachments.
func (s *Service) ImagesForBook(ctx context.Context, bookID uint) ([]Image, error) {
	if _, err := s.BookByID(ctx, bookID); err != nil {
		return nil, err
	}
	var images []Image
	if err := s.db.WithContext(ctx).Where("book_id = ?", bookID).Order("id ASC").Find(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}
