package catalog

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Author is referenced by many books; a book cannot exist without one.
type Author struct {
	ID          uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string `gorm:"column:name;size:50;not null"`
	Surname     string `gorm:"column:surname;size:50;not null"`
	YearOfBirth int    `gorm:"column:year_of_birth;not null"`
	Description string `gorm:"column:description;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Author) TableName() string {
	return "authors"
}

// FullName renders the author as "Name Surname", trimmed when either
// part is missing.
func (a Author) FullName() string {
	return strings.TrimSpace(a.Name + " " + a.Surname)
}

// Book is the catalog entity visitors browse, rate and discuss.
type Book struct {
	ID          uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string `gorm:"column:name;size:100;not null;index"`
	AuthorID    uint   `gorm:"column:author_id;not null;index"`
	Author      Author `gorm:"constraint:OnDelete:CASCADE"`
	Year        int    `gorm:"column:year;not null"`
	Description string `gorm:"column:description;type:text;not null;default:''"`
	Images      []Image `gorm:"constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Book) TableName() string {
	return "books"
}

// Image is an attachment owned by a book. Only the stored file reference
// is kept here; byte storage is the upload layer's concern.
type Image struct {
	ID      uint   `gorm:"column:id;primaryKey;autoIncrement"`
	BookID  uint   `gorm:"column:book_id;not null;index"`
	Book    Book   `gorm:"constraint:OnDelete:CASCADE"`
	FileRef string `gorm:"column:file_ref;size:255;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Image) TableName() string {
	return "book_images"
}

// NewImageRef builds a stored file reference from the owning book's name
// and the uploaded filename: "<slug>-<uuid><ext>".
func NewImageRef(bookName, filename string) string {
	ext := ""
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		ext = strings.ToLower(filename[idx:])
	}
	return slugify(bookName) + "-" + uuid.NewString() + ext
}

func slugify(value string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(value) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
