package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/readingroom/catalog/internal/catalog"
)

type bookResponsePayload struct {
	ID          uint     `json:"id"`
	Name        string   `json:"name"`
	AuthorID    uint     `json:"author_id"`
	Author      string   `json:"author"`
	Year        int      `json:"year"`
	Description string   `json:"description"`
	RatingSum   float64  `json:"rating_sum"`
	Images      []string `json:"images"`
}

type bookListResponsePayload struct {
	Books    []bookResponsePayload `json:"books"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Total    int64                 `json:"total"`
}

type authorResponsePayload struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Surname     string `json:"surname"`
	YearOfBirth int    `json:"year_of_birth"`
	Description string `json:"description"`
}

type bookRequestPayload struct {
	Name        string `json:"name"`
	AuthorID    uint   `json:"author_id"`
	Year        int    `json:"year"`
	Description string `json:"description"`
}

type authorRequestPayload struct {
	Name        string `json:"name"`
	Surname     string `json:"surname"`
	YearOfBirth int    `json:"year_of_birth"`
	Description string `json:"description"`
}

func (h *httpHandler) bookPayload(c *gin.Context, book catalog.Book) bookResponsePayload {
	sum, err := h.ratings.SumRating(c.Request.Context(), book.ID)
	if err != nil {
		sum = 0
	}
	images := make([]string, 0, len(book.Images))
	for _, image := range book.Images {
		images = append(images, image.FileRef)
	}
	return bookResponsePayload{
		ID:          book.ID,
		Name:        book.Name,
		AuthorID:    book.AuthorID,
		Author:      book.Author.FullName(),
		Year:        book.Year,
		Description: book.Description,
		RatingSum:   sum,
		Images:      images,
	}
}

func (h *httpHandler) handleListBooks(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	result, err := h.catalog.ListBooks(c.Request.Context(), page)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := bookListResponsePayload{
		Books:    make([]bookResponsePayload, 0, len(result.Books)),
		Page:     result.Page,
		PageSize: result.PageSize,
		Total:    result.Total,
	}
	for _, book := range result.Books {
		payload.Books = append(payload.Books, h.bookPayload(c, book))
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleBookDetails(c *gin.Context) {
	bookID, ok := parseID(c)
	if !ok {
		return
	}
	book, err := h.catalog.BookByID(c.Request.Context(), bookID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	tree, err := h.comments.TreeForBook(c.Request.Context(), bookID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"book":     h.bookPayload(c, book),
		"comments": tree,
	})
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	query := c.Query("do")
	books, err := h.catalog.Search(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]bookResponsePayload, 0, len(books))
	for _, book := range books {
		payload = append(payload, h.bookPayload(c, book))
	}
	c.JSON(http.StatusOK, gin.H{"books": payload})
}

func (h *httpHandler) handleCreateBook(c *gin.Context) {
	var request bookRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	book, err := h.catalog.CreateBook(c.Request.Context(), catalog.BookInput{
		Name:        request.Name,
		AuthorID:    request.AuthorID,
		Year:        request.Year,
		Description: request.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.bookPayload(c, book))
}

func (h *httpHandler) handleUpdateBook(c *gin.Context) {
	bookID, ok := parseID(c)
	if !ok {
		return
	}
	var request bookRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	book, err := h.catalog.UpdateBook(c.Request.Context(), bookID, catalog.BookInput{
		Name:        request.Name,
		AuthorID:    request.AuthorID,
		Year:        request.Year,
		Description: request.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.bookPayload(c, book))
}

func (h *httpHandler) handleDeleteBook(c *gin.Context) {
	bookID, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteBook(c.Request.Context(), bookID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type imageRequestPayload struct {
	Filename string `json:"filename"`
}

func (h *httpHandler) handleAttachImage(c *gin.Context) {
	bookID, ok := parseID(c)
	if !ok {
		return
	}
	var request imageRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	image, err := h.catalog.AttachImage(c.Request.Context(), bookID, request.Filename)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": image.ID, "file_ref": image.FileRef})
}

func (h *httpHandler) handleListAuthors(c *gin.Context) {
	authors, err := h.catalog.ListAuthors(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]authorResponsePayload, 0, len(authors))
	for _, author := range authors {
		payload = append(payload, authorResponsePayload{
			ID:          author.ID,
			Name:        author.Name,
			Surname:     author.Surname,
			YearOfBirth: author.YearOfBirth,
			Description: author.Description,
		})
	}
	c.JSON(http.StatusOK, gin.H{"authors": payload})
}

func (h *httpHandler) handleAuthorDetails(c *gin.Context) {
	authorID, ok := parseID(c)
	if !ok {
		return
	}
	author, err := h.catalog.AuthorByID(c.Request.Context(), authorID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, authorResponsePayload{
		ID:          author.ID,
		Name:        author.Name,
		Surname:     author.Surname,
		YearOfBirth: author.YearOfBirth,
		Description: author.Description,
	})
}

func (h *httpHandler) handleCreateAuthor(c *gin.Context) {
	var request authorRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	author, err := h.catalog.CreateAuthor(c.Request.Context(), catalog.AuthorInput{
		Name:        request.Name,
		Surname:     request.Surname,
		YearOfBirth: request.YearOfBirth,
		Description: request.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, authorResponsePayload{
		ID:          author.ID,
		Name:        author.Name,
		Surname:     author.Surname,
		YearOfBirth: author.YearOfBirth,
		Description: author.Description,
	})
}

func (h *httpHandler) handleUpdateAuthor(c *gin.Context) {
	authorID, ok := parseID(c)
	if !ok {
		return
	}
	var request authorRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	author, err := h.catalog.UpdateAuthor(c.Request.Context(), authorID, catalog.AuthorInput{
		Name:        request.Name,
		Surname:     request.Surname,
		YearOfBirth: request.YearOfBirth,
		Description: request.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, authorResponsePayload{
		ID:          author.ID,
		Name:        author.Name,
		Surname:     author.Surname,
		YearOfBirth: author.YearOfBirth,
		Description: author.Description,
	})
}

func (h *httpHandler) handleDeleteAuthor(c *gin.Context) {
	authorID, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteAuthor(c.Request.Context(), authorID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
