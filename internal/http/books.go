package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/librarian/internal/entities"
)

type BooksController struct {
	books BookStore
	loans LoanReader
}

func NewBooksController(books BookStore, loans LoanReader) *BooksController {
	return &BooksController{books: books, loans: loans}
}

// BookResponse is a catalog entry with the number of copies currently out.
type BookResponse struct {
	*entities.Book
	OnLoan int64 `json:"on_loan"`
}

// ListBooks handles GET /api/books?q=&limit=&offset=
func (bc *BooksController) ListBooks(c *gin.Context) {
	limit, offset := parsePagination(c)
	items, total, err := bc.books.ListBooks(c.Request.Context(), c.Query("q"), limit, offset)
	if err != nil {
		respondInternalError(c, err, "list books")
		return
	}
	c.JSON(http.StatusOK, newPage(items, total, limit, offset))
}

// GetBook handles GET /api/books/:id
func (bc *BooksController) GetBook(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	book, err := bc.books.GetBookByID(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "get book")
		return
	}
	onLoan, err := bc.loans.CountOpenForBook(c.Request.Context(), book.ID)
	if err != nil {
		respondInternalError(c, err, "count open loans")
		return
	}
	c.JSON(http.StatusOK, BookResponse{Book: book, OnLoan: onLoan})
}

// GetStats handles GET /api/books/stats
func (bc *BooksController) GetStats(c *gin.Context) {
	titles, available, err := bc.books.CountBooks(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "count books")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"titles":           titles,
		"available_copies": available,
	})
}

type CreateBookRequest struct {
	Title           string `json:"title" binding:"required"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	Publisher       string `json:"publisher"`
	PublicationYear int    `json:"publication_year"`
	Copies          int    `json:"copies" binding:"gte=0"`
}

// CreateBook handles POST /api/books (elevated). All copies start available.
func (bc *BooksController) CreateBook(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "title is required and copies must not be negative")
		return
	}

	book := &entities.Book{
		Title:           req.Title,
		Author:          req.Author,
		ISBN:            req.ISBN,
		Publisher:       req.Publisher,
		PublicationYear: req.PublicationYear,
		TotalCopies:     req.Copies,
	}
	if err := bc.books.CreateBook(c.Request.Context(), book); err != nil {
		respondDomainError(c, err, "create book")
		return
	}
	respondCreated(c, book)
}

type AddCopiesRequest struct {
	Copies int `json:"copies" binding:"required,gt=0"`
}

// AddCopies handles POST /api/books/:id/copies (elevated).
func (bc *BooksController) AddCopies(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req AddCopiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "copies must be a positive number")
		return
	}

	book, err := bc.books.AddCopies(c.Request.Context(), id, req.Copies)
	if err != nil {
		respondDomainError(c, err, "add copies")
		return
	}
	c.JSON(http.StatusOK, book)
}
