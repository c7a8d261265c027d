package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/librarian/internal/auth"
	"github.com/mrlokans/librarian/internal/circulation"
	"github.com/mrlokans/librarian/internal/database/loans"
	"github.com/mrlokans/librarian/internal/entities"
)

// CirculationController serves borrow and return endpoints.
type CirculationController struct {
	service Circulator
	loans   LoanReader
	now     func() time.Time
}

func NewCirculationController(service Circulator, loans LoanReader) *CirculationController {
	return &CirculationController{
		service: service,
		loans:   loans,
		now:     time.Now,
	}
}

type BorrowRequest struct {
	BookID uint `json:"book_id" binding:"required"`
}

// LoanResponse is a loan record as returned by the API.
type LoanResponse struct {
	*entities.LoanRecord
	Overdue bool `json:"overdue"`
}

func (cc *CirculationController) loanResponse(loan *entities.LoanRecord) LoanResponse {
	return LoanResponse{LoanRecord: loan, Overdue: loan.IsOverdue(cc.now().UTC())}
}

// Borrow handles POST /api/borrows
func (cc *CirculationController) Borrow(c *gin.Context) {
	var req BorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "book_id is required")
		return
	}

	loan, err := cc.service.Borrow(c.Request.Context(), auth.GetActor(c), req.BookID)
	if err != nil {
		respondDomainError(c, err, "borrow")
		return
	}
	respondCreated(c, cc.loanResponse(loan))
}

type ReturnBody struct {
	LoanID uint `json:"loan_id"`
	BookID uint `json:"book_id"`
	UserID uint `json:"user_id"`
}

// Return handles POST /api/returns. The loan is selected by loan_id, or by
// book_id as the oldest open loan of user_id (default: the caller).
func (cc *CirculationController) Return(c *gin.Context) {
	var body ReturnBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	if body.LoanID == 0 && body.BookID == 0 {
		respondBadRequest(c, "loan_id or book_id is required")
		return
	}

	receipt, err := cc.service.Return(c.Request.Context(), auth.GetActor(c), circulation.ReturnRequest{
		LoanID: body.LoanID,
		BookID: body.BookID,
		UserID: body.UserID,
	})
	if err != nil {
		respondDomainError(c, err, "return")
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// ListLoans handles GET /api/borrows. Members only see their own loans;
// elevated callers may filter by user_id and book_id.
func (cc *CirculationController) ListLoans(c *gin.Context) {
	actor := auth.GetActor(c)
	limit, offset := parsePagination(c)

	filter := loans.ListFilter{Limit: limit, Offset: offset}
	if actor.IsElevated() {
		userID, ok := parseOptionalQueryID(c, "user_id")
		if !ok {
			return
		}
		bookID, ok := parseOptionalQueryID(c, "book_id")
		if !ok {
			return
		}
		filter.UserID, filter.BookID = userID, bookID
	} else {
		filter.UserID = actor.UserID
	}

	switch status := entities.LoanStatus(c.Query("status")); status {
	case "":
	case entities.LoanStatusBorrowed, entities.LoanStatusReturned:
		filter.Status = status
	default:
		respondBadRequest(c, "status must be borrowed or returned")
		return
	}
	if c.Query("overdue") == "true" {
		now := cc.now().UTC()
		filter.OverdueAt = &now
	}

	items, total, err := cc.loans.ListLoans(c.Request.Context(), filter)
	if err != nil {
		respondInternalError(c, err, "list loans")
		return
	}

	out := make([]LoanResponse, 0, len(items))
	for i := range items {
		out = append(out, cc.loanResponse(&items[i]))
	}
	c.JSON(http.StatusOK, newPage(out, total, limit, offset))
}

// GetLoan handles GET /api/borrows/:id
func (cc *CirculationController) GetLoan(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	loan, err := cc.loans.GetLoanByID(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "get loan")
		return
	}

	actor := auth.GetActor(c)
	if !actor.IsElevated() && loan.UserID != actor.UserID {
		// Do not reveal other members' loans.
		respondNotFound(c, "loan")
		return
	}
	c.JSON(http.StatusOK, cc.loanResponse(loan))
}

// Stats handles GET /api/borrows/stats (elevated).
func (cc *CirculationController) Stats(c *gin.Context) {
	stats, err := cc.loans.GetStats(c.Request.Context(), cc.now().UTC())
	if err != nil {
		respondInternalError(c, err, "loan stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}
