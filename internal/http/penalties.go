package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/librarian/internal/auth"
	"github.com/mrlokans/librarian/internal/circulation"
	"github.com/mrlokans/librarian/internal/database/penalties"
	"github.com/mrlokans/librarian/internal/entities"
)

type PenaltiesController struct {
	penalties PenaltyStore
	auditor   PenaltyAuditor
}

func NewPenaltiesController(store PenaltyStore, auditor PenaltyAuditor) *PenaltiesController {
	return &PenaltiesController{penalties: store, auditor: auditor}
}

// ListPenalties handles GET /api/penalties. Members see their own penalties
// and their outstanding balance.
func (pc *PenaltiesController) ListPenalties(c *gin.Context) {
	actor := auth.GetActor(c)
	limit, offset := parsePagination(c)

	filter := penalties.ListFilter{Limit: limit, Offset: offset, Reason: c.Query("reason")}
	if actor.IsElevated() {
		userID, ok := parseOptionalQueryID(c, "user_id")
		if !ok {
			return
		}
		filter.UserID = userID
	} else {
		filter.UserID = actor.UserID
	}
	loanID, ok := parseOptionalQueryID(c, "loan_id")
	if !ok {
		return
	}
	filter.LoanID = loanID

	if s := entities.PenaltyStatus(c.Query("status")); s != "" {
		if !s.IsValid() {
			respondBadRequest(c, "invalid status")
			return
		}
		filter.Status = s
	}

	items, total, err := pc.penalties.ListPenalties(c.Request.Context(), filter)
	if err != nil {
		respondInternalError(c, err, "list penalties")
		return
	}

	resp := gin.H{"page": newPage(items, total, limit, offset)}
	if filter.UserID != 0 {
		count, amount, err := pc.penalties.OutstandingForUser(c.Request.Context(), filter.UserID)
		if err != nil {
			respondInternalError(c, err, "outstanding penalties")
			return
		}
		resp["outstanding"] = gin.H{"count": count, "amount": amount}
	}
	c.JSON(http.StatusOK, resp)
}

type CreatePenaltyRequest struct {
	UserID       uint   `json:"user_id" binding:"required"`
	LoanRecordID *uint  `json:"loan_record_id"`
	Amount       int64  `json:"amount" binding:"required"`
	Reason       string `json:"reason" binding:"required"`
}

// CreatePenalty handles POST /api/penalties (elevated). The member is
// notified in the same transaction.
func (pc *PenaltiesController) CreatePenalty(c *gin.Context) {
	var req CreatePenaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "user_id, amount and reason are required")
		return
	}

	penalty := &entities.Penalty{
		UserID:       req.UserID,
		LoanRecordID: req.LoanRecordID,
		Amount:       req.Amount,
		Reason:       req.Reason,
	}
	notice := &entities.Notification{
		Title:   "New penalty",
		Message: fmt.Sprintf("A penalty of %d has been issued: %s.", req.Amount, req.Reason),
		Type:    entities.NotificationTypeSystem,
	}

	err := pc.penalties.CreatePenalty(c.Request.Context(), penalty, notice)
	pc.audit(auth.GetUserID(c), "create", penalty, err)
	if err != nil {
		respondDomainError(c, err, "create penalty")
		return
	}
	respondCreated(c, penalty)
}

type UpdatePenaltyRequest struct {
	Status entities.PenaltyStatus `json:"status" binding:"required"`
}

// UpdatePenaltyStatus handles PUT /api/penalties/:id. The owner may pay;
// elevated callers may pay or cancel. Terminal penalties never change.
func (pc *PenaltiesController) UpdatePenaltyStatus(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req UpdatePenaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "status is required")
		return
	}
	if req.Status != entities.PenaltyStatusPaid && req.Status != entities.PenaltyStatusCancelled {
		respondBadRequest(c, "status must be paid or cancelled")
		return
	}

	actor := auth.GetActor(c)
	authorize := func(p *entities.Penalty) error {
		if actor.IsElevated() {
			return nil
		}
		if p.UserID != actor.UserID || req.Status != entities.PenaltyStatusPaid {
			return circulation.ErrNotAuthorized
		}
		return nil
	}

	penalty, err := pc.penalties.UpdateStatus(c.Request.Context(), id, req.Status, authorize)
	logged := penalty
	if logged == nil {
		logged = &entities.Penalty{ID: id, Status: req.Status}
	}
	pc.audit(actor.UserID, string(req.Status), logged, err)
	if err != nil {
		respondDomainError(c, err, "update penalty")
		return
	}
	c.JSON(http.StatusOK, penalty)
}

func (pc *PenaltiesController) audit(actorID uint, action string, p *entities.Penalty, err error) {
	if pc.auditor != nil {
		pc.auditor.LogPenalty(actorID, action, p, err)
	}
}
