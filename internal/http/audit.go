package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	auditrepo "github.com/mrlokans/librarian/internal/database/audit"
	"github.com/mrlokans/librarian/internal/entities"
)

type AuditController struct {
	reader AuditReader
}

func NewAuditController(reader AuditReader) *AuditController {
	return &AuditController{reader: reader}
}

// ListEvents handles GET /api/admin/audit?user_id=&event_type=&entity_type=&entity_id=
func (ac *AuditController) ListEvents(c *gin.Context) {
	limit, offset := parsePagination(c)
	userID, ok := parseOptionalQueryID(c, "user_id")
	if !ok {
		return
	}
	entityID, ok := parseOptionalQueryID(c, "entity_id")
	if !ok {
		return
	}

	events, total, err := ac.reader.GetEvents(auditrepo.Query{
		UserID:     userID,
		EventType:  entities.AuditEventType(c.Query("event_type")),
		EntityType: c.Query("entity_type"),
		EntityID:   entityID,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondInternalError(c, err, "list audit events")
		return
	}
	c.JSON(http.StatusOK, newPage(events, total, limit, offset))
}
