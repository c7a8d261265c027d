package http

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/librarian/internal/auth"
	"github.com/mrlokans/librarian/internal/reconcile"
	"github.com/mrlokans/librarian/internal/scheduler"
	"github.com/mrlokans/librarian/internal/tasks"
)

// ReconciliationController exposes operator controls for the overdue and
// due-soon sweep.
type ReconciliationController struct {
	trigger ReconciliationTrigger
	runs    RunHistory
	queue   TaskQueue
}

func NewReconciliationController(trigger ReconciliationTrigger, runs RunHistory, queue TaskQueue) *ReconciliationController {
	return &ReconciliationController{trigger: trigger, runs: runs, queue: queue}
}

// Run handles POST /api/admin/reconciliation/run. The batch runs
// synchronously and its report is returned even when some records failed.
func (rc *ReconciliationController) Run(c *gin.Context) {
	if rc.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "reconciliation scheduler is disabled", Code: "scheduler_disabled"})
		return
	}

	log.Printf("Manual reconciliation requested by %s", auth.GetUsername(c))
	report, err := rc.trigger.RunNow(c.Request.Context())
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "already_running"})
		return
	}
	if err != nil {
		respondInternalError(c, err, "manual reconciliation")
		return
	}
	c.JSON(http.StatusOK, reportResponse(report))
}

// Enqueue handles POST /api/admin/reconciliation/enqueue.
func (rc *ReconciliationController) Enqueue(c *gin.Context) {
	if rc.queue == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "task queue is disabled", Code: "tasks_disabled"})
		return
	}

	id, err := rc.queue.Enqueue(c.Request.Context(), tasks.ReconcileTask{RequestedBy: auth.GetUserID(c)})
	if err != nil {
		respondInternalError(c, err, "enqueue reconciliation")
		return
	}
	respondAccepted(c, "reconciliation queued", gin.H{"task_id": id})
}

type UpdateScheduleRequest struct {
	Schedule string `json:"schedule" binding:"required"`
}

// UpdateSchedule handles PUT /api/admin/reconciliation/schedule. The new
// schedule lasts until the process restarts.
func (rc *ReconciliationController) UpdateSchedule(c *gin.Context) {
	if rc.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "reconciliation scheduler is disabled", Code: "scheduler_disabled"})
		return
	}
	var req UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "schedule is required")
		return
	}
	if err := rc.trigger.Reschedule(req.Schedule); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	log.Printf("Reconciliation schedule changed to %q by %s", req.Schedule, auth.GetUsername(c))
	c.JSON(http.StatusOK, gin.H{
		"schedule":             rc.trigger.Schedule(),
		"schedule_description": scheduler.GetCronDescription(rc.trigger.Schedule()),
		"next_run":             rc.trigger.GetNextRunTime(),
	})
}

// ListRuns handles GET /api/admin/reconciliation/runs
func (rc *ReconciliationController) ListRuns(c *gin.Context) {
	limit, offset := parsePagination(c)
	items, total, err := rc.runs.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		respondInternalError(c, err, "list runs")
		return
	}
	c.JSON(http.StatusOK, newPage(items, total, limit, offset))
}

// GetRun handles GET /api/admin/reconciliation/runs/:run_id
func (rc *ReconciliationController) GetRun(c *gin.Context) {
	run, err := rc.runs.GetRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		respondDomainError(c, err, "get run")
		return
	}
	c.JSON(http.StatusOK, run)
}

// Status handles GET /api/admin/reconciliation/status
func (rc *ReconciliationController) Status(c *gin.Context) {
	resp := gin.H{"scheduler_enabled": rc.trigger != nil}

	if rc.trigger != nil {
		resp["scheduler_running"] = rc.trigger.IsRunning()
		resp["reconciling"] = rc.trigger.IsReconciling()
		resp["schedule"] = rc.trigger.Schedule()
		resp["schedule_description"] = scheduler.GetCronDescription(rc.trigger.Schedule())
		if next := rc.trigger.GetNextRunTime(); next != nil {
			resp["next_run"] = next
		}
		if last := rc.trigger.LastReport(); last != nil {
			resp["last_report"] = reportResponse(last)
		}
	}

	latest, err := rc.runs.LatestRun(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "latest run")
		return
	}
	if latest != nil {
		resp["latest_run"] = latest
	}
	c.JSON(http.StatusOK, resp)
}

// ReportResponse is a report plus its derived status and failure summary.
type ReportResponse struct {
	*reconcile.Report
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func reportResponse(r *reconcile.Report) ReportResponse {
	resp := ReportResponse{Report: r, Status: string(r.Status())}
	if err := r.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}
