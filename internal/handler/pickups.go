package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dismissal/internal/notice"
	"dismissal/internal/pickup"
	"dismissal/internal/roster"
	"dismissal/internal/views"
)

// ---------- Roster ----------

func (h *Handler) GetRoster(c *gin.Context) {
	students := h.Roster.Students()
	c.JSON(http.StatusOK, gin.H{"students": students, "cohorts": roster.Cohorts(students)})
}

// RefreshRoster drops the cached roster and reloads it from the source.
func (h *Handler) RefreshRoster(c *gin.Context) {
	students, err := h.Roster.Refresh(c.Request.Context())
	body := gin.H{"students": len(students), "degraded": err != nil}
	if err != nil {
		if n, ok := notice.For(err, h.Now()); ok {
			body["notice"] = n
			h.Notices.Publish(c.Request.Context(), n)
		}
	}
	c.JSON(http.StatusOK, body)
}

// ---------- Lifecycle ----------

type markRequest struct {
	StudentID string `json:"student_id" binding:"required"`
}

// MarkArrived records that a parent arrived for a roster student.
func (h *Handler) MarkArrived(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	student, ok := h.Roster.Lookup(req.StudentID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown student"})
		return
	}

	p, err := h.Engine.MarkArrived(c.Request.Context(), student)
	if err != nil {
		var extra gin.H
		var dup *pickup.DuplicateError
		if errors.As(err, &dup) && dup.Existing.Key != "" {
			extra = gin.H{"pickup": dup.Existing, "waitMinutes": views.WaitMinutes(dup.Existing.Timestamp, h.Now())}
		}
		h.fail(c, err, extra)
		return
	}
	h.succeed(c, http.StatusCreated, notice.Marked(p), gin.H{"pickup": p})
}

// Undo withdraws a student's waiting pickup. Student ids contain spaces, so
// clients must path-escape them.
func (h *Handler) Undo(c *gin.Context) {
	student, ok := h.Roster.Lookup(c.Param("student_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown student"})
		return
	}
	p, err := h.Engine.Undo(c.Request.Context(), student)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	h.succeed(c, http.StatusOK, notice.Undone(p, h.Now()), gin.H{"pickup": p})
}

// Release hands a waiting student over without the session confirmation step.
func (h *Handler) Release(c *gin.Context) {
	r, err := h.Engine.Release(c.Request.Context(), c.Param("key"))
	h.released(c, r, err)
}

func (h *Handler) released(c *gin.Context, r pickup.ReleasedPickup, err error) {
	if err != nil {
		var extra gin.H
		if r.Key != "" {
			// Released but the pending copy is still there; a retry finishes the move.
			extra = gin.H{"released": r}
		}
		h.fail(c, err, extra)
		return
	}
	h.succeed(c, http.StatusOK, notice.Released(r), gin.H{"released": r})
}

// ForceReset archives and clears today's collections immediately. The
// scheduler's hooks publish the reset and reset-failure notices.
func (h *Handler) ForceReset(c *gin.Context) {
	if err := h.Scheduler.Force(c.Request.Context()); err != nil {
		h.Log.Warn("forced reset failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "notice": notice.ResetFailed(h.Now())})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset", "notice": notice.Reset(h.Now())})
}

// ---------- Archive ----------

func (h *Handler) GetArchive(c *gin.Context) {
	date := c.Param("date")
	if _, err := time.Parse(pickup.DateLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	snap, ok, err := h.Archive.LoadArchive(c.Request.Context(), date)
	if err != nil {
		h.fail(c, &pickup.StoreError{Op: "load archive", Err: err}, nil)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no archive for date"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListArchives(c *gin.Context) {
	lister, ok := h.Archive.(ArchiveLister)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "archive backend cannot list days"})
		return
	}
	days, err := lister.ListArchives(c.Request.Context(), queryInt(c, "limit", 30))
	if err != nil {
		h.fail(c, &pickup.StoreError{Op: "list archives", Err: err}, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archives": days})
}
