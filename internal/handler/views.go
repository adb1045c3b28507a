package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dismissal/internal/pickup"
	"dismissal/internal/views"
)

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// ---------- Projections ----------

func (h *Handler) AdminView(c *gin.Context) {
	c.JSON(http.StatusOK, h.adminView(c.Query("search")))
}

func (h *Handler) PendingView(c *gin.Context) {
	c.JSON(http.StatusOK, h.teacherView(c.Query("cohort")))
}

func (h *Handler) ReleasedView(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"released": views.Released(h.Hub.Released())})
}

// Stats reports live counts.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"students": len(h.Roster.Students()),
		"pending":  len(h.Hub.Pending()),
		"released": len(h.Hub.Released()),
		"sessions": h.Sessions.Len(),
	})
}

func (h *Handler) adminView(search string) views.AdminView {
	return views.Admin(h.Roster.Students(), h.Engine.Statuses(), h.Hub.Pending(), search)
}

func (h *Handler) teacherView(cohort string) views.TeacherView {
	return views.Teacher(h.Roster.Students(), h.Hub.Pending(), cohort, h.Now())
}

// Stream pushes a fresh projection as a server-sent event after every store
// change. view selects admin, teacher or released; a session id applies that
// session's search and cohort filter.
func (h *Handler) Stream(c *gin.Context) {
	view := c.DefaultQuery("view", "teacher")
	var sess *views.Session
	if id := c.Query("session"); id != "" {
		s, ok := h.Sessions.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		sess = s
	}
	project := func() any {
		switch view {
		case "admin":
			if sess != nil {
				return sess.Admin()
			}
			return h.adminView(c.Query("search"))
		case "released":
			return gin.H{"released": views.Released(h.Hub.Released())}
		}
		if sess != nil {
			return sess.Teacher()
		}
		return h.teacherView(c.Query("cohort"))
	}

	updates, unsubscribe := h.Hub.Subscribe()
	defer unsubscribe()
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	c.SSEvent(view, project())
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case collection := <-updates:
			if view == "released" && collection != pickup.CollectionReleased {
				return true
			}
			c.SSEvent(view, project())
		case <-keepalive.C:
			c.SSEvent("ping", h.Now().Unix())
		}
		return true
	})
}

// ---------- Sessions ----------

func (h *Handler) session(c *gin.Context) {
	s, ok := h.Sessions.Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	c.Set("session", s)
	c.Next()
}

func sessionFrom(c *gin.Context) *views.Session {
	return c.MustGet("session").(*views.Session)
}

func (h *Handler) OpenSession(c *gin.Context) {
	s := h.Sessions.Open()
	c.JSON(http.StatusCreated, gin.H{"id": s.ID, "cohort": s.Cohort()})
}

func (h *Handler) CloseSession(c *gin.Context) {
	h.Sessions.Close(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *Handler) SetSearch(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessionFrom(c).SetSearch(req.Text)
	c.Status(http.StatusAccepted)
}

func (h *Handler) SetCohort(c *gin.Context) {
	var req struct {
		Cohort string `json:"cohort"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := sessionFrom(c)
	s.FilterByCohort(req.Cohort)
	c.JSON(http.StatusOK, s.Teacher())
}

func (h *Handler) SessionAdmin(c *gin.Context) {
	c.JSON(http.StatusOK, sessionFrom(c).Admin())
}

func (h *Handler) SessionTeacher(c *gin.Context) {
	c.JSON(http.StatusOK, sessionFrom(c).Teacher())
}

func (h *Handler) SessionReleased(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"released": sessionFrom(c).Released()})
}

// RequestRelease stages a pickup and returns what the teacher must confirm.
func (h *Handler) RequestRelease(c *gin.Context) {
	var req struct {
		Key string `json:"key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	candidate, err := sessionFrom(c).RequestRelease(req.Key)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirm": candidate})
}

func (h *Handler) ConfirmRelease(c *gin.Context) {
	r, err := sessionFrom(c).ConfirmRelease(c.Request.Context())
	h.released(c, r, err)
}

func (h *Handler) CancelRelease(c *gin.Context) {
	sessionFrom(c).CancelRelease()
	c.Status(http.StatusNoContent)
}
