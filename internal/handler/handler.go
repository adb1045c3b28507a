package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dismissal/internal/archive"
	"dismissal/internal/auth"
	"dismissal/internal/dailyreset"
	"dismissal/internal/logging"
	"dismissal/internal/notice"
	"dismissal/internal/pickup"
	"dismissal/internal/roster"
	"dismissal/internal/views"
)

// Archive is the day archive the handler reads from.
type Archive interface {
	LoadArchive(ctx context.Context, date string) (pickup.ArchiveSnapshot, bool, error)
}

// ArchiveLister is implemented by archives that can enumerate days.
type ArchiveLister interface {
	ListArchives(ctx context.Context, limit int) ([]archive.Summary, error)
}

// Deps are the components the HTTP surface drives.
type Deps struct {
	Roster    *roster.Loader
	Engine    *pickup.Engine
	Hub       *views.Hub
	Sessions  *views.Sessions
	Scheduler *dailyreset.Scheduler
	Archive   Archive
	Notices   *notice.Publisher
	// Feed is optional; device endpoints answer 503 without it.
	Feed *notice.Feed
	// Health probes reported by /healthz, keyed by dependency name.
	Health map[string]func(context.Context) bool
	Log    *zap.Logger
	Now    func() time.Time
}

// Auth configures device tokens.
type Auth struct {
	Issuer     string
	SigningKey string
	TokenTTL   time.Duration
}

type Handler struct {
	Deps
	auth Auth
}

func New(d Deps, a Auth) *Handler {
	d.Log = logging.OrNop(d.Log)
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{Deps: d, auth: a}
}

// Register mounts every route on r. actions wraps the mutating endpoints, e.g. with a rate limiter.
func (h *Handler) Register(r gin.IRouter, actions ...gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.GET("/roster", h.GetRoster)
	v1.GET("/stats", h.Stats)
	v1.GET("/admin", h.AdminView)
	v1.GET("/pickups/pending", h.PendingView)
	v1.GET("/pickups/released", h.ReleasedView)
	v1.GET("/stream", h.Stream)
	v1.GET("/archive/:date", h.GetArchive)
	v1.GET("/archives", h.ListArchives)

	act := v1.Group("", actions...)
	act.POST("/roster/refresh", h.RefreshRoster)
	act.POST("/pickups", h.MarkArrived)
	act.DELETE("/pickups/students/:student_id", h.Undo)
	act.POST("/pickups/:key/release", h.Release)
	act.POST("/system/reset", h.ForceReset)

	act.POST("/sessions", h.OpenSession)
	sess := act.Group("/sessions/:id", h.session)
	sess.DELETE("", h.CloseSession)
	sess.PUT("/search", h.SetSearch)
	sess.PUT("/cohort", h.SetCohort)
	sess.GET("/admin", h.SessionAdmin)
	sess.GET("/teacher", h.SessionTeacher)
	sess.GET("/released", h.SessionReleased)
	sess.POST("/release", h.RequestRelease)
	sess.POST("/release/confirm", h.ConfirmRelease)
	sess.DELETE("/release", h.CancelRelease)

	act.POST("/devices/register", h.RegisterDevice)
	authed := v1.Group("", auth.DeviceAuth(h.auth.SigningKey, h.auth.Issuer))
	authed.GET("/notices", h.RecentNotices)
	authed.DELETE("/devices/me", h.UnregisterDevice)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, probe := range h.Health {
		ok := probe(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Errors ----------

func statusFor(err error) int {
	switch {
	case errors.Is(err, pickup.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pickup.ErrAlreadyPending),
		errors.Is(err, pickup.ErrAlreadyReleased),
		errors.Is(err, views.ErrNoReleaseRequested):
		return http.StatusConflict
	case errors.Is(err, pickup.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, pickup.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail answers with the error status and its notice, and hands the notice to the worker.
func (h *Handler) fail(c *gin.Context, err error, extra gin.H) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	if n, ok := notice.For(err, h.Now()); ok {
		body["notice"] = n
		h.Notices.Publish(c.Request.Context(), n)
	}
	if status >= http.StatusInternalServerError {
		h.Log.Warn("action failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, body)
}

func (h *Handler) succeed(c *gin.Context, status int, n notice.Notice, body gin.H) {
	body["notice"] = n
	h.Notices.Publish(c.Request.Context(), n)
	c.JSON(status, body)
}
