package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	core "github.com/forgefleet/orchestrator/internal/core/service"
	"github.com/forgefleet/orchestrator/internal/domain/event"
	"github.com/forgefleet/orchestrator/internal/orchestrator"
	"github.com/forgefleet/orchestrator/pkg/logger"
)

// handlers binds every registered route to the single Orchestrator Facade.
// None of these methods hold any state of their own; they only translate
// HTTP request/response into Facade calls.
type handlers struct {
	orch *orchestrator.Orchestrator
	log  *logger.Logger
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) listSubjects(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	subjects, rs, err := h.orch.ListSubjectsWithState(ctx)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	views := make([]subjectView, 0, len(subjects))
	for _, sub := range subjects {
		views = append(views, newSubjectView(sub, rs[sub.Name]))
	}
	writeJSON(c, http.StatusOK, views)
}

func (h *handlers) getSubject(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	name := c.Param("name")
	sub, rs, err := h.orch.Stats(ctx, name)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, newSubjectView(sub, rs))
}

func (h *handlers) startSubject(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	if err := h.orch.Start(ctx, c.Param("name")); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{"ok": true})
}

func (h *handlers) stopSubject(c *gin.Context) {
	h.stop(c, false)
}

func (h *handlers) forceStopSubject(c *gin.Context) {
	h.stop(c, true)
}

func (h *handlers) stop(c *gin.Context, force bool) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	if err := h.orch.Stop(ctx, c.Param("name"), force); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) resetStats(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	if err := h.orch.ResetStats(ctx, c.Param("name")); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) rotateKey(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	if err := h.orch.RotateKey(ctx, c.Param("name")); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) releaseKey(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	if err := h.orch.ReleaseKey(ctx, c.Param("name")); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) setScheduleEnabled(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	var req scheduleEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := h.orch.SetScheduleEnabled(ctx, c.Param("name"), req.Enabled); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) reorder(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := h.orch.Reorder(ctx, c.Param("name"), req.Index); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) rename(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := h.orch.Rename(ctx, c.Param("name"), req.NewName); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) showWindow(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	if err := h.orch.ShowWindow(ctx, c.Param("name")); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) hideWindow(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	if err := h.orch.HideWindow(ctx, c.Param("name")); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) sendMessage(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := h.orch.SendMessage(ctx, c.Param("name"), req.Type, req.Text); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) holdKey(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	if err := h.orch.HoldKey(ctx, c.Param("pool"), c.Param("key")); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) unholdKey(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	if err := h.orch.UnholdKey(ctx, c.Param("pool"), c.Param("key")); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) broadcastMessage(c *gin.Context) {
	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	h.orch.BroadcastMessage(ctx, req.Type, req.Text)
	writeJSON(c, http.StatusAccepted, gin.H{"ok": true})
}

// recentLogs returns the Event Bus's retained LogLine ring, independent of
// any subscriber's join time, useful for a dashboard's initial paint
// before it opens the WebSocket stream.
func (h *handlers) recentLogs(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	limit = core.ClampLimit(limit, core.DefaultLogLimit, core.MaxLogLimit)
	lines := h.orch.RecentLogLines(limit)
	out := make([]logLineView, 0, len(lines))
	for _, e := range lines {
		out = append(out, newLogLineView(e))
	}
	writeJSON(c, http.StatusOK, out)
}

type logLineView struct {
	Sequence uint64 `json:"sequence"`
	Source   string `json:"source"`
	Content  string `json:"content"`
	Color    string `json:"color,omitempty"`
}

func newLogLineView(e event.Event) logLineView {
	return logLineView{Sequence: e.Sequence, Source: e.Source, Content: e.Content, Color: e.Color}
}
