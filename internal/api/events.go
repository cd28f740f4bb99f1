package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type exportProgressEvent struct {
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// ExportEvents 任务进度（SSE）。先回放当前任务状态，
// 运行中的任务持续推送进度，终态任务立即收尾。
// GET /api/exports/:id/events
func (h *Handler) ExportEvents(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return
	}

	send := func(event exportProgressEvent) {
		b, err := json.Marshal(event)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", b)
		flusher.Flush()
	}

	send(exportProgressEvent{
		Type:      "state",
		Message:   "当前任务状态",
		Data:      job,
		Timestamp: time.Now(),
	})

	events, cancel := h.svc.Subscribe(job.ID)
	defer cancel()

	for {
		select {
		case ev, open := <-events:
			if !open {
				final, found, err := h.svc.Store().Load(c.Request.Context(), job.ID)
				if err == nil && found {
					send(exportProgressEvent{
						Type:      "done",
						Message:   "任务结束",
						Data:      final,
						Timestamp: time.Now(),
					})
				}
				return
			}
			send(exportProgressEvent{
				Type:      "progress",
				Message:   ev.Stage,
				Data:      map[string]any{"percent": ev.Percent},
				Timestamp: time.Now(),
			})
		case <-c.Request.Context().Done():
			return
		}
	}
}
