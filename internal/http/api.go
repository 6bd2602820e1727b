// Package http exposes a read-only status API for operators. All
// mutations go through the Telegram surface.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"torrent-bot/internal/domain"
	"torrent-bot/internal/engine"
	"torrent-bot/internal/history"
	"torrent-bot/internal/registry"
)

// Handler wires HTTP routes to the registry and history store.
type Handler struct {
	registry *registry.Registry
	history  *history.Store
	engine   engine.Engine
}

func NewHandler(reg *registry.Registry, hist *history.Store, eng engine.Engine) *Handler {
	return &Handler{
		registry: reg,
		history:  hist,
		engine:   eng,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/downloads", h.listDownloads)
		api.GET("/history", h.listHistory)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

type downloadResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Requester    string    `json:"requester"`
	StartedAt    time.Time `json:"started_at"`
	State        string    `json:"state"`
	Progress     float64   `json:"progress"`
	DownloadRate int64     `json:"download_rate"`
	Peers        int       `json:"peers"`
}

type historyResponse struct {
	Name        string    `json:"name"`
	Requester   string    `json:"requester"`
	CompletedAt time.Time `json:"completed_at"`
	Status      string    `json:"status"`
}

func (h *Handler) listDownloads(c *gin.Context) {
	snapshot := h.registry.Snapshot()
	resp := make([]downloadResponse, 0, len(snapshot))
	for _, e := range snapshot {
		item := downloadResponse{
			ID:        e.ID,
			Name:      e.Task.DisplayName(),
			Requester: e.Task.Requester,
			StartedAt: e.Task.StartedAt,
			State:     domain.StateUnknown.Display(),
		}
		if st, err := h.engine.Status(e.ID); err == nil {
			if st.Name != "" {
				item.Name = st.Name
			}
			item.State = st.State.Display()
			item.Progress = st.Progress
			item.DownloadRate = st.DownloadRate
			item.Peers = st.Peers
		}
		resp = append(resp, item)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listHistory(c *gin.Context) {
	records := h.history.Recent(50)
	resp := make([]historyResponse, 0, len(records))
	for _, record := range records {
		resp = append(resp, historyResponse{
			Name:        record.Name,
			Requester:   record.Requester,
			CompletedAt: record.CompletedAt,
			Status:      string(record.Status),
		})
	}
	c.JSON(http.StatusOK, resp)
}
