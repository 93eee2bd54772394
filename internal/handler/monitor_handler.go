package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/luminedu/examgate-backend/internal/config"
	"github.com/luminedu/examgate-backend/internal/response"
	"github.com/luminedu/examgate-backend/internal/service"
)

const monitorWriteTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allow-list permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// MonitorHandler serves the proctor's operational view: a snapshot of silent
// attempts and a live stream of lifecycle events.
type MonitorHandler struct {
	heartbeatService *service.HeartbeatService
	rdb              *redis.Client
	defaultSilence   time.Duration
	log              zerolog.Logger
	upgrader         websocket.Upgrader
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(heartbeatService *service.HeartbeatService, rdb *redis.Client, defaultSilence time.Duration, log zerolog.Logger, allowedOrigins []string) *MonitorHandler {
	return &MonitorHandler{
		heartbeatService: heartbeatService,
		rdb:              rdb,
		defaultSilence:   defaultSilence,
		log:              log.With().Str("component", "monitor_handler").Logger(),
		upgrader:         buildUpgrader(allowedOrigins),
	}
}

// GetStaleAttempts godoc
// GET /api/v1/admin/monitor/stale-attempts?silence_seconds=90
// Lists drafts whose heartbeat has been silent longer than the threshold.
func (h *MonitorHandler) GetStaleAttempts(c *gin.Context) {
	silence := h.defaultSilence
	if raw := c.Query("silence_seconds"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			response.Fail(c, http.StatusBadRequest, response.ErrValidation)
			return
		}
		silence = time.Duration(secs) * time.Second
	}

	stale, err := h.heartbeatService.ListStale(c.Request.Context(), silence)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"silence_seconds": int(silence.Seconds()),
		"attempts":        stale,
	})
}

// StreamEvents godoc
// WS /api/v1/admin/monitor/stream?token=...
// Upgrades to WebSocket and relays attempt lifecycle events (finalized,
// crash-flagged) published on the monitor channel.
func (h *MonitorHandler) StreamEvents(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.rdb.Subscribe(c.Request.Context(), config.CacheKey.MonitorChannel())
	defer sub.Close()

	h.log.Info().Str("remote", c.ClientIP()).Msg("Monitor client connected")

	// Reader goroutine: the only purpose is noticing the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch := sub.Channel()
	for {
		select {
		case <-done:
			h.log.Debug().Msg("Monitor client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(monitorWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				h.log.Debug().Err(err).Msg("Monitor write failed, closing")
				return
			}
		}
	}
}
