package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"statuswatch/internal/events"
	"statuswatch/internal/logger"
)

// HeartbeatInterval SSE 心跳间隔
const HeartbeatInterval = 15 * time.Second

// StreamEvents 以 SSE 推送实时事件
// GET /api/events/stream?name=xxx（name 可选，用于只订阅单个监测项）
//
// 格式：
//
//	event: {type}
//	data: {json}
//
// 每 15 秒发送一次心跳注释 ": ping"
func (h *Handler) StreamEvents(c *gin.Context) {
	filter := c.Query("name")
	if filter != "" {
		if _, ok := h.engine.Descriptor(filter); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("监测项 %q 不存在", filter)})
			return
		}
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	sub := h.query.Subscribe()
	defer sub.Unsubscribe()

	ctx := c.Request.Context()
	log := logger.FromContext(ctx, "api")
	log.Debug("SSE 订阅已建立", "filter", filter)

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case env, ok := <-sub.C:
			if !ok {
				return
			}
			if filter != "" && env.Name != filter {
				continue
			}
			if err := writeSSEEvent(w, env); err != nil {
				log.Debug("SSE 写入失败，断开连接", "error", err)
				return
			}
			w.Flush()

		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			w.Flush()
		}
	}
}

// writeSSEEvent 写出一条 SSE 事件
func writeSSEEvent(w io.Writer, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, data)
	return err
}
