package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Events 打开一条 SSE 推送流。同一用户再开一条会把旧流顶掉，
// 离线期间积压的消息在注册时已经整体刷进了通道。
func (h *Handler) Events(c *gin.Context) {
	uid64, err := strconv.ParseUint(c.Query("userId"), 10, 64)
	if err != nil || uid64 == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
		return
	}
	userID := uint(uid64)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch := h.reg.Open(userID)
	// 连接断开时同步注销，绝不往死通道里投递
	defer h.reg.Close(userID, ch)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-ch:
			if !ok {
				// 通道被新连接顶掉或被判死
				return false
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			return true
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
