package api

import (
	"encoding/json"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/misaka-danmu/danmu-server/internal/event"
)

// TaskEventsHandler 推送任务与媒体库变更，仅用于观察，不接受任何控制指令
func (h *Handler) TaskEventsHandler(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientChan := make(chan event.Event, 32)

	bridgeHandler := func(e event.Event) {
		// 非阻塞发送，避免慢客户端阻塞总线
		select {
		case clientChan <- e:
		default:
		}
	}

	topics := []event.EventType{
		event.EventTaskUpdated,
		event.EventLibraryChanged,
	}
	subIDs := make(map[event.EventType]string, len(topics))
	for _, t := range topics {
		subIDs[t] = h.Bus.Subscribe(t, bridgeHandler)
	}
	defer func() {
		for t, id := range subIDs {
			h.Bus.Unsubscribe(t, id)
		}
		log.Println("SSE Client disconnected")
	}()

	c.SSEvent("message", "connected")
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case evt := <-clientChan:
			data, err := json.Marshal(evt.Payload)
			if err != nil {
				log.Printf("SSE JSON Marshal error: %v", err)
				continue
			}
			// 事件名即为 Topic
			c.SSEvent(string(evt.Type), string(data))
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}
