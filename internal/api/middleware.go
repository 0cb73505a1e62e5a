package api

import (
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/misaka-danmu/danmu-server/pkg/logging"
)

// RequestLogger 记录接口请求；SSE 长连接只在 debug 下记录
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if strings.HasSuffix(path, "/events") && !logging.DebugEnabled() {
			return
		}
		if c.Writer.Status() >= 500 {
			log.Printf("API: %s %s -> %d (%s)", c.Request.Method, path, c.Writer.Status(), time.Since(start))
			return
		}
		logging.Debugf("API: %s %s -> %d (%s)", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
