package server

import (
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

// normalizeBase turns a configured mount prefix into "" or a clean "/a/b" path.
func normalizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	bp = path.Clean("/" + bp)
	if bp == "/" {
		return ""
	}
	return bp
}

// writeJSON renders v uncached; readings go stale after one interval.
func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Cache-Control", "no-store")
	c.JSON(code, v)
}
