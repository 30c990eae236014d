package http

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// HealthHandler handles GET /health.
func HealthHandler(c *gin.Context) {
	OK(c, gin.H{"status": "ok"})
}

// StatusHandler returns the GET /status handler: runtime information and a
// summary of the managed segments.
func StatusHandler(mgr Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		st := mgr.Status()
		states := make(map[string]string, len(st.Segments))
		for _, s := range st.Segments {
			states[s.Class+"/"+s.DataSource] = s.State
		}

		OK(c, gin.H{
			"uptime":      time.Since(startTime).String(),
			"goroutines":  runtime.NumGoroutine(),
			"go_version":  runtime.Version(),
			"alloc_bytes": mem.Alloc,
			"running":     st.Running,
			"generation":  st.Generation,
			"segments":    states,
		})
	}
}
