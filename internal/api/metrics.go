package api

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"

	"dfs-lite/internal/master"

	"github.com/gin-gonic/gin"
)

type MetricsHandler struct {
	master *master.Master
}

func NewMetricsHandler(m *master.Master) *MetricsHandler {
	return &MetricsHandler{master: m}
}

type metric struct {
	name  string
	kind  string
	help  string
	value interface{}
}

func (h *MetricsHandler) Metrics(c *gin.Context) {
	stats, err := h.master.Stats()
	if err != nil {
		c.String(http.StatusInternalServerError, "# stats unavailable: %v\n", err)
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	ready := 0
	if h.master.Ready() {
		ready = 1
	}

	metrics := []metric{
		{"dfs_up", "gauge", "Master is up", 1},
		{"dfs_ready", "gauge", "Restart window is over", ready},
		{"dfs_uptime_seconds", "counter", "Master uptime in seconds", h.master.Uptime().Seconds()},
		{"dfs_nodes_live", "gauge", "Storage nodes with an open session", stats["live_nodes"]},
		{"dfs_nodes_known", "gauge", "Storage nodes ever registered", stats["node_count"]},
		{"dfs_space_total_bytes", "gauge", "Declared capacity of the live nodes", stats["total_space"]},
		{"dfs_space_available_bytes", "gauge", "Unassigned capacity of the live nodes", stats["space_available"]},
		{"dfs_files_total", "gauge", "Files in the metadata store", stats["total_files"]},
		{"dfs_files_bytes", "gauge", "Total size of stored files", stats["total_size"]},
		{"dfs_parts_total", "gauge", "File parts placed on nodes", stats["total_parts"]},
		{"dfs_parts_lost", "gauge", "File parts on lost nodes", stats["lost_parts"]},
		{"dfs_parts_lost_bytes", "gauge", "Size of the lost file parts", stats["lost_size"]},
		{"dfs_memory_alloc_bytes", "gauge", "Allocated memory in bytes", mem.Alloc},
		{"dfs_memory_sys_bytes", "gauge", "System memory in bytes", mem.Sys},
		{"dfs_goroutines", "gauge", "Number of goroutines", runtime.NumGoroutine()},
	}

	c.String(http.StatusOK, render(metrics))
}

// render writes metrics in the Prometheus text exposition format.
func render(metrics []metric) string {
	var b strings.Builder
	for _, m := range metrics {
		b.WriteString("# HELP " + m.name + " " + m.help + "\n")
		b.WriteString("# TYPE " + m.name + " " + m.kind + "\n")
		b.WriteString(m.name + " " + toString(m.value) + "\n\n")
	}
	return b.String()
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return "0"
	}
}
