package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/lattice-iot/gatewaylink/internal/dbstore"
	"github.com/lattice-iot/gatewaylink/internal/mqttgw"
)

type HealthResponse struct {
	Status string       `json:"status"`
	Uptime int64        `json:"uptime"`
	DB     string       `json:"db"`
	MQTT   string       `json:"mqtt"`
	Memory MemoryStatus `json:"memory"`
}

type MemoryStatus struct {
	AllocBytes      uint64 `json:"allocBytes"`
	TotalAllocBytes uint64 `json:"totalAllocBytes"`
	SysBytes        uint64 `json:"sysBytes"`
	NumGC           uint32 `json:"numGC"`
	Goroutines      int    `json:"goroutines"`
}

type HealthHandler struct {
	db        *dbstore.DB // nil when storage is disabled
	mqtt      *mqttgw.Client
	startTime time.Time
}

func NewHealthHandler(db *dbstore.DB, mqtt *mqttgw.Client, startTime time.Time) *HealthHandler {
	return &HealthHandler{db: db, mqtt: mqtt, startTime: startTime}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: int64(time.Since(h.startTime).Seconds()),
		DB:     "disconnected",
		MQTT:   "disconnected",
	}

	if h.db != nil && h.db.HealthCheck(r.Context()) == nil {
		resp.DB = "connected"
	}
	if h.mqtt != nil && h.mqtt.IsConnected() {
		resp.MQTT = "connected"
	}
	if resp.MQTT == "disconnected" {
		resp.Status = "degraded"
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	resp.Memory = MemoryStatus{
		AllocBytes:      ms.Alloc,
		TotalAllocBytes: ms.TotalAlloc,
		SysBytes:        ms.Sys,
		NumGC:           ms.NumGC,
		Goroutines:      runtime.NumGoroutine(),
	}

	WriteJSON(w, http.StatusOK, resp)
}
