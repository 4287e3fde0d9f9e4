package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lattice-iot/gatewaylink/internal/cache"
)

// LiveHandler serves read-only snapshots of the state cache. It never
// mutates; the cache entry is the sole source of truth and reads return it
// verbatim.
type LiveHandler struct {
	cache *cache.Cache
}

func NewLiveHandler(c *cache.Cache) *LiveHandler {
	return &LiveHandler{cache: c}
}

func (h *LiveHandler) Routes(r chi.Router) {
	r.Get("/live/topology", h.Topology)
	r.Get("/live/devices/{deviceId}", h.Device)
	r.Get("/live/devices/{deviceId}/modules/{moduleIndex}", h.Module)
}

type topologyModule struct {
	ModuleIndex int        `json:"moduleIndex"`
	ModuleID    string     `json:"moduleId"`
	UTotal      int        `json:"uTotal"`
	FwVer       string     `json:"fwVer"`
	Online      bool       `json:"online"`
	LastSeenHb  *time.Time `json:"lastSeenHb"`
}

type topologyDevice struct {
	DeviceID     string           `json:"deviceId"`
	DeviceType   string           `json:"deviceType"`
	IP           string           `json:"ip"`
	MAC          string           `json:"mac"`
	FwVer        string           `json:"fwVer"`
	Mask         string           `json:"mask"`
	GwIP         string           `json:"gwIp"`
	Online       bool             `json:"online"`
	LastSeenInfo *time.Time       `json:"lastSeenInfo"`
	Modules      []topologyModule `json:"modules"`
}

// Topology lists every known device with its modules and online flags.
func (h *LiveHandler) Topology(w http.ResponseWriter, r *http.Request) {
	devices := h.cache.ListDevices()
	out := make([]topologyDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, h.deviceView(d))
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h *LiveHandler) deviceView(d *cache.DeviceState) topologyDevice {
	td := topologyDevice{
		DeviceID:     d.DeviceID,
		DeviceType:   string(d.DeviceType),
		IP:           d.IP,
		MAC:          d.MAC,
		FwVer:        d.FwVer,
		Mask:         d.Mask,
		GwIP:         d.Gateway,
		Online:       d.Online,
		LastSeenInfo: timePtr(d.LastSeenInfo),
		Modules:      []topologyModule{},
	}
	for _, m := range h.cache.ListModules(d.DeviceID) {
		td.Modules = append(td.Modules, topologyModule{
			ModuleIndex: m.ModuleIndex,
			ModuleID:    m.ModuleID,
			UTotal:      m.UTotal,
			FwVer:       m.FwVer,
			Online:      m.Online,
			LastSeenHb:  timePtr(m.LastSeenHeartbeat),
		})
	}
	return td
}

// Device returns one device's metadata with its module summaries.
func (h *LiveHandler) Device(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	d := h.cache.GetDevice(deviceID)
	if d == nil {
		WriteError(w, http.StatusNotFound, "device not found")
		return
	}

	WriteJSON(w, http.StatusOK, h.deviceView(d))
}

type moduleState struct {
	ModuleIndex  int                   `json:"moduleIndex"`
	ModuleID     string                `json:"moduleId"`
	UTotal       int                   `json:"uTotal"`
	FwVer        string                `json:"fwVer"`
	Online       bool                  `json:"online"`
	RFIDSnapshot []rfidSlot            `json:"rfidSnapshot"`
	TempHum      map[int]tempHum       `json:"tempHum"`
	Noise        map[int]*float64      `json:"noise"`
	DoorState    *int                  `json:"doorState"`
	Door1State   *int                  `json:"door1State"`
	Door2State   *int                  `json:"door2State"`
	LastSeen     map[string]*time.Time `json:"lastSeen"`
}

type rfidSlot struct {
	SlotIndex int    `json:"slotIndex"`
	TagID     string `json:"tagId"`
	Alarm     bool   `json:"alarm"`
}

type tempHum struct {
	Temp *float64 `json:"temp"`
	Hum  *float64 `json:"hum"`
}

// Module returns the full cached state of one module.
func (h *LiveHandler) Module(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	idx, err := PathInt(r, "moduleIndex")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid moduleIndex")
		return
	}

	m := h.cache.GetModule(deviceID, idx)
	if m == nil {
		WriteError(w, http.StatusNotFound, "module not found")
		return
	}

	out := moduleState{
		ModuleIndex:  m.ModuleIndex,
		ModuleID:     m.ModuleID,
		UTotal:       m.UTotal,
		FwVer:        m.FwVer,
		Online:       m.Online,
		RFIDSnapshot: []rfidSlot{},
		TempHum:      make(map[int]tempHum, len(m.TempHum)),
		Noise:        m.Noise,
		DoorState:    m.DoorState,
		Door1State:   m.Door1State,
		Door2State:   m.Door2State,
		LastSeen: map[string]*time.Time{
			"heartbeat": timePtr(m.LastSeenHeartbeat),
			"tempHum":   timePtr(m.LastSeenTempHum),
			"noise":     timePtr(m.LastSeenNoise),
			"rfid":      timePtr(m.LastSeenRfid),
			"door":      timePtr(m.LastSeenDoor),
		},
	}
	for _, s := range m.RFIDSnapshot {
		out.RFIDSnapshot = append(out.RFIDSnapshot, rfidSlot{SlotIndex: s.SlotIndex, TagID: s.TagID, Alarm: s.Alarm})
	}
	sort.Slice(out.RFIDSnapshot, func(i, j int) bool {
		return out.RFIDSnapshot[i].SlotIndex < out.RFIDSnapshot[j].SlotIndex
	})
	for slot, r := range m.TempHum {
		out.TempHum[slot] = tempHum{Temp: r.Temp, Hum: r.Hum}
	}

	WriteJSON(w, http.StatusOK, out)
}

// timePtr renders zero times as JSON null instead of the zero-value string.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
