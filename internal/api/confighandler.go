package api

import (
	"net/http"

	"github.com/lattice-iot/gatewaylink/internal/config"
)

// ConfigHandler serves the effective configuration with password-like
// fields redacted. The redaction happens in config.RedactedView; nothing
// secret ever reaches this package.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

func (h *ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.cfg.RedactedView())
}
