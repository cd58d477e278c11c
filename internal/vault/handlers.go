package vault

import (
	"encoding/json"
	"net/http"

	"github.com/HerbHall/relayscan/pkg/models"
)

// StatusResponse is the body of GET /vault/status.
type StatusResponse struct {
	Sealed      bool `json:"sealed"`
	Initialized bool `json:"initialized"`
	SecretCount int  `json:"secret_count"`
}

// handleStatus reports whether the vault is sealed.
//
//	@Summary		Vault status
//	@Description	Reports whether stored device credentials can be used.
//	@Tags			vault
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Failure		500	{object}	models.APIProblem
//	@Router			/vault/status [get]
func (m *Module) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := m.store.SecretCount(r.Context())
	if err != nil {
		m.logger.Warn("failed to count vault secrets")
		vaultWriteError(w, http.StatusInternalServerError, "failed to read vault status")
		return
	}
	vaultWriteJSON(w, http.StatusOK, StatusResponse{
		Sealed:      m.Sealed(),
		Initialized: m.km.HasMaster(),
		SecretCount: count,
	})
}

func vaultWriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func vaultWriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.NewProblem(status, detail, ""))
}
