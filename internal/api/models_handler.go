package api

import (
	"net/http"

	"github.com/sparkgate/sparkgate/internal/catalog"
)

// modelsHandler serves the public model catalog.
type modelsHandler struct {
	models ModelSource
}

func newModelsHandler(models ModelSource) *modelsHandler {
	return &modelsHandler{models: models}
}

// ListModels handles GET /api/v1/models.
func (h *modelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load model catalog")
		return
	}
	if models == nil {
		models = []catalog.Model{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}
