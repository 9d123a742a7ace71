package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

// deleteProducts handles DELETE /api/products. The bulk_delete.completed
// event is only sent when something was deleted.
func (s *Server) deleteProducts(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Catalog.DeleteAllProducts(r.Context())
	if err != nil {
		s.internalError(w, r, "bulk delete failed", err)
		return
	}
	if n > 0 && s.deps.Notifier != nil {
		s.deps.Notifier.Notify(pipeline.Event{
			Type:    pipeline.EventBulkDeleteCompleted,
			Payload: map[string]any{"deleted": n},
		})
	}
	s.logger.Info("products deleted", zap.Int64("deleted", n))
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
