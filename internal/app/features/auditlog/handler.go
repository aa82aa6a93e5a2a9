// internal/app/features/auditlog/handler.go
package auditlog

import (
	"github.com/dalemusser/coedit/internal/app/policy/contentpolicy"
	"github.com/dalemusser/coedit/internal/app/store/audit"
	"github.com/dalemusser/coedit/internal/app/system/syncer"
	"go.uber.org/zap"
)

type Handler struct {
	Coord *syncer.Coordinator
	Gate  *contentpolicy.Gate
	Store *audit.Store
	Log   *zap.Logger
}

// NewHandler constructs an audit log feature handler.
func NewHandler(coord *syncer.Coordinator, gate *contentpolicy.Gate, store *audit.Store, logger *zap.Logger) *Handler {
	return &Handler{Coord: coord, Gate: gate, Store: store, Log: logger}
}
