package export

import (
	"context"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hoomaan/roster-service/internal/config"
	registryroute "github.com/hoomaan/roster-service/internal/registry/route"
	"github.com/hoomaan/roster-service/internal/roster"
	"github.com/hoomaan/roster-service/internal/security"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 200,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after KV init
		},
	})
}

// MountRoutes mounts the secret-guarded CSV export routes. Called after KV
// initialization so the exporter is available.
func MountRoutes(r *gin.Engine, cfg *config.Config, exporter *roster.Exporter) {
	guard := security.RequireQuerySecret(cfg.ResolvedExportSecret())

	r.GET("/export/users.csv", guard, func(c *gin.Context) {
		serveCSV(c, "users.csv", exporter.UsersCSV)
	})
	r.GET("/export/phones.csv", guard, func(c *gin.Context) {
		serveCSV(c, "phones.csv", exporter.PhonesCSV)
	})
}

func serveCSV(c *gin.Context, filename string, build func(context.Context) (string, error)) {
	exportID := uuid.NewString()
	csv, err := build(c.Request.Context())
	if err != nil {
		if errors.Is(err, roster.ErrPageUnavailable) {
			// Transient: the caller re-issues the export from scratch.
			log.Warn("Export aborted", "exportId", exportID, "file", filename, "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export unavailable, try again"})
			return
		}
		log.Error("Export failed", "exportId", exportID, "file", filename, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	log.Info("Export served", "exportId", exportID, "file", filename, "bytes", len(csv))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(csv))
}
