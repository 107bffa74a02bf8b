package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/hoomaan/roster-service/internal/bot"
	"github.com/hoomaan/roster-service/internal/config"
	registryroute "github.com/hoomaan/roster-service/internal/registry/route"
	"github.com/hoomaan/roster-service/internal/security"
	"github.com/hoomaan/roster-service/internal/telegram"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after KV init
		},
	})
}

// MountRoutes mounts the Telegram webhook route. Called after KV and handler
// initialization so the handler is available.
//
// The route fast-acks: the update is parsed, handling continues in the
// background on the service root context (the request context dies with the
// ack), and Telegram gets an immediate 200 so it does not redeliver.
func MountRoutes(appCtx context.Context, r *gin.Engine, cfg *config.Config, handler *bot.Handler) {
	headerToken := security.RequireHeaderToken(cfg.TelegramSecretToken)

	r.POST("/webhook/:secret", headerToken, func(c *gin.Context) {
		if !security.SecretEqual(c.Param("secret"), cfg.WebhookSecret) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusOK, "ok")
			return
		}
		var update telegram.Update
		if err := json.Unmarshal(body, &update); err != nil {
			// Malformed updates are acked and dropped, never retried.
			log.Warn("Webhook: undecodable update", "err", err)
			c.String(http.StatusOK, "ok")
			return
		}

		go handler.HandleUpdate(appCtx, &update)
		c.String(http.StatusOK, "ok")
	})
}
