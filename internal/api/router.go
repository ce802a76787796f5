package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/nbtcbridge/internal/api/handlers"
	"github.com/Fantasim/nbtcbridge/internal/api/middleware"
	"github.com/Fantasim/nbtcbridge/internal/bridge"
	"github.com/Fantasim/nbtcbridge/internal/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewRouter creates and configures the Chi router with all middleware and
// routes exposing the bridge façade over HTTP.
func NewRouter(b *bridge.Bitcoin, cfg *config.Config, hub *ProgressHub) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogging)
	r.Use(middleware.HostCheck)
	r.Use(middleware.CORS)
	r.Use(middleware.CSRF)

	slog.Info("router initialized",
		"middleware", []string{"requestLogging", "hostCheck", "cors", "csrf"},
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthHandler(cfg, Version))
		r.Get("/events", handlers.ProgressSSE(hub))

		r.Route("/checkpoints", func(r chi.Router) {
			r.Get("/building", handlers.GetBuildingIndex(b))
			r.Get("/confirmed", handlers.GetConfirmedIndex(b))
			r.Get("/completed", handlers.ListCompletedCheckpoints(b))
			r.Post("/relay", handlers.RelayCheckpoint(b, hub))
			r.Post("/take-pending", handlers.TakePending(b))
			r.Get("/{index}", handlers.GetCheckpoint(b))
			r.Get("/{index}/to-sign", handlers.SigningTxs(b))
			r.Post("/{index}/sign", handlers.SubmitCheckpointSignature(b, hub))
		})

		r.Route("/recovery", func(r chi.Router) {
			r.Post("/sign", handlers.SubmitRecoverySignature(b))
			r.Get("/signed", handlers.ListSignedRecoveryTxs(b))
		})

		r.Post("/deposits/relay", handlers.RelayDeposit(b))
		r.Post("/withdraw", handlers.WithdrawToBitcoin(b))
		r.Post("/signatory-key", handlers.SetSignatoryKey(b))

		r.Get("/value-locked", handlers.GetValueLocked(b))
		r.Get("/change-rates", handlers.GetChangeRates(b))

		r.Route("/admin", func(r chi.Router) {
			r.Route("/validators", func(r chi.Router) {
				r.Post("/whitelist", handlers.SetWhitelistValidator(b))
				r.Post("/punish", handlers.PunishValidator(b))
			})
			r.Route("/config", func(r chi.Router) {
				r.Put("/checkpoint", handlers.UpdateCheckpointConfig(b))
				r.Put("/bitcoin", handlers.UpdateBitcoinConfig(b))
			})
		})
	})

	return r
}
