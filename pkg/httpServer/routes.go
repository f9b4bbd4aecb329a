package httpServer

func (h *handler) registerAPI() {
	api := h.server.Group("", h.loggerMiddleware)
	{
		{
			pricing := api.Group("/pricing")
			pricing.Get("/quote", h.quote)
		}

		{
			upload := api.Group("/upload")
			upload.Post("/deposit", h.buildDeposit)
			upload.Post("/confirm", h.confirmDeposit)
			upload.Post("/files", h.uploadFiles)
			upload.Get("/history", h.history)
		}

		{
			storage := api.Group("/storage")
			storage.Get("/renewal-cost", h.renewalCost)
			storage.Post("/renew", h.renew)
			storage.Post("/confirm-renewal", h.confirmRenewal)
		}

		{
			admin := api.Group("/admin", h.adminAuthMiddleware)
			admin.Get("/usage/alerts", h.listAlerts)
			admin.Post("/usage/alerts/:id/resolve", h.resolveAlert)
			admin.Post("/usage/snapshot", h.takeSnapshot)
			admin.Post("/usage/comparison", h.compareUsage)
		}
	}
}
