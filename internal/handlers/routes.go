package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// API bundles the handlers mounted under /api.
type API struct {
	Foods     *FoodHandler
	Logs      *LogHandler
	Meals     *MealHandler
	Plans     *PlanHandler
	Nutrition *NutritionHandler
	Health    *HealthHandler
}

// Mount registers /healthz and the /api tree on r. auth guards every /api route; privileged
// additionally guards the catalog enrichment writes and the manual cache refresh.
func (a API) Mount(r chi.Router, auth, privileged func(http.Handler) http.Handler) {
	r.Get("/healthz", a.Health.Check)

	r.Route("/api", func(api chi.Router) {
		api.Use(auth)

		api.Route("/foods", func(fr chi.Router) {
			fr.Get("/", a.Foods.Search)
			fr.Post("/", a.Foods.Create)
			fr.Get("/{id}", a.Foods.Get)
			fr.Group(func(pr chi.Router) {
				pr.Use(privileged)
				pr.Put("/{id}/nutrients", a.Foods.UpdateNutrients)
				pr.Put("/{id}/enrichment", a.Foods.UpdateEnrichment)
			})
		})

		api.Route("/logs", func(lr chi.Router) {
			lr.Get("/", a.Logs.List)
			lr.Post("/", a.Logs.Create)
			lr.Post("/import", a.Logs.Import)
			lr.Put("/{id}", a.Logs.Update)
			lr.Delete("/{id}", a.Logs.Delete)
		})

		api.Route("/meals", func(mr chi.Router) {
			mr.Get("/", a.Meals.List)
			mr.Post("/", a.Meals.Create)
			mr.Get("/{id}", a.Meals.Get)
			mr.Put("/{id}/foods", a.Meals.SetFoods)
			mr.Delete("/{id}", a.Meals.Delete)
			mr.Get("/{id}/nutrition", a.Meals.Nutrition)
		})

		api.Route("/plans", func(pr chi.Router) {
			pr.Get("/", a.Plans.List)
			pr.Post("/", a.Plans.Create)
			pr.Get("/active", a.Plans.Active)
			pr.Get("/{id}", a.Plans.Get)
			pr.Delete("/{id}", a.Plans.Delete)
			pr.Post("/{id}/activate", a.Plans.Activate)
			pr.Post("/{id}/deactivate", a.Plans.Deactivate)
			pr.Get("/{id}/entries", a.Plans.ListEntries)
			pr.Post("/{id}/entries", a.Plans.AddEntry)
			pr.Put("/{id}/entries/{entryID}", a.Plans.UpdateEntry)
			pr.Delete("/{id}/entries/{entryID}", a.Plans.RemoveEntry)
			pr.Get("/{id}/nutrition", a.Plans.Nutrition)
			pr.Get("/{id}/nutrition/week", a.Plans.Week)
		})

		api.Route("/nutrition", func(nr chi.Router) {
			nr.Get("/day", a.Nutrition.Day)
			nr.Get("/week", a.Nutrition.Week)
			nr.With(privileged).Post("/refresh", a.Nutrition.Refresh)
			nr.Get("/cache", a.Nutrition.Cache)
		})
	})
}
