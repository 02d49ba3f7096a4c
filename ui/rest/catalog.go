package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/AzielCF/az-restyle/catalog/application"
	domainCatalog "github.com/AzielCF/az-restyle/catalog/domain"
	"github.com/AzielCF/az-restyle/pkg/admission"
	"github.com/AzielCF/az-restyle/pkg/utils"
	"github.com/AzielCF/az-restyle/ui/rest/middleware"
	"github.com/AzielCF/az-restyle/validations"
)

type Catalog struct {
	Service *application.CatalogService
}

func InitRestCatalog(app fiber.Router, service *application.CatalogService, quotas *admission.Controller) Catalog {
	rest := Catalog{Service: service}

	read := middleware.Admission(quotas, admission.ClassCatalogRead, nil)
	app.Get("/templates", read, rest.ListTemplates)
	app.Get("/templates/categories", read, rest.Categories)
	app.Get("/templates/popular", read, rest.Popular)
	app.Get("/templates/category/:category", read, rest.ListByCategory)
	app.Get("/templates/:id", read, rest.GetTemplate)
	app.Post("/templates/:id/rating", middleware.Admission(quotas, admission.ClassFeedback, nil), rest.Rate)
	app.Get("/search", middleware.Admission(quotas, admission.ClassSearch, nil), rest.Search)

	return rest
}

func (handler *Catalog) ListTemplates(c *fiber.Ctx) error {
	templates, err := handler.Service.ListTemplates(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "Templates retrieved",
		Results: nonNil(templates),
	})
}

func (handler *Catalog) GetTemplate(c *fiber.Ctx) error {
	id := c.Params("id")
	utils.PanicIfNeeded(validations.ValidateTemplateID(id))

	template, err := handler.Service.GetTemplate(c.UserContext(), id)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "Template retrieved",
		Results: template,
	})
}

func (handler *Catalog) Categories(c *fiber.Ctx) error {
	categories, err := handler.Service.Categories(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "Categories retrieved",
		Results: nonNil(categories),
	})
}

func (handler *Catalog) ListByCategory(c *fiber.Ctx) error {
	templates, err := handler.Service.ListByCategory(c.UserContext(), c.Params("category"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "Templates retrieved",
		Results: nonNil(templates),
	})
}

func (handler *Catalog) Popular(c *fiber.Ctx) error {
	limit, err := validations.ValidateLimit(c.QueryInt("limit", 0))
	utils.PanicIfNeeded(err)

	templates, err := handler.Service.Popular(c.UserContext(), limit)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "Popular templates retrieved",
		Results: nonNil(templates),
	})
}

func (handler *Catalog) Search(c *fiber.Ctx) error {
	query := domainCatalog.SearchQuery{
		Query:    c.Query("q"),
		Category: c.Query("category"),
		Limit:    c.QueryInt("limit", 0),
	}
	utils.PanicIfNeeded(validations.ValidateSearch(c.UserContext(), &query))

	templates, err := handler.Service.Search(c.UserContext(), query)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "Search completed",
		Results: nonNil(templates),
	})
}

func (handler *Catalog) Rate(c *fiber.Ctx) error {
	var request domainCatalog.RatingRequest
	utils.PanicIfNeeded(parseBody(c, &request))
	request.TemplateID = c.Params("id")
	utils.PanicIfNeeded(validations.ValidateRating(c.UserContext(), request))

	template, err := handler.Service.Rate(c.UserContext(), request.TemplateID, request.Rating)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "Rating recorded",
		Results: template.Usage,
	})
}
