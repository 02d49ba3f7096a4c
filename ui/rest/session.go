package rest

import (
	"github.com/gofiber/fiber/v2"

	pipelineDomain "github.com/AzielCF/az-restyle/pipeline/domain"
	"github.com/AzielCF/az-restyle/pkg/admission"
	pkgError "github.com/AzielCF/az-restyle/pkg/error"
	"github.com/AzielCF/az-restyle/pkg/utils"
	"github.com/AzielCF/az-restyle/session/application"
	"github.com/AzielCF/az-restyle/ui/rest/middleware"
	"github.com/AzielCF/az-restyle/validations"
)

type Session struct {
	Ledger  *application.Ledger
	History pipelineDomain.RecordRepository
}

type preferencesRequest struct {
	Preferences map[string]string `json:"preferences"`
}

// InitRestSession mounts the session endpoints under the catalog-read quota.
func InitRestSession(app fiber.Router, ledger *application.Ledger, history pipelineDomain.RecordRepository, quotas *admission.Controller, sessions fiber.Handler) Session {
	rest := Session{Ledger: ledger, History: history}

	read := middleware.Admission(quotas, admission.ClassCatalogRead, nil)
	app.Get("/session", read, sessions, rest.GetSession)
	app.Put("/session/preferences", read, sessions, rest.UpdatePreferences)
	app.Delete("/session", read, rest.EndSession)
	app.Get("/history", read, sessions, rest.GetHistory)

	return rest
}

func (handler *Session) GetSession(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "Session retrieved",
		Results: middleware.CurrentSession(c),
	})
}

func (handler *Session) UpdatePreferences(c *fiber.Ctx) error {
	var request preferencesRequest
	utils.PanicIfNeeded(parseBody(c, &request))
	utils.PanicIfNeeded(validations.ValidatePreferences(request.Preferences))

	sess, err := handler.Ledger.UpdatePreferences(c.UserContext(), middleware.CurrentSession(c).ID, request.Preferences)
	utils.PanicIfNeeded(err)
	if sess == nil {
		utils.PanicIfNeeded(pkgError.NotFoundError("session expired"))
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "Preferences updated",
		Results: sess,
	})
}

// EndSession never mints a session, so it reads the header directly.
func (handler *Session) EndSession(c *fiber.Ctx) error {
	id := c.Get(middleware.HeaderSessionID)
	if id == "" {
		utils.PanicIfNeeded(pkgError.ValidationError(middleware.HeaderSessionID + " header is required"))
	}
	utils.PanicIfNeeded(handler.Ledger.End(c.UserContext(), id))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "Session ended",
	})
}

func (handler *Session) GetHistory(c *fiber.Ctx) error {
	limit, err := validations.ValidateLimit(c.QueryInt("limit", 0))
	utils.PanicIfNeeded(err)

	records, err := handler.History.ListBySession(c.UserContext(), middleware.CurrentSession(c).ID, limit)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "History retrieved",
		Results: nonNil(records),
	})
}
