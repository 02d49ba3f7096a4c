package rest

import (
	"context"
	"io"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/AzielCF/az-restyle/pipeline/application"
	"github.com/AzielCF/az-restyle/pkg/admission"
	"github.com/AzielCF/az-restyle/pkg/utils"
	"github.com/AzielCF/az-restyle/session/domain"
	"github.com/AzielCF/az-restyle/ui/rest/middleware"
)

// Processor runs one transform request end to end.
type Processor interface {
	Process(ctx context.Context, req application.Request) (*application.Result, error)
}

type Transform struct {
	Pipeline Processor
}

// UploadBodyLimit is the transport body limit for a given upload ceiling.
// It sits well above the ceiling so an oversized file still reaches the
// pipeline and is rejected as a ValidationError.
func UploadBodyLimit(maxUploadBytes int64) int {
	return int(2*maxUploadBytes) + 1<<20
}

// InitRestTransform mounts the transform endpoint. Quotas are checked before
// the session is resolved so rejected callers do not mint sessions.
func InitRestTransform(app fiber.Router, pipeline Processor, quotas *admission.Controller, sessions fiber.Handler) Transform {
	rest := Transform{Pipeline: pipeline}
	app.Post("/transform", middleware.Admission(quotas, admission.ClassTransform, nil), sessions, rest.Transform)
	return rest
}

func (handler *Transform) Transform(c *fiber.Ctx) error {
	req := application.Request{
		RequestID:  requestID(c),
		SessionID:  sessionID(middleware.CurrentSession(c)),
		TemplateID: c.FormValue("template_id"),
	}
	if file, err := c.FormFile("file"); err == nil {
		req.File = uploadFromHeader(file)
	}

	result, err := handler.Pipeline.Process(c.UserContext(), req)
	if err != nil {
		return middleware.WriteErrorWithResults(c, err, result)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "Image transformed",
		Results: result,
	})
}

func uploadFromHeader(file *multipart.FileHeader) *application.Upload {
	return &application.Upload{
		Filename:    file.Filename,
		ContentType: file.Header.Get(fiber.HeaderContentType),
		Size:        file.Size,
		Open: func() (io.ReadCloser, error) {
			return file.Open()
		},
	}
}

// requestID prefers the id assigned by the requestid middleware.
func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

func sessionID(sess *domain.Session) string {
	if sess == nil {
		return ""
	}
	return sess.ID
}
