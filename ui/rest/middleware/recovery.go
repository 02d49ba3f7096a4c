package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"
	"github.com/sirupsen/logrus"

	pkgError "github.com/AzielCF/az-restyle/pkg/error"
	"github.com/AzielCF/az-restyle/pkg/utils"
)

// Recovery turns panics into the error envelope. Handlers bail out with
// utils.PanicIfNeeded, so typed errors arrive here as panics too.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) (err error) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			cause, ok := recovered.(error)
			if !ok {
				cause = fmt.Errorf("%v", recovered)
			}
			err = WriteError(ctx, cause)
		}()

		return ctx.Next()
	}
}

// WriteError renders err as the failure envelope. Anything outside the
// public error taxonomy is logged in full and reported as InternalError.
func WriteError(ctx *fiber.Ctx, err error) error {
	return WriteErrorWithResults(ctx, err, nil)
}

// ErrorHandler is the fiber fallback for errors no handler rendered. Router
// errors such as 404 keep their status; a body over the transport limit is
// reported like any other oversized upload.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code == fiber.StatusRequestEntityTooLarge {
		return WriteError(ctx, pkgError.ValidationError("request body exceeds the upload limit"))
	}
	if errors.As(err, &fe) {
		return ctx.Status(fe.Code).JSON(utils.ResponseData{
			Status:  fe.Code,
			Success: false,
			Code:    strings.ReplaceAll(fiberutils.StatusMessage(fe.Code), " ", ""),
			Error:   fe.Message,
		})
	}
	return WriteError(ctx, err)
}

// WriteErrorWithResults is WriteError with a results payload, used when a
// failed request still has something to report.
func WriteErrorWithResults(ctx *fiber.Ctx, err error, results any) error {
	res := utils.ErrorResponse(err)
	res.Results = results

	switch res.Code {
	case "InternalError":
		logrus.WithError(err).Errorf("[REST] %s %s failed", ctx.Method(), ctx.Path())
	case "UpstreamError":
		logrus.WithError(err).Warnf("[REST] %s %s upstream failure", ctx.Method(), ctx.Path())
	}

	if quota, ok := pkgError.AsGeneric(err).(pkgError.QuotaExceededError); ok {
		ctx.Set(fiber.HeaderRetryAfter, retryAfterSeconds(quota.RetryAfter))
	}

	return ctx.Status(res.Status).JSON(res)
}
