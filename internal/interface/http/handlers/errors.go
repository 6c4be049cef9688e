package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/shiro-wallet/shirod/pkg/errors"
	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

var httpStatuses = map[grpccodes.Code]int{
	grpccodes.InvalidArgument:    fiber.StatusBadRequest,
	grpccodes.NotFound:           fiber.StatusNotFound,
	grpccodes.AlreadyExists:      fiber.StatusConflict,
	grpccodes.FailedPrecondition: fiber.StatusPreconditionFailed,
	grpccodes.Aborted:            fiber.StatusConflict,
	grpccodes.Unavailable:        fiber.StatusServiceUnavailable,
	grpccodes.DeadlineExceeded:   fiber.StatusGatewayTimeout,
	grpccodes.Unauthenticated:    fiber.StatusUnauthorized,
	grpccodes.PermissionDenied:   fiber.StatusForbidden,
	grpccodes.Unimplemented:      fiber.StatusNotImplemented,
	grpccodes.Internal:           fiber.StatusInternalServerError,
}

func httpStatus(code grpccodes.Code) int {
	if status, ok := httpStatuses[code]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler renders typed errors with their code, name and metadata. Anything else is
// reported as an internal error, except for the errors raised by fiber itself.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var structuredErr errors.Error
	if errors.As(err, &structuredErr) {
		status := httpStatus(structuredErr.GrpcCode())
		if status >= fiber.StatusInternalServerError {
			structuredErr.Log().Error(structuredErr.Error())
		}
		return c.Status(status).JSON(errorResponse{
			Code:     structuredErr.Code(),
			Name:     structuredErr.CodeName(),
			Message:  structuredErr.Error(),
			Metadata: structuredErr.Metadata(),
		})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code := errors.INVALID_ARGUMENT.Code
		if fiberErr.Code >= fiber.StatusInternalServerError {
			code = errors.INTERNAL_ERROR.Code
		}
		return c.Status(fiberErr.Code).JSON(errorResponse{
			Code:    code,
			Name:    utils.StatusMessage(fiberErr.Code),
			Message: fiberErr.Message,
		})
	}

	log.WithError(err).Error("unexpected error")
	return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{
		Code:    errors.INTERNAL_ERROR.Code,
		Name:    errors.INTERNAL_ERROR.Name,
		Message: err.Error(),
	})
}
