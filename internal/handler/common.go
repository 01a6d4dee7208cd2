package handler

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/internal/middleware"
	"github.com/qasim313/Unbrandit/internal/service"
	"github.com/qasim313/Unbrandit/pkg/response"
)

var androidPackage = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)+$`)

// NewValidator returns a validator that reports JSON field names and knows
// the android_package rule.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("android_package", func(fl validator.FieldLevel) bool {
		return androidPackage.MatchString(fl.Field().String())
	})
	return v
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}

// parseBody decodes and validates a JSON body. On failure the error
// response has already been written and ok is false.
func parseBody(c *fiber.Ctx, v *validator.Validate, out interface{}) (ok bool, err error) {
	if err := c.BodyParser(out); err != nil {
		return false, response.ValidationError(c, "Invalid request body", nil)
	}
	if err := v.Struct(out); err != nil {
		return false, response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return true, nil
}

// respondError maps service errors onto the response envelope.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrValidation):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, service.ErrInvalidReference):
		return response.ValidationError(c, "Reference is not a file managed by this service", nil)
	case errors.Is(err, service.ErrNotFound):
		return response.NotFound(c, "Resource not found")
	case errors.Is(err, service.ErrInvalidTransition):
		return response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrQueueUnavailable):
		return response.ServiceUnavailable(c, "Job queue unavailable")
	case errors.Is(err, service.ErrStorageUnavailable):
		return response.ServiceUnavailable(c, "File storage unavailable")
	}

	logger := logging.Ctx(c.UserContext())
	logger.Error().Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Msg("request failed")
	return response.ServiceError(c, "Internal server error")
}

// presenter renders resources with every storage location rewritten to a
// proxy reference.
type presenter struct {
	resolver *service.BlobResolver
}

func (p presenter) send(c *fiber.Ctx, status int, v interface{}) error {
	data, err := p.resolver.Publicize(v)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(status).JSON(data)
}

// sendPersisted answers for a record that was saved although a follow-up
// step (typically enqueueing) failed.
func (p presenter) sendPersisted(c *fiber.Ctx, v interface{}, err error, message string) error {
	if !errors.Is(err, service.ErrQueueUnavailable) {
		return respondError(c, err)
	}
	data, perr := p.resolver.Publicize(v)
	if perr != nil {
		return respondError(c, perr)
	}
	return response.ErrorWithData(c, fiber.StatusServiceUnavailable, response.CodeUnavailable, message, data)
}

func userID(c *fiber.Ctx) string {
	return middleware.GetUserID(c)
}
