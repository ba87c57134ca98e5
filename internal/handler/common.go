package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/scribeflow/api/pkg/response"
)

// formatValidationErrors flattens validator errors into a field map for
// the error envelope.
func formatValidationErrors(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			out[fe.Field()] = fe.Tag()
		}
	}
	return out
}

// storeError maps a persistence failure onto the envelope. Anything
// that reaches here is StoreUnavailable territory: no coordination
// guarantee can be made, so it surfaces as a hard failure.
func storeError(c *fiber.Ctx, err error) error {
	return response.StoreError(c, err.Error())
}
