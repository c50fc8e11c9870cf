package httpx

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Validate runs struct-tag validation and converts failures into shared.ValidationErrors.
func Validate(v *validator.Validate, form any) error {
	err := v.Struct(form)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	var out shared.ValidationErrors
	for _, fe := range fieldErrs {
		out.Add(strings.ToLower(fe.Field()), messageFor(fe))
	}
	return out
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "campo obrigatório"
	case "email":
		return "e-mail inválido"
	case "min":
		return "valor abaixo do mínimo (" + fe.Param() + ")"
	case "max":
		return "valor acima do máximo (" + fe.Param() + ")"
	case "oneof":
		return "valor deve ser um de: " + fe.Param()
	case "gt", "gtfield":
		return "valor deve ser maior"
	default:
		return "valor inválido"
	}
}
