// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// ErrUnauthorized signals a missing or expired login.
var ErrUnauthorized = errors.New("unauthorized")

// StatusFor maps the shared error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Forbidden and internal failures never echo the underlying message.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusBadRequest:
		var verrs shared.ValidationErrors
		if errors.As(err, &verrs) {
			JSON(w, status, ProblemDetail{Title: "Dados inválidos", Status: status, Detail: err.Error(), Errors: verrs.Fields()})
			return
		}
		Problem(w, status, "Dados inválidos", err.Error())
	case http.StatusNotFound:
		Problem(w, status, "Não encontrado", "")
	case http.StatusConflict:
		Problem(w, status, "Conflito", "O registro foi alterado por outra operação. Atualize a página e tente novamente.")
	case http.StatusForbidden:
		Problem(w, status, "Acesso negado", "")
	case http.StatusUnauthorized:
		Problem(w, status, "Não autenticado", "")
	default:
		Problem(w, status, "Erro interno", "")
	}
}

// UserMessage returns a Portuguese message safe to show in HTML pages.
func UserMessage(err error) string {
	var verrs shared.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, e.Message)
		}
		return strings.Join(msgs, "; ")
	}
	var verr shared.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	switch StatusFor(err) {
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusNotFound:
		return "Registro não encontrado"
	case http.StatusConflict:
		return "O registro foi alterado por outra operação. Atualize a página e tente novamente."
	case http.StatusForbidden:
		return "Você não tem permissão para esta operação"
	case http.StatusUnauthorized:
		return "Sessão expirada. Entre novamente."
	}
	return "Erro interno. Tente novamente mais tarde."
}
