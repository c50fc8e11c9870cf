package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.Invalid("start", "obrigatório"), http.StatusBadRequest},
		{shared.Conflict("closing 1"), http.StatusConflict},
		{shared.ErrForbidden, http.StatusForbidden},
		{shared.ErrNotFound, http.StatusNotFound},
		{shared.Persistence("load", errors.New("db down")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, shared.Persistence("load closing", errors.New("password authentication failed")))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Detail)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestValidateConvertsFieldErrors(t *testing.T) {
	type form struct {
		Name  string `validate:"required"`
		Email string `validate:"required,email"`
	}
	err := Validate(validator.New(), form{Email: "nope"})
	require.ErrorIs(t, err, shared.ErrValidation)

	var verrs shared.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "campo obrigatório", verrs.Fields()["name"])
	assert.Equal(t, "e-mail inválido", verrs.Fields()["email"])
}

func TestParseAmount(t *testing.T) {
	for raw, want := range map[string]string{
		"1234.56":     "1234.56",
		"1234,56":     "1234.56",
		"1.234,56":    "1234.56",
		"R$ 1.000,00": "1000",
	} {
		got, err := ParseAmount(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got.String() != want {
			t.Fatalf("parse %q: got %s want %s", raw, got, want)
		}
	}
	if _, err := ParseAmount("abc"); err == nil {
		t.Fatal("expected error for invalid amount")
	}
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "nome obrigatório", UserMessage(shared.Invalid("name", "nome obrigatório")))
	assert.Equal(t, "bloqueado", UserMessage(shared.ValidationError{Field: "entry", Message: "bloqueado"}))
	assert.Equal(t, "Registro não encontrado", UserMessage(shared.ErrNotFound))
	assert.NotContains(t, UserMessage(shared.Persistence("db", errors.New("connection refused"))), "refused")
}
