package binder_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hearth/pkg/binder"
)

type signupBody struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	TermsAccepted bool   `json:"termsAccepted"`
}

func request(body, contentType string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func TestJSON(t *testing.T) {
	t.Parallel()

	t.Run("decodes and trims", func(t *testing.T) {
		t.Parallel()
		var v signupBody
		err := binder.JSON()(request(`{"email":"  a@example.com ","name":"Ann\u0000","termsAccepted":true}`, "application/json; charset=utf-8"), &v)
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", v.Email)
		assert.Equal(t, "Ann", v.Name)
		assert.True(t, v.TermsAccepted)
	})

	t.Run("missing content type", func(t *testing.T) {
		t.Parallel()
		var v signupBody
		err := binder.JSON()(request(`{"email":"a@example.com"}`, ""), &v)
		assert.ErrorIs(t, err, binder.ErrMissingContentType)
	})

	t.Run("wrong content type", func(t *testing.T) {
		t.Parallel()
		var v signupBody
		err := binder.JSON()(request(`{"email":"a@example.com"}`, "text/plain"), &v)
		assert.ErrorIs(t, err, binder.ErrUnsupportedMediaType)
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		var v signupBody
		err := binder.JSON()(request(`{"email":"a@example.com","admin":true}`, "application/json"), &v)
		assert.ErrorIs(t, err, binder.ErrFailedToParseJSON)
	})

	t.Run("trailing data", func(t *testing.T) {
		t.Parallel()
		var v signupBody
		err := binder.JSON()(request(`{"email":"a@example.com"} {"email":"b@example.com"}`, "application/json"), &v)
		assert.ErrorIs(t, err, binder.ErrFailedToParseJSON)
	})

	t.Run("empty body", func(t *testing.T) {
		t.Parallel()
		var v signupBody
		err := binder.JSON()(request(``, "application/json"), &v)
		assert.ErrorIs(t, err, binder.ErrFailedToParseJSON)

		err = binder.JSON(binder.AllowEmptyBody())(request(``, ""), &v)
		assert.NoError(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		var v signupBody
		body := `{"name":"` + strings.Repeat("x", 64) + `"}`
		err := binder.JSON(binder.WithMaxBytes(32))(request(body, "application/json"), &v)
		assert.ErrorIs(t, err, binder.ErrBodyTooLarge)
	})
}
