package handler_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hearth/handler"
	"github.com/dmitrymomot/hearth/pkg/binder"
	"github.com/dmitrymomot/hearth/pkg/validator"
)

type greetRequest struct {
	Name string `json:"name"`
}

var errDomain = errors.New("domain rule violated")

func greet(ctx handler.Context, req greetRequest) handler.Response {
	switch req.Name {
	case "":
		return handler.Fail(validator.Apply(validator.RequiredString("name", req.Name)))
	case "teapot":
		return handler.Fail(errDomain)
	case "boom":
		return handler.Fail(errors.New("db connection reset"))
	case "nil":
		return nil
	}
	return handler.JSON(map[string]string{"hello": req.Name}, handler.WithJSONStatus(http.StatusCreated))
}

func serve(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, handler.ErrorBody) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var eb handler.ErrorBody
	if rec.Code >= 400 {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&eb))
	}
	return rec, eb
}

func TestWrap(t *testing.T) {
	t.Parallel()

	classifier := func(err error) (handler.HTTPError, bool) {
		if errors.Is(err, errDomain) {
			return handler.ErrForbidden.WithReason("not allowed"), true
		}
		return handler.HTTPError{}, false
	}
	h := handler.Wrap(greet,
		handler.WithBinders[greetRequest](binder.JSON()),
		handler.WithErrorHandler[greetRequest](handler.NewErrorHandler(nil, classifier)),
	)

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		rec, _ := serve(t, h, `{"name":"Ann"}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"hello":"Ann"}`, rec.Body.String())
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	})

	t.Run("validation error", func(t *testing.T) {
		t.Parallel()
		rec, body := serve(t, h, `{"name":""}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", body.Code)
		assert.Contains(t, body.Details, "name")
	})

	t.Run("bind error", func(t *testing.T) {
		t.Parallel()
		rec, body := serve(t, h, `{"name":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", body.Code)
	})

	t.Run("classified error", func(t *testing.T) {
		t.Parallel()
		rec, body := serve(t, h, `{"name":"teapot"}`)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "not allowed", body.Reason)
	})

	t.Run("internal error is not leaked", func(t *testing.T) {
		t.Parallel()
		rec, body := serve(t, h, `{"name":"boom"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal_server_error", body.Code)
		assert.NotContains(t, rec.Body.String(), "db connection")
	})

	t.Run("nil response", func(t *testing.T) {
		t.Parallel()
		rec, _ := serve(t, h, `{"name":"nil"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestWrap_Decorators(t *testing.T) {
	t.Parallel()

	var order []string
	mark := func(name string) handler.Decorator[greetRequest] {
		return func(next handler.HandlerFunc[greetRequest]) handler.HandlerFunc[greetRequest] {
			return func(ctx handler.Context, req greetRequest) handler.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	h := handler.Wrap(greet,
		handler.WithBinders[greetRequest](binder.JSON()),
		handler.WithDecorators(mark("outer"), mark("inner")),
	)
	rec, _ := serve(t, h, `{"name":"Ann"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestHTTPError(t *testing.T) {
	t.Parallel()

	err := handler.ErrForbidden.WithMessage("Trial unavailable").WithReason("contact support")
	assert.Equal(t, "forbidden: Trial unavailable", err.Error())
	assert.Equal(t, "forbidden", handler.ErrForbidden.Error())

	var target handler.HTTPError
	require.ErrorAs(t, errors.Join(err, errDomain), &target)
	assert.Equal(t, http.StatusForbidden, target.Code)
}
