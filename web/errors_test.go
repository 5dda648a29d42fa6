package web

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	berrors "github.com/ota-server/updateserver/errors"
)

func TestStatusCodeFromErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{berrors.BadRequestError("x"), http.StatusBadRequest},
		{berrors.NotFoundError("x"), http.StatusNotFound},
		{berrors.ConflictError("x"), http.StatusConflict},
		{berrors.ValidationError("x"), http.StatusBadRequest},
		{berrors.ConfigError("x"), http.StatusInternalServerError},
		{berrors.ForbiddenPathError("x"), http.StatusForbidden},
		{berrors.InternalError("x"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusCodeFromError(c.err), "error %v", c.err)
	}
}
