package gateway

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	echo "github.com/labstack/echo/v5"
)

// requestValidator runs struct-tag validation on bound request DTOs, one
// shared instance since validator.Validate caches struct reflection
// metadata internally and is safe for concurrent use.
var requestValidator = validator.New()

// bindAndValidate binds the request body into dst and runs its
// `validate` struct tags, returning a 400 on either failure.
func bindAndValidate(c *echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := requestValidator.Struct(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
