package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenValidation(t *testing.T) {
	t.Parallel()

	_, _, err := GenerateToken("", "secret", time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken("ops", "", time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken("ops", "secret", 0)
	assert.Error(t, err)
}

func TestMiddlewareAcceptsOperatorToken(t *testing.T) {
	t.Parallel()

	secret := "test-secret"
	signed, expiresAt, err := GenerateToken("ops", secret, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	e := echo.New()
	e.Use(JWTMiddleware(secret, func(c echo.Context) bool { return c.Path() == "/ping" }))
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/admin", func(c echo.Context) error {
		subject, err := OperatorFromContext(c)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, subject)
	})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusUnauthorized}, rec.Code, "missing token is refused")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	signed, _, err := GenerateToken("ops", "other-secret", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	e.Use(JWTMiddleware("test-secret", nil))
	e.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOperatorFromContextRejectsForeignTokens(t *testing.T) {
	t.Parallel()

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	_, err := OperatorFromContext(c)
	require.Error(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "someone"})
	token.Valid = true
	c.Set("user", token)
	_, err = OperatorFromContext(c)
	require.Error(t, err)
}
