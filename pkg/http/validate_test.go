package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listRequest struct {
	Symbol string `query:"symbol" validate:"required,max=16"`
	From   string `query:"from" validate:"omitempty,datetime=2006-01-02"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

func bind(t *testing.T, target string) (*listRequest, []ValidationError) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	var r listRequest
	return &r, ReadAndValidateRequest(c, &r)
}

func TestReadAndValidateRequestAppliesDefaults(t *testing.T) {
	r, errs := bind(t, "/x?symbol=SPY&from=2024-01-02")
	require.Nil(t, errs)
	assert.Equal(t, "SPY", r.Symbol)
	assert.Equal(t, 50, r.Limit)
}

func TestReadAndValidateRequestReportsFields(t *testing.T) {
	_, verrs := bind(t, "/x?from=01/02/2024&limit=900")
	require.Len(t, verrs, 3)

	byField := map[string]ValidationError{}
	for _, v := range verrs {
		byField[v.Field] = v
	}
	assert.Equal(t, "ERR_REQUIRED", byField["Symbol"].Code)
	assert.Equal(t, "ERR_DATETIME", byField["From"].Code)
	assert.Equal(t, "2006-01-02", byField["From"].Params["layout"])
	assert.Equal(t, "ERR_LTE", byField["Limit"].Code)
	assert.Equal(t, "Limit must be <= 500", byField["Limit"].Message)
}

func TestReadAndValidateRequestMalformedBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("{"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	verrs := ReadAndValidateRequest(c, &listRequest{})
	require.Len(t, verrs, 1)
	assert.Equal(t, "ERR_MALFORMED", verrs[0].Code)
}

func TestDataResponseWritesStatus(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, NotFoundResponse(c, "no bars"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"status":404,"message":"Not Found","data":"no bars"}`, rec.Body.String())
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, NotFoundErrorf("symbol %s", "ZZZ").WithParam("symbol", "ZZZ")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"status":404,"message":"Not Found","data":[{"code":"ERR_NOT_FOUND","message":"symbol ZZZ","params":{"symbol":"ZZZ"}}]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, AppErrorResponse(c, errors.New("db password leaked")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}
