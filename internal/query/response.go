package query

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/gin-gonic/gin"
)

// API response envelope.
//
// Success:
//
//	{"code":0,"data":...}
//
// Error:
//
//	{"code":<http status>,"err":"...","kind":"VALIDATION","field":"limit"}
func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": data,
	})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{
		"code": 0,
		"data": data,
	})
}

func respondErr(c *gin.Context, status int, errMsg string) {
	errMsg = strings.TrimSpace(errMsg)
	if errMsg == "" {
		errMsg = http.StatusText(status)
	}
	c.JSON(status, gin.H{
		"code": status,
		"err":  errMsg,
	})
}

// respondError renders a classified error. Internal causes are not echoed.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	body := gin.H{"code": status, "kind": apperr.KindOf(err)}
	var ae *apperr.Error
	switch {
	case status == http.StatusInternalServerError:
		body["err"] = http.StatusText(status)
	case errors.As(err, &ae):
		body["err"] = ae.Message
		if ae.Message == "" {
			body["err"] = http.StatusText(status)
		}
		if ae.Field != "" {
			body["field"] = ae.Field
		}
	default:
		body["err"] = err.Error()
	}
	_ = c.Error(err)
	c.JSON(status, body)
}
