package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/pantry/auth"
	"github.com/kasuganosora/pantry/docstore"
)

// Error codes carried in the "code" field of document error responses.
const (
	CodeNotFound           = "not-found"
	CodeAborted            = "aborted"
	CodeInvalidArgument    = "invalid-argument"
	CodeFailedPrecondition = "failed-precondition"
	CodeUnavailable        = "unavailable"
)

// abortStore maps a docstore error to a status code and JSON body.
func abortStore(c *gin.Context, err error) {
	_ = c.Error(err)
	status, code := http.StatusServiceUnavailable, CodeUnavailable
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		status, code = http.StatusNotFound, CodeNotFound
	case errors.Is(err, docstore.ErrAborted):
		status, code = http.StatusConflict, CodeAborted
	case errors.Is(err, docstore.ErrInvalidArgument):
		status, code = http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(err, docstore.ErrNotInteger):
		status, code = http.StatusBadRequest, CodeFailedPrecondition
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the body
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code})
}

// abortAuth maps a provider error to a status code and JSON body.
func abortAuth(c *gin.Context, err error) {
	_ = c.Error(err)
	var ae *auth.Error
	if !errors.As(err, &ae) {
		c.AbortWithStatusJSON(http.StatusInternalServerError,
			gin.H{"error": "internal error", "code": auth.CodeInternal})
		return
	}
	status := http.StatusInternalServerError
	switch ae.Code {
	case auth.CodeInvalidEmail, auth.CodeWeakPassword:
		status = http.StatusBadRequest
	case auth.CodeEmailInUse:
		status = http.StatusConflict
	case auth.CodeInvalidCredential:
		status = http.StatusUnauthorized
	case auth.CodeUserDisabled:
		status = http.StatusForbidden
	}
	c.AbortWithStatusJSON(status, gin.H{"error": ae.Message, "code": ae.Code})
}

// bindJSON decodes the request body keeping numbers as json.Number.
func bindJSON(c *gin.Context, v interface{}) bool {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest,
			gin.H{"error": "malformed request body", "code": CodeInvalidArgument})
		return false
	}
	return true
}
