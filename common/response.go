package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope of every admin API reply.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Success writes data with a 200 status.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Message: "success", Data: data})
}

// ErrorWithHttpStatus aborts the request with an error envelope.
func ErrorWithHttpStatus(c *gin.Context, httpStatus int, code int, message string) {
	c.AbortWithStatusJSON(httpStatus, Response{Code: code, Message: message})
}

func BadRequest(c *gin.Context, message string) {
	ErrorWithHttpStatus(c, http.StatusBadRequest, http.StatusBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	ErrorWithHttpStatus(c, http.StatusUnauthorized, http.StatusUnauthorized, message)
}

func NotFound(c *gin.Context, message string) {
	ErrorWithHttpStatus(c, http.StatusNotFound, http.StatusNotFound, message)
}

func InternalServerError(c *gin.Context, message string) {
	ErrorWithHttpStatus(c, http.StatusInternalServerError, http.StatusInternalServerError, message)
}

// OpenAIError writes an error in the OpenAI wire shape so SDK clients can parse it.
func OpenAIError(c *gin.Context, httpStatus int, errType string, message string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"error": gin.H{
			"message": message,
			"type":    errType,
			"code":    httpStatus,
		},
	})
}
