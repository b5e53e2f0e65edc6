package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"outpass/internal/leave"
)

var statusByKind = map[error]int{
	leave.ErrInvalidWindow:        http.StatusBadRequest,
	leave.ErrInvalidRequest:       http.StatusBadRequest,
	leave.ErrUnauthorized:         http.StatusForbidden,
	leave.ErrRequestNotFound:      http.StatusNotFound,
	leave.ErrStudentNotFound:      http.StatusNotFound,
	leave.ErrAlreadyPending:       http.StatusConflict,
	leave.ErrNotInCampus:          http.StatusConflict,
	leave.ErrAlreadyFinalized:     http.StatusConflict,
	leave.ErrNotApproved:          http.StatusConflict,
	leave.ErrCannotForwardFurther: http.StatusUnprocessableEntity,
}

// statusOf maps a service error onto an HTTP status.
func statusOf(err error) int {
	for kind, status := range statusByKind {
		if errors.Is(err, kind) {
			return status
		}
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Error(err, "[http] %s %s", c.Request.Method, c.FullPath())
		c.AbortWithStatusJSON(status, gin.H{"error": "internal", "message": "internal server error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": leave.KindOf(err), "message": leave.MessageOf(err)})
}

func badRequest(c *gin.Context, err error) {
	msg := err.Error()
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		msg = verrs[0].Field() + " failed " + verrs[0].Tag() + " validation"
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": leave.ErrInvalidRequest.Error(), "message": msg})
}
