package response

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder/internal/platform/apierr"
)

const retryAfter = time.Second

// statusClientClosedRequest is nginx's code for a request the client
// abandoned before the response.
const statusClientClosedRequest = 499

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// FromError maps an aggregate failure onto its HTTP shape. Anything that is
// not an aggregate error is an internal error.
func FromError(err error) *apierr.Error {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae
	}
	out := &apierr.Error{
		Code:   string(domainagg.CodeOf(err)),
		Reason: string(domainagg.ReasonOf(err)),
		Err:    err,
	}
	switch domainagg.CodeOf(err) {
	case domainagg.CodeValidation:
		out.Status = http.StatusBadRequest
	case domainagg.CodeNotFound:
		out.Status = http.StatusNotFound
	case domainagg.CodeForbidden:
		out.Status = http.StatusForbidden
	case domainagg.CodeConflict, domainagg.CodeInvariantViolation:
		out.Status = http.StatusConflict
	case domainagg.CodePreconditionFailed:
		out.Status = http.StatusPreconditionFailed
	case domainagg.CodeRetryable:
		out.Status = http.StatusServiceUnavailable
		out.RetryAfter = retryAfter
	case domainagg.CodeCanceled:
		out.Status = statusClientClosedRequest
	default:
		out.Status = http.StatusInternalServerError
		out.Code = string(domainagg.CodeInternal)
	}
	return out
}

// RespondAggregateError writes err using FromError. Internal errors do not
// leak their cause to the client.
func RespondAggregateError(c *gin.Context, err error) {
	ae := FromError(err)
	if ae.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(ae.RetryAfter/time.Second)))
	}
	msg := ae.Error()
	if ae.Status >= http.StatusInternalServerError && ae.Status != http.StatusServiceUnavailable {
		msg = "internal error"
	}
	c.JSON(ae.Status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    ae.Code,
			Reason:  ae.Reason,
		},
	})
}
