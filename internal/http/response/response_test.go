package response

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
)

func TestFromErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domainagg.NewReasonError(domainagg.CodeNotFound, domainagg.ReasonParentNotFound, "op", "x"), http.StatusNotFound},
		{domainagg.NewReasonError(domainagg.CodeForbidden, domainagg.ReasonForbidden, "op", "x"), http.StatusForbidden},
		{domainagg.NewReasonError(domainagg.CodeConflict, domainagg.ReasonDuplicateMembership, "op", "x"), http.StatusConflict},
		{domainagg.NewReasonError(domainagg.CodeRetryable, domainagg.ReasonRaceLost, "op", "x"), http.StatusServiceUnavailable},
		{domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonSharingUnsupported, "op", "x"), http.StatusBadRequest},
		{domainagg.NewError(domainagg.CodeCanceled, "op", "gone", context.Canceled), statusClientClosedRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := FromError(tc.err).Status; got != tc.want {
			t.Fatalf("FromError(%v): want=%d got=%d", tc.err, tc.want, got)
		}
	}
}

func TestRespondAggregateErrorRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	RespondAggregateError(c, domainagg.NewReasonError(domainagg.CodeRetryable, domainagg.ReasonRaceLost, "op", "lost"))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: want=%d got=%d", http.StatusServiceUnavailable, rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After: want=1 got=%q", got)
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Reason != string(domainagg.ReasonRaceLost) {
		t.Fatalf("reason: want=%s got=%s", domainagg.ReasonRaceLost, env.Error.Reason)
	}
}

func TestRespondAggregateErrorHidesInternalCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	RespondAggregateError(c, errors.New("pq: password authentication failed"))

	var env ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Message != "internal error" || env.Error.Code != "internal" {
		t.Fatalf("unexpected envelope: %+v", env.Error)
	}
}

func TestCanceledHasNoRetryAfter(t *testing.T) {
	ae := FromError(domainagg.Wrap(domainagg.CodeCanceled, "op", context.Canceled))
	if ae.RetryAfter != 0 {
		t.Fatalf("canceled write must not invite a retry, got Retry-After=%s", ae.RetryAfter)
	}
	if ae.Code != string(domainagg.CodeCanceled) {
		t.Fatalf("code: want=canceled got=%s", ae.Code)
	}
}
