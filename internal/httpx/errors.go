package httpx

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/pkg/apierror"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/pkg/response"
)

type stateDetails struct {
	OrderID         string        `json:"order_id"`
	CurrentStatus   orders.Status `json:"current_status"`
	RequestedStatus orders.Status `json:"requested_status,omitempty"`
}

// toAPIError maps domain errors to responses. Unknown errors become 500.
func toAPIError(err error) *apierror.Error {
	var (
		invalid    *orders.ValidationError
		short      *orders.InsufficientStockError
		unknown    *orders.UnknownSKUError
		transition *orders.InvalidTransitionError
		notYours   *orders.NotAssignedAgentError
		fault      *orders.ConsistencyFaultError
		apiErr     *apierror.Error
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &invalid):
		return apierror.ValidationError(invalid.Error(), apierror.FieldError{Field: invalid.Field, Message: invalid.Reason})
	case errors.As(err, &short):
		return apierror.New(http.StatusConflict, "INSUFFICIENT_STOCK", short.Error()).WithDetails(short)
	case errors.As(err, &unknown):
		return apierror.New(http.StatusUnprocessableEntity, "UNKNOWN_SKU", unknown.Error()).WithDetails(unknown)
	case errors.Is(err, orders.ErrPaymentReferenceInUse):
		return apierror.New(http.StatusConflict, "PAYMENT_REFERENCE_IN_USE", "payment reference already used by another order")
	case errors.Is(err, orders.ErrAlreadyAssigned):
		return apierror.New(http.StatusConflict, "ALREADY_ASSIGNED", "order already taken, pick another one")
	case errors.As(err, &transition):
		return apierror.New(http.StatusConflict, "INVALID_TRANSITION", transition.Error()).WithDetails(stateDetails{
			OrderID: transition.OrderID, CurrentStatus: transition.Current, RequestedStatus: transition.Requested,
		})
	case errors.As(err, &notYours):
		return apierror.New(http.StatusForbidden, "NOT_ASSIGNED_AGENT", notYours.Error()).WithDetails(stateDetails{
			OrderID: notYours.OrderID, CurrentStatus: notYours.Current,
		})
	case errors.Is(err, orders.ErrOrderNotFound):
		return apierror.NotFound("order not found")
	case errors.Is(err, orders.ErrAgentNotFound):
		return apierror.NotFound("agent not found")
	case errors.Is(err, orders.ErrAgentInactive):
		return apierror.New(http.StatusForbidden, "AGENT_INACTIVE", "agent is inactive")
	case errors.As(err, &fault):
		return apierror.New(http.StatusInternalServerError, "CONSISTENCY_FAULT", "order could not be recorded; stock will be reconciled")
	case errors.Is(err, orders.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return apierror.ServiceUnavailable("")
	}
	return apierror.InternalError("")
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	apiErr := toAPIError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	}
	response.Error(w, apiErr)
}
