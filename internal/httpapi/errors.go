package httpapi

import (
	"net/http"
	"strconv"

	svcerrors "github.com/bridevmx/nanodb/internal/obs/errors"
	"github.com/bridevmx/nanodb/internal/obs/httputil"
)

// writeError inspects err's *errors.ServiceError (wrapping anything else as
// ErrCodeInternal) and writes {code, message, details} at HTTPStatus,
// setting Retry-After for an overloaded write buffer.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("unexpected error", err)
	}

	if se.Code == svcerrors.ErrCodeOverload {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

const retryAfterSeconds = 1
