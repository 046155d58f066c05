package errors

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/stridelab/stride/internal/observability/logger"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError serializa el error al cliente. Los 5xx se loguean con su causa;
// el cliente nunca ve el detalle interno.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	if appErr.HTTPStatus >= 500 {
		logger.Named("http").Error("request failed",
			zap.String("code", appErr.Code),
			zap.Error(appErr.Err),
		)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}
