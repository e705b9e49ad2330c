package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"soporte_wa/internal/services"
	"soporte_wa/internal/whatsapp"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// errBadRequest marks malformed input
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// maxBodyBytes bounds request bodies; media arrive base64 encoded
const maxBodyBytes = 64 << 20

// decode reads a JSON body into dst and validates it
func decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return badRequest("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return badRequest("invalid fields: %s", strings.Join(fields, ", "))
		}
		return badRequest("%v", err)
	}
	return nil
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func fail(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// failErr answers with the status matching err
func failErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	fail(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, whatsapp.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, whatsapp.ErrInstanceNotConnected), errors.Is(err, services.ErrAgentInactive):
		return http.StatusConflict
	case errors.Is(err, services.ErrForeignContact):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidToken), errors.Is(err, services.ErrInvalidAdminKey):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrAgentNotFound),
		errors.Is(err, whatsapp.ErrMessageNotFound),
		errors.Is(err, whatsapp.ErrNoPairingCode),
		errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, services.ErrInvalidClassification):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errNotFound = errors.New("not found")
