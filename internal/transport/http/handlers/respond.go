package handlers

import (
	"encoding/json"
	"net/http"

	httperrors "github.com/ivankudzin/creditpay/internal/transport/http/errors"
)

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.New(r, code, message))
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.New(r, code, message))
}

func writeForbidden(w http.ResponseWriter, r *http.Request, code, message string) {
	httperrors.Write(w, http.StatusForbidden, httperrors.New(r, code, message))
}

func writeNotFound(w http.ResponseWriter, r *http.Request, code, message string) {
	httperrors.Write(w, http.StatusNotFound, httperrors.New(r, code, message))
}

func writeInternal(w http.ResponseWriter, r *http.Request, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.New(r, code, message))
}
