// internal/handler/errors.go
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/EmbarkStudios/cervo/pkg/cerrors"
)

// writeRuntimeError maps a cerrors.Error (or an opaque error) to an
// appropriate HTTP status code and writes it as a JSON body.
func writeRuntimeError(w http.ResponseWriter, err error) {
	kind, ok := cerrors.KindOf(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case cerrors.KindUnknownBrain:
		status = http.StatusNotFound
	case cerrors.KindUnknownInputKey, cerrors.KindShapeMismatch, cerrors.KindNoMatchingBatchSize, cerrors.KindNoRecurrentPairs:
		status = http.StatusBadRequest
	case cerrors.KindOrphanedData:
		status = http.StatusConflict
	case cerrors.KindGraphIntrospection, cerrors.KindExecution, cerrors.KindInternal:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind.String()})
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
