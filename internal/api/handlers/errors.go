package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/Fantasim/nbtcbridge/internal/api"
)

// ErrInvalidConsensusKey is returned when a request supplies a
// consensusKey that doesn't decode to 32 raw bytes.
var ErrInvalidConsensusKey = errors.New("consensusKey must be 32 bytes hex-encoded")

func writeBadRequest(w http.ResponseWriter, message string) {
	api.WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func writeInternalError(w http.ResponseWriter, message string, err error) {
	api.WriteError(w, http.StatusInternalServerError, "internal_error", message+": "+err.Error())
}

func secsToDuration(secs int64) time.Duration {
	return time.Duration(secs) * time.Second
}
