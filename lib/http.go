package lib

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gatekeeper-auth/gatekeeper/lib/auth"
	"github.com/gatekeeper-auth/gatekeeper/lib/localization"
)

// maxBodySize caps request bodies. Every request this server accepts is a
// handful of short strings.
const maxBodySize = 64 << 10

var ErrTrailingData = errors.New("lib: request body has data after the JSON object")

type errorResponse struct {
	Message string `json:"message"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("lib: can't decode request body: %w", err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return ErrTrailingData
	}

	return nil
}

func (s *Server) respondWithJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("can't write response", "path", r.URL.Path, "err", err)
	}
}

// respondWithMessage writes the localized text of a public message id.
func (s *Server) respondWithMessage(w http.ResponseWriter, r *http.Request, status int, messageID string) {
	localizer := localization.GetLocalizer(r)

	s.respondWithJSON(w, r, status, errorResponse{Message: localizer.T(messageID)})
}

// respondWithError logs err and reports it to the client. Only the public
// message of an *auth.Error is ever rendered; anything else becomes a generic
// internal error.
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, lg *slog.Logger, err error) {
	logAuthError(lg, err)

	var aerr *auth.Error
	if !errors.As(err, &aerr) {
		s.respondWithMessage(w, r, http.StatusInternalServerError, auth.MsgInternal)
		return
	}

	s.respondWithMessage(w, r, aerr.Kind.StatusCode(), aerr.Message)
}
