package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/gateway"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
)

// Response headers describing how a request was routed.
const (
	ProviderHeader = "X-Aimux-Provider"
	AttemptsHeader = "X-Aimux-Attempts"
)

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req routing.Request
	if status, err := decodeJSON(r, &req); err != nil {
		writeError(w, status, routing.CodeInvalidRequest, err.Error())
		return
	}

	var resp *routing.Response
	if name := r.Header.Get(ProviderHeader); name != "" {
		resp = s.manager.RouteToProvider(r.Context(), name, &req)
	} else {
		resp = s.manager.RouteRequest(r.Context(), &req)
	}
	writeRouted(w, resp)
}

// writeRouted writes a gateway response. Provider bodies are passed through
// unchanged; failures already carry a JSON error body.
func writeRouted(w http.ResponseWriter, resp *routing.Response) {
	if resp.ProviderName != "" {
		w.Header().Set(ProviderHeader, resp.ProviderName)
	}
	w.Header().Set(AttemptsHeader, strconv.Itoa(resp.Attempts))

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
		if !resp.Success {
			status = http.StatusInternalServerError
		}
	}
	writeRaw(w, status, []byte(resp.Data))
}

// decodeJSON decodes the request body into v and returns the status to
// answer with on failure.
func decodeJSON(r *http.Request, v any) (int, error) {
	if r.Body == nil {
		return http.StatusBadRequest, errors.New("request body is empty")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err)
	}
	return http.StatusOK, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeRaw(w, status, gateway.NewErrorBody(code, message, time.Now()))
}

// writeGatewayError maps a typed gateway error to its status and code.
func writeGatewayError(w http.ResponseWriter, err error) {
	writeError(w, routing.StatusCode(err), routing.ErrorCode(err), err.Error())
}
