package main

import (
	"encoding/json"
	"net/http"

	"github.com/convoserve/actionkernel/pkg/catalog"
	"github.com/convoserve/actionkernel/pkg/contracts"
	"github.com/convoserve/actionkernel/pkg/router"
)

// runRequest is the HTTP envelope for one action execution.
type runRequest struct {
	BotID         string                  `json:"botId"`
	ActionName    string                  `json:"actionName"`
	ActionArgs    map[string]any          `json:"actionArgs"`
	IncomingEvent *contracts.Event        `json:"incomingEvent"`
	ActionServer  *contracts.ActionServer `json:"actionServer,omitempty"`
}

type runResponse struct {
	IncomingEvent *contracts.Event `json:"incomingEvent"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
}

// newMux builds the service HTTP surface.
func newMux(svc *router.Service, reg *catalog.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/v1/actions/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
		if req.BotID == "" || req.ActionName == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "botId and actionName are required"})
			return
		}

		ev, err := svc.RunAction(r.Context(), router.Request{
			BotID:         req.BotID,
			ActionName:    req.ActionName,
			ActionArgs:    req.ActionArgs,
			ActionServer:  req.ActionServer,
			IncomingEvent: req.IncomingEvent,
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Action: req.ActionName})
			return
		}
		writeJSON(w, http.StatusOK, runResponse{IncomingEvent: ev})
	})

	mux.HandleFunc("/v1/bots/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		// /v1/bots/{botID}/actions
		botID, ok := botFromPath(r.URL.Path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		defs, err := reg.ListActions(r.Context(), botID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, defs)
	})

	return mux
}

func botFromPath(path string) (string, bool) {
	const prefix = "/v1/bots/"
	const suffix = "/actions"
	if len(path) <= len(prefix)+len(suffix) {
		return "", false
	}
	rest := path[len(prefix):]
	if len(rest) <= len(suffix) || rest[len(rest)-len(suffix):] != suffix {
		return "", false
	}
	return rest[:len(rest)-len(suffix)], true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
