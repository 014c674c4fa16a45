package mockrepl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kingrea/streamline/internal/module"
	"github.com/kingrea/streamline/internal/remote"
)

type sendCodePayload struct {
	Src *string `json:"src"`
}

type undefinePayload struct {
	Module string `json:"module"`
}

type rangePayload struct {
	Start  *int   `json:"start"`
	Stop   *int   `json:"stop"`
	Module string `json:"module"`
}

func (p rangePayload) blocks() BlockRange {
	return BlockRange{Start: *p.Start, Stop: *p.Stop}
}

func defaultEvaluator(src string) string {
	return fmt.Sprintf("ok: evaluated %d bytes", len(src))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeText(w, http.StatusMethodNotAllowed, "error: method not allowed")
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, remote.RouteSendCode)
	if !ok {
		return
	}
	var payload sendCodePayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Src == nil {
		writeText(w, http.StatusBadRequest, "error: expected {\"src\": <text>}")
		return
	}
	if name := module.DeclaredName(*payload.Src); name != "" {
		s.define(name)
	}
	writeText(w, http.StatusOK, s.evaluator(*payload.Src))
}

func (s *Server) handleUndefine(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, remote.RouteUndefineModule)
	if !ok {
		return
	}
	var payload undefinePayload
	if err := json.Unmarshal(body, &payload); err != nil || strings.TrimSpace(payload.Module) == "" {
		writeText(w, http.StatusBadRequest, "error: expected {\"module\": <name>}")
		return
	}
	s.mu.Lock()
	_, existed := s.defined[payload.Module]
	delete(s.defined, payload.Module)
	s.mu.Unlock()
	if !existed {
		writeText(w, http.StatusOK, fmt.Sprintf("ok: %s not defined", payload.Module))
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("ok: %s undefined", payload.Module))
}

func (s *Server) handleLoadBlocks(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, remote.RouteLoadBlocks)
	if !ok {
		return
	}
	payload, ok := parseRange(w, body)
	if !ok {
		return
	}
	blocks := payload.blocks()
	s.mu.Lock()
	s.loaded = &blocks
	s.mu.Unlock()
	writeText(w, http.StatusOK, fmt.Sprintf("ok: loaded blocks %d..%d", blocks.Start, blocks.Stop))
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, remote.RouteExecuteModule)
	if !ok {
		return
	}
	payload, ok := parseRange(w, body)
	if !ok {
		return
	}
	blocks := payload.blocks()
	if strings.TrimSpace(payload.Module) == "" {
		writeText(w, http.StatusBadRequest, "error: module is required")
		return
	}
	s.mu.Lock()
	loaded := s.loaded
	stale := loaded == nil || !loaded.Covers(blocks)
	if !stale {
		s.defined[payload.Module] = struct{}{}
	}
	s.mu.Unlock()
	if stale {
		writeText(w, http.StatusConflict, fmt.Sprintf("error: blocks %d..%d are not loaded", blocks.Start, blocks.Stop))
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("ok: executed %s over blocks %d..%d", payload.Module, blocks.Start, blocks.Stop))
}

// readBody enforces POST, records the request and applies the configured delay.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, route string) ([]byte, bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeText(w, http.StatusMethodNotAllowed, "error: method not allowed")
		return nil, false
	}
	reader := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeText(w, http.StatusRequestEntityTooLarge, "error: payload exceeds limit")
			return nil, false
		}
		writeText(w, http.StatusBadRequest, "error: unable to read body")
		return nil, false
	}
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Route:     route,
		RequestID: r.Header.Get(remote.RequestIDHeader),
		Body:      body,
		Received:  s.clock(),
	})
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			return nil, false
		}
	}
	return body, true
}

// parseRange decodes a load or execute body. On failure the 400 reply has
// already been written.
func parseRange(w http.ResponseWriter, body []byte) (rangePayload, bool) {
	var payload rangePayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Start == nil || payload.Stop == nil {
		writeText(w, http.StatusBadRequest, "error: expected {\"start\": <int>, \"stop\": <int>}")
		return rangePayload{}, false
	}
	if *payload.Start > *payload.Stop {
		writeText(w, http.StatusBadRequest, "error: start must not exceed stop")
		return rangePayload{}, false
	}
	return payload, true
}

func (s *Server) define(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defined[name] = struct{}{}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
