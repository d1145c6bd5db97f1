package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/engine"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/pseudonym"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/websocket"
)

// anonymizeRequest is the POST /v1/anonymize payload. Options fields are
// pointers so omitted values fall back to the configured defaults.
type anonymizeRequest struct {
	Data    interface{}       `json:"data"`
	Options *anonymizeOptions `json:"options,omitempty"`
}

type anonymizeOptions struct {
	EnablePseudonyms    *bool  `json:"enablePseudonyms,omitempty"`
	PreserveStructure   *bool  `json:"preserveStructure,omitempty"`
	MaxProcessingTimeMs *int64 `json:"maxProcessingTime,omitempty"`
}

type anonymizeResponse struct {
	Processor string          `json:"processor"`
	Data      interface{}     `json:"data"`
	Metadata  engine.Metadata `json:"metadata"`
}

// options builds engine options from configured defaults plus request
// overrides. The hash salt is fixed per process and never caller-supplied.
func (s *Server) options(req *anonymizeRequest) engine.Options {
	opts := engine.Options{
		EnablePseudonyms:  s.config.Anonymizer.EnablePseudonyms,
		PreserveStructure: s.config.Anonymizer.PreserveStructure,
		MaxProcessingTime: s.config.Anonymizer.MaxProcessingTime,
		HashSalt:          s.config.Anonymizer.HashSalt,
	}
	if req.Options == nil {
		return opts
	}
	if req.Options.EnablePseudonyms != nil {
		opts.EnablePseudonyms = *req.Options.EnablePseudonyms
	}
	if req.Options.PreserveStructure != nil {
		opts.PreserveStructure = *req.Options.PreserveStructure
	}
	if req.Options.MaxProcessingTimeMs != nil && *req.Options.MaxProcessingTimeMs > 0 {
		opts.MaxProcessingTime = time.Duration(*req.Options.MaxProcessingTimeMs) * time.Millisecond
	}
	return opts
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	var req anonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	opts := s.options(&req)
	requestID := getRequestID(r.Context())

	processorName := "engine"
	var result engine.Result
	if p, ok := s.registry.For(req.Data); ok {
		processorName = p.Type()
		var err error
		result, err = p.Process(r.Context(), req.Data, opts)
		if err != nil {
			s.logger.WithRequestID(requestID).Error("Processor failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "anonymization failed")
			return
		}
	} else {
		result = s.engine.Anonymize(r.Context(), req.Data, opts)
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeAnonymization,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: websocket.AnonymizationEvent{
			RequestID:      requestID,
			Processor:      processorName,
			RulesApplied:   result.Metadata.RulesApplied,
			PseudonymsUsed: result.Metadata.PseudonymsUsed,
			ProcessingMS:   result.Metadata.ProcessingTimeMs,
			Partial:        !result.Metadata.IsAnonymized,
		},
	})

	writeJSON(w, http.StatusOK, anonymizeResponse{
		Processor: processorName,
		Data:      result.Data,
		Metadata:  result.Metadata,
	})
}

func (s *Server) handleExportMappings(w http.ResponseWriter, r *http.Request) {
	mappings := s.engine.Mappings().Export()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mappings": mappings,
		"count":    len(mappings),
	})
}

func (s *Server) handleImportMappings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mappings []pseudonym.Mapping `json:"mappings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	added := s.engine.Mappings().Import(req.Mappings)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"imported": added,
		"total":    s.engine.Mappings().GetStats().TotalMappings,
	})
}

func (s *Server) handleClearMappings(w http.ResponseWriter, r *http.Request) {
	s.engine.Mappings().Clear()
	w.WriteHeader(http.StatusNoContent)
}

// handlePersistMappings pushes the in-memory table to the durable store and
// the warm cache.
func (s *Server) handlePersistMappings(w http.ResponseWriter, r *http.Request) {
	if s.db == nil && s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "no mapping persistence configured")
		return
	}

	mappings := s.engine.Mappings().Export()
	response := map[string]interface{}{"count": len(mappings)}

	if s.db != nil {
		result, err := s.db.SaveAll(r.Context(), mappings)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to persist mappings")
			return
		}
		response["store"] = result
	}
	if s.cache != nil {
		if err := s.cache.PutBatch(r.Context(), mappings); err != nil {
			s.logger.Warn("Failed to warm mapping cache", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleRestoreMappings rebuilds the in-memory table from the durable
// store, falling back to the warm cache.
func (s *Server) handleRestoreMappings(w http.ResponseWriter, r *http.Request) {
	if s.db == nil && s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "no mapping persistence configured")
		return
	}

	var mappings []pseudonym.Mapping
	var err error
	if s.db != nil {
		mappings, err = s.db.LoadAll(r.Context())
	} else {
		mappings, err = s.cache.LoadAll(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load mappings")
		return
	}

	added := s.engine.Mappings().Import(mappings)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loaded":   len(mappings),
		"imported": added,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":    s.engine.GetStats(),
		"mappings":  s.engine.Mappings().GetStats(),
		"websocket": s.wsHub.GetStats(),
		"uptime":    time.Since(s.started).String(),
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	type ruleInfo struct {
		Type        string `json:"type"`
		Category    string `json:"category"`
		Replacement string `json:"replacement"`
		Priority    int    `json:"priority"`
		Pattern     string `json:"pattern"`
	}

	all := s.engine.Rules().All()
	out := make([]ruleInfo, 0, len(all))
	for _, rule := range all {
		out = append(out, ruleInfo{
			Type:        string(rule.Type),
			Category:    string(rule.Category),
			Replacement: string(rule.Replacement),
			Priority:    rule.Priority,
			Pattern:     rule.Pattern.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": out})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
