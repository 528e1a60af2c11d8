package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// queryRequest is the wire body of POST /api/query.
type queryRequest struct {
	Target  string `json:"target"`
	Query   string `json:"query"`
	Format  string `json:"format"`
	Timeout int    `json:"timeout"`
}

type deviceRef struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
}

type queryResponseBody struct {
	Raw    string          `json:"raw"`
	Data   json.RawMessage `json:"data,omitempty"`
	Format string          `json:"format"`
}

type queryMeta struct {
	DurationMS int64 `json:"duration_ms"`
}

type queryResponse struct {
	Success  bool              `json:"success"`
	Device   deviceRef         `json:"device"`
	Response queryResponseBody `json:"response"`
	Meta     queryMeta         `json:"meta"`
}

const defaultQueryTimeoutSeconds = 30

// jsonFormatDirective is appended to the prompt when format=json was
// requested.
const jsonFormatDirective = "\n\nReply with a single raw JSON object only. No code fences, no prose, no explanation before or after it."

// repairDirective replaces jsonFormatDirective on the one retry attempt
// after a parse failure.
const repairDirective = "\n\nYour previous reply could not be parsed as JSON. Reply again with ONLY a single raw JSON object: no code fences, no markdown, no surrounding text of any kind."

// handleQuery implements POST /api/query: a synchronous, call-less AI
// Bridge query against a device's personality, with an optional JSON
// repair retry.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryRequest
	if msg := readJSON(w, r, &body); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if msg := validateStringLen("target", body.Target, 1, 200); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateStringLen("query", body.Query, 1, 4000); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateFormat(body.Format); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateQueryTimeout(body.Timeout); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	format := body.Format
	if format == "" {
		format = "text"
	}

	dev, ok := s.devices.Lookup(body.Target)
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	timeout := body.Timeout
	if timeout == 0 {
		timeout = defaultQueryTimeoutSeconds
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(timeout)*time.Second)
	defer cancel()

	start := time.Now()

	prompt := dev.SystemPrompt + "\n\n" + body.Query
	if format == "json" {
		prompt += jsonFormatDirective
	}

	raw, err := s.ai.Query(ctx, prompt)
	if err != nil {
		writeErrKind(w, err)
		return
	}

	resp := queryResponse{
		Success: true,
		Device:  deviceRef{Name: dev.Name, Extension: dev.Extension},
		Response: queryResponseBody{
			Raw:    raw,
			Format: format,
		},
	}

	if format != "json" {
		resp.Meta.DurationMS = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if data, ok := parseJSONReply(raw); ok {
		resp.Response.Data = data
		resp.Meta.DurationMS = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	repairPrompt := dev.SystemPrompt + "\n\n" + body.Query + repairDirective
	raw2, err := s.ai.Query(ctx, repairPrompt)
	if err != nil {
		writeErrKind(w, err)
		return
	}
	resp.Response.Raw = raw2

	if data, ok := parseJSONReply(raw2); ok {
		resp.Response.Data = data
		resp.Meta.DurationMS = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Success = false
	resp.Meta.DurationMS = time.Since(start).Milliseconds()
	writeJSON(w, http.StatusUnprocessableEntity, resp)
}

// parseJSONReply strips defensive code-fence wrapping from a model reply
// and attempts to parse it as a single JSON object.
func parseJSONReply(raw string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if trimmed == "" {
		return nil, false
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, false
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, false
	}
	if _, isObject := v.(map[string]any); !isObject {
		return nil, false
	}

	compact := make(map[string]any)
	if err := json.Unmarshal([]byte(trimmed), &compact); err != nil {
		return nil, false
	}
	out, err := json.Marshal(compact)
	if err != nil {
		return nil, false
	}
	return json.RawMessage(out), true
}
