package httpapi

import (
	"io"
	"net/http"
)

// deviceView is one entry in GET /api/devices ("names,
// extensions, languages").
type deviceView struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Language  string `json:"language"`
}

type devicesListResponse struct {
	Devices []deviceView `json:"devices"`
}

// handleListDevices implements GET /api/devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	all := s.devices.All()
	views := make([]deviceView, 0, len(all))
	for _, d := range all {
		views = append(views, deviceView{
			Name:      d.Name,
			Extension: d.Extension,
			Language:  d.Language,
		})
	}
	writeJSON(w, http.StatusOK, devicesListResponse{Devices: views})
}

// handleReloadDevices implements POST /api/devices/reload: rebuilds the
// registry's lookup table from the backing store. Active calls keep the
// copy of the device they resolved at setup; only new lookups see the swap.
func (s *Server) handleReloadDevices(w http.ResponseWriter, r *http.Request) {
	if err := s.devices.Reload(r.Context()); err != nil {
		s.logger.Error("httpapi: device registry reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

const maxAudioUploadSize = 10 << 20 // 10 MB

type audioUploadResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

// handleAudioUpload implements POST /audio: accepts a raw audio body (used
// by the gateway side to hand back synthesized clips when it cannot reach
// the configured TTS providers directly) and stores it via the shared
// audio artifact store.
func (s *Server) handleAudioUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUploadSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body exceeds maximum upload size or could not be read")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	ext := extensionForContentType(r.Header.Get("Content-Type"))

	url, err := s.store.Save(data, ext)
	if err != nil {
		s.logger.Error("httpapi: saving uploaded audio failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store audio")
		return
	}

	writeJSON(w, http.StatusOK, audioUploadResponse{Success: true, URL: url})
}

func extensionForContentType(contentType string) string {
	switch contentType {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/ogg":
		return "ogg"
	default:
		return "bin"
	}
}
