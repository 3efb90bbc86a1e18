// Package convertd is a conversion service: it accepts MusicXML uploads and
// returns Standard MIDI Files, streaming progress to subscribers.
package convertd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/zurustar/scoresync/pkg/apiclient"
	"github.com/zurustar/scoresync/pkg/logger"
	"github.com/zurustar/scoresync/pkg/musicxml"
)

// DefaultMaxUploadSize limits request bodies of POST /convert.
const DefaultMaxUploadSize = 10 << 20

// Progress statuses broadcast during a conversion.
const (
	StatusStarted    = "started"
	StatusParsing    = "parsing"
	StatusConverting = "converting"
	StatusDone       = "done"
	StatusError      = "error"
)

// Options configures a Server.
type Options struct {
	Version       string
	MaxUploadSize int64
	Logger        *slog.Logger
}

// Server routes the conversion API.
type Server struct {
	router  *mux.Router
	log     *slog.Logger
	version string
	maxBody int64
	hub     *hub
}

// New creates a server with its routes registered.
func New(opts Options) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		log:     opts.Logger,
		version: opts.Version,
		maxBody: opts.MaxUploadSize,
		hub:     newHub(),
	}
	if s.log == nil {
		s.log = logger.GetLogger()
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxUploadSize
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/convert", s.handleConvert).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/convert/stream", s.handleStream).Methods(http.MethodGet, http.MethodOptions)
	s.router.Use(mux.CORSMethodMiddleware(s.router), cors)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Subscribers returns the number of open progress streams.
func (s *Server) Subscribers() int {
	return s.hub.len()
}

// Close ends every open progress stream.
func (s *Server) Close() {
	s.hub.closeAll()
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     s.version,
		"subscribers": s.hub.len(),
	})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxBody {
		writeError(w, http.StatusRequestEntityTooLarge, apiclient.MsgFileTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, apiclient.MsgFileTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, apiclient.MsgFileTooLarge)
		return
	}
	name := header.Filename
	s.log.Info("Conversion requested", "file", name, "size", len(data))
	s.hub.publish(apiclient.Progress{Status: StatusStarted, Message: fmt.Sprintf("Received %s", name)})

	if apiclient.IsPDF(name, header.Header.Get("Content-Type"), data) {
		s.fail(w, http.StatusUnsupportedMediaType, apiclient.MsgUnsupportedType)
		return
	}

	s.hub.publish(apiclient.Progress{Status: StatusParsing, Message: "Parsing MusicXML"})
	score, err := musicxml.DecodeBytes(data)
	if err != nil {
		s.log.Warn("Failed to parse score", "file", name, "error", err)
		s.fail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.hub.publish(apiclient.Progress{Status: StatusConverting, Message: "Converting to MIDI"})
	f, _, err := score.Convert()
	if err != nil {
		s.fail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	out, err := f.Bytes()
	if err != nil {
		s.log.Error("Failed to encode MIDI", "file", name, "error", err)
		s.fail(w, http.StatusInternalServerError, apiclient.MsgServerError)
		return
	}

	s.hub.publish(apiclient.Progress{Status: StatusDone, Message: "Conversion complete"})
	w.Header().Set("Content-Type", "audio/midi")
	w.Header().Set("Content-Disposition", `attachment; filename="score.mid"`)
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	s.hub.publish(apiclient.Progress{Status: StatusError, Message: msg})
	writeError(w, status, msg)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	ch, unsubscribe := s.hub.subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// hub fans progress updates out to stream subscribers. Slow subscribers
// miss updates rather than block conversions.
type hub struct {
	mu   sync.Mutex
	subs map[chan apiclient.Progress]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan apiclient.Progress]struct{})}
}

func (h *hub) subscribe() (<-chan apiclient.Progress, func()) {
	ch := make(chan apiclient.Progress, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *hub) publish(p apiclient.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
