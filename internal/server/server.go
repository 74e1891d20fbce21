// Package server exposes the voice catalog and synthesis over HTTP.
//
// Routes:
//
//	GET  /v1/languages                     language names in catalog order
//	GET  /v1/languages/{language}/models   voice identifiers for a language
//	POST /v1/synthesize                    16-bit PCM WAV
//	GET  /healthz, /readyz                 probes (when a health handler is set)
//	GET  /metrics                          Prometheus exposition
//
// Errors are JSON objects of the form {"error": "..."}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/ttshub/internal/health"
	"github.com/MrWong99/ttshub/internal/observe"
	"github.com/MrWong99/ttshub/internal/synth"
	"github.com/MrWong99/ttshub/pkg/audio"
)

// Response headers carrying the synthesis diagnostics.
const (
	HeaderWaveDuration   = "X-Wave-Duration"
	HeaderProcessingTime = "X-Processing-Time"
	HeaderRTF            = "X-RTF"
	HeaderModel          = "X-Model"
	HeaderLanguage       = "X-Language"
)

// DefaultMaxTextLength is used when no limit is configured.
const DefaultMaxTextLength = 4096

// maxBodyOverhead is the room left in a request body for the JSON fields
// around the text.
const maxBodyOverhead = 4 << 10

// Synthesizer is the part of [*synth.Service] the server needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error)
	Languages() []string
	ModelsFor(lang string) ([]string, error)
}

// Option is a functional option for [New].
type Option func(*Server)

// WithMaxTextLength caps the text of a synthesis request in bytes.
func WithMaxTextLength(n int) Option {
	return func(s *Server) { s.maxText = n }
}

// WithHealth mounts the health probes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics overrides the metrics instance used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler replaces the /metrics handler. Default:
// promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server is the HTTP surface of ttshub.
type Server struct {
	synth          Synthesizer
	maxText        int
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	handler        http.Handler
}

// New builds the route table around s.
func New(syn Synthesizer, opts ...Option) *Server {
	s := &Server{synth: syn, maxText: DefaultMaxTextLength}
	for _, o := range opts {
		o(s)
	}
	if s.maxText <= 0 {
		s.maxText = DefaultMaxTextLength
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/languages", s.handleLanguages)
	mux.HandleFunc("GET /v1/languages/{language}/models", s.handleModels)
	mux.HandleFunc("POST /v1/synthesize", s.handleSynthesize)
	mux.Handle("GET /metrics", s.metricsHandler)
	if s.health != nil {
		s.health.Register(mux)
	}
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler including the observability middleware.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout. TLS is used when both certFile and
// keyFile are set.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()
	slog.Info("http server listening", "addr", addr, "tls", certFile != "")

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	slog.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return nil
}

type languagesResponse struct {
	Languages []string `json:"languages"`
}

type modelsResponse struct {
	Language string   `json:"language"`
	Models   []string `json:"models"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, languagesResponse{Languages: s.synth.Languages()})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	lang := r.PathValue("language")
	ids, err := s.synth.ModelsFor(lang)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, modelsResponse{Language: lang, Models: ids})
}

// synthesizeRequest is the body of POST /v1/synthesize. Speed defaults to 1
// when omitted.
type synthesizeRequest struct {
	Model      string   `json:"model"`
	Text       string   `json:"text"`
	Speed      *float64 `json:"speed,omitempty"`
	Speaker    int      `json:"speaker"`
	SampleRate int      `json:"sample_rate,omitempty"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxText+maxBodyOverhead))
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var body synthesizeRequest
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, fmt.Errorf("%w: request body exceeds %d bytes", synth.ErrInvalidParameter, tooLarge.Limit))
			return
		}
		writeError(w, r, fmt.Errorf("%w: invalid json: %v", errBadRequest, err))
		return
	}
	if len(body.Text) > s.maxText {
		writeError(w, r, fmt.Errorf("%w: text is %d bytes, limit is %d", synth.ErrInvalidParameter, len(body.Text), s.maxText))
		return
	}
	if body.SampleRate < 0 {
		writeError(w, r, fmt.Errorf("%w: sample_rate %d is negative", synth.ErrInvalidParameter, body.SampleRate))
		return
	}
	speed := 1.0
	if body.Speed != nil {
		speed = *body.Speed
	}

	res, err := s.synth.Synthesize(r.Context(), synth.Request{
		Model:   body.Model,
		Speed:   speed,
		Text:    body.Text,
		Speaker: body.Speaker,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := res.Audio
	if body.SampleRate > 0 && body.SampleRate != out.SampleRate {
		samples, err := audio.Resample(out.Samples, out.SampleRate, body.SampleRate)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out.Samples, out.SampleRate = samples, body.SampleRate
	}
	wav, err := audio.WAVBytes(out)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "audio/wav")
	h.Set("Content-Length", strconv.Itoa(len(wav)))
	h.Set(HeaderModel, res.Model)
	if res.Language != "" {
		// Language names may contain non-ASCII script.
		h.Set(HeaderLanguage, url.QueryEscape(res.Language))
	}
	h.Set(HeaderWaveDuration, formatSeconds(res.Duration().Seconds()))
	h.Set(HeaderProcessingTime, formatSeconds(res.Elapsed.Seconds()))
	h.Set(HeaderRTF, formatSeconds(res.RTF()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(wav); err != nil {
		observe.Logger(r.Context()).Debug("write wav response", "err", err)
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
