// Package imageapi implements the image ingestion pipeline: upload
// endpoints, preflight validation, the strip decoder and the deferred
// handoff to the render loop.
//
// Two execution contexts touch this package. Request handlers validate,
// buffer and (for fragments) decode synchronously; the render loop
// consumes deferred full-frame operations and owns all screen state. The
// OpQueue is the only bridge between them.
package imageapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jantielens/esp32-energymon-169lcd-sub000/hal"
)

// Config is the immutable API configuration, supplied once at init.
type Config struct {
	PanelWidth  int
	PanelHeight int

	MaxImageBytes       int
	DecodeHeadroomBytes int

	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// Backend is the render-side display pipeline the API drives. The strip
// methods run in request context (fragment writes are short, bounded and
// rectangle-confined); ShowImage and HideImage run only on the render
// loop via ProcessPending.
type Backend interface {
	// HideImage blanks the panel and releases any displayed image.
	HideImage()

	// ShowImage decodes and displays one full-frame JPEG.
	ShowImage(jpeg []byte, timeout time.Duration, start time.Time) error

	// StartStripSession begins a fragment upload cycle, tearing down
	// whatever is currently displayed.
	StartStripSession(width, height, count int, timeout time.Duration) error

	// StripSession snapshots the active fragment session, if any.
	StripSession() (UploadSession, bool)

	// DecodeStrip decodes one fragment at the session cursor and
	// reports the height actually decoded.
	DecodeStrip(jpeg []byte, format PixelFormat) (int, error)

	// FinishStripSession marks the upload complete, starting the
	// viewing clock.
	FinishStripSession(now time.Time)
}

// Service owns the HTTP surface and the deferred operation queue.
type Service struct {
	cfg     Config
	backend Backend
	log     hal.Logger

	freeHeap func() uint32
	clock    func() time.Time

	queue OpQueue

	// Full-frame receive slot: one upload may buffer at a time, one
	// more may wait for it. Anything beyond that conflicts immediately.
	receiving atomic.Bool
	waiting   atomic.Bool

	waitTimeout time.Duration
	waitPoll    time.Duration
}

// NewService wires the API against a backend. freeHeap gates uploads
// before any buffering happens.
func NewService(cfg Config, backend Backend, log hal.Logger, freeHeap func() uint32) *Service {
	return &Service{
		cfg:         cfg,
		backend:     backend,
		log:         log,
		freeHeap:    freeHeap,
		clock:       time.Now,
		waitTimeout: time.Second,
		waitPoll:    20 * time.Millisecond,
	}
}

// RegisterRoutes attaches the image endpoints to mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/display/image", s.handleUploadImage)
	mux.HandleFunc("DELETE /api/display/image", s.handleDismiss)
	mux.HandleFunc("POST /api/display/strip", s.handleUploadStrip)
}

// ProcessPending executes at most one deferred operation. Call from the
// render loop's tick, with renderBusy set while a long operation (OTA,
// full-frame decode) is already underway.
func (s *Service) ProcessPending(renderBusy bool) {
	op, ok := s.queue.TryTakeDue(renderBusy)
	if !ok {
		return
	}
	if op.Dismiss {
		s.backend.HideImage()
		return
	}
	s.backend.HideImage()
	if err := s.backend.ShowImage(op.Payload, op.Timeout, op.Start); err != nil {
		s.logf("imageapi: deferred show failed: %v", err)
	}
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Index   *int   `json:"index,omitempty"`
	Total   *int   `json:"total,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func fail(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, apiResponse{Success: false, Message: fmt.Sprintf(format, args...)})
}

func (s *Service) logf(format string, args ...any) {
	if s.log != nil {
		s.log.WriteLineString(fmt.Sprintf(format, args...))
	}
}

// parseTimeout reads the "timeout" query parameter in seconds; 0 means
// the image stays until dismissed.
func (s *Service) parseTimeout(r *http.Request) (time.Duration, error) {
	v := r.URL.Query().Get("timeout")
	if v == "" {
		return s.cfg.DefaultTimeout, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("invalid timeout %q", v)
	}
	d := time.Duration(secs) * time.Second
	if d > s.cfg.MaxTimeout {
		return 0, fmt.Errorf("timeout %ds exceeds maximum %ds", secs, int(s.cfg.MaxTimeout/time.Second))
	}
	return d, nil
}

// acquireReceive claims the full-frame receive slot. A second concurrent
// upload waits out the current one with a bounded poll; a third fails
// immediately rather than queuing behind the waiter.
func (s *Service) acquireReceive() bool {
	if s.receiving.CompareAndSwap(false, true) {
		return true
	}
	if !s.waiting.CompareAndSwap(false, true) {
		return false
	}
	defer s.waiting.Store(false)

	deadline := s.clock().Add(s.waitTimeout)
	for s.clock().Before(deadline) {
		time.Sleep(s.waitPoll)
		if s.receiving.CompareAndSwap(false, true) {
			return true
		}
	}
	return false
}

func (s *Service) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	timeout, err := s.parseTimeout(r)
	if err != nil {
		fail(w, http.StatusBadRequest, "%v", err)
		return
	}

	if !s.acquireReceive() {
		fail(w, http.StatusConflict, "previous upload still receiving")
		return
	}
	defer s.receiving.Store(false)

	data, err := s.readImageBody(r)
	if err != nil {
		status := http.StatusBadRequest
		if err == errTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		fail(w, status, "%v", err)
		return
	}

	need := uint32(len(data) + s.cfg.DecodeHeadroomBytes)
	if free := s.freeHeap(); free < need {
		fail(w, http.StatusInsufficientStorage, "insufficient memory: need %d bytes, %d free", need, free)
		return
	}

	if err := PreflightFull(data, s.cfg.PanelWidth, s.cfg.PanelHeight); err != nil {
		fail(w, http.StatusBadRequest, "%v", err)
		return
	}

	// Ownership of data moves into the queue here; the render loop picks
	// it up on its next tick.
	s.queue.Submit(PendingOp{Payload: data, Timeout: timeout, Start: s.clock()})
	s.logf("imageapi: full frame queued, %dB timeout=%s", len(data), timeout)
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

var errTooLarge = fmt.Errorf("image exceeds size limit")

// readImageBody accepts either a multipart "image" field or a raw body.
func (s *Service) readImageBody(r *http.Request) ([]byte, error) {
	limit := int64(s.cfg.MaxImageBytes)
	if r.ContentLength > limit+4096 { // multipart framing allowance
		return nil, errTooLarge
	}

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		mr, err := r.MultipartReader()
		if err != nil {
			return nil, fmt.Errorf("bad multipart request: %v", err)
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil, fmt.Errorf("multipart field %q missing", "image")
			}
			if err != nil {
				return nil, fmt.Errorf("bad multipart request: %v", err)
			}
			if part.FormName() != "image" {
				continue
			}
			return readLimited(part, limit)
		}
	}
	return readLimited(r.Body, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %v", err)
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload")
	}
	return data, nil
}

func (s *Service) handleDismiss(w http.ResponseWriter, r *http.Request) {
	// Idempotent: dismissing nothing is still a success.
	s.queue.Submit(PendingOp{Dismiss: true})
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func intQuery(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, fmt.Errorf("missing required parameter %q", name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid parameter %s=%q", name, v)
	}
	return n, nil
}

func (s *Service) handleUploadStrip(w http.ResponseWriter, r *http.Request) {
	index, err := intQuery(r, "index")
	if err != nil {
		fail(w, http.StatusBadRequest, "%v", err)
		return
	}
	total, err := intQuery(r, "total")
	if err != nil {
		fail(w, http.StatusBadRequest, "%v", err)
		return
	}
	width, err := intQuery(r, "width")
	if err != nil {
		fail(w, http.StatusBadRequest, "%v", err)
		return
	}
	height, err := intQuery(r, "height")
	if err != nil {
		fail(w, http.StatusBadRequest, "%v", err)
		return
	}
	timeout, err := s.parseTimeout(r)
	if err != nil {
		fail(w, http.StatusBadRequest, "%v", err)
		return
	}

	format := FormatBGR565
	if r.URL.Query().Get("bgr") == "0" {
		format = FormatRGB565
	}

	if index < 0 || total < 1 || index >= total {
		fail(w, http.StatusBadRequest, "invalid fragment index %d of %d", index, total)
		return
	}
	if width != s.cfg.PanelWidth || height < 1 || height > s.cfg.PanelHeight {
		fail(w, http.StatusBadRequest, "image %dx%d does not fit panel %dx%d", width, height, s.cfg.PanelWidth, s.cfg.PanelHeight)
		return
	}

	data, err := readLimited(r.Body, int64(s.cfg.MaxImageBytes))
	if err != nil {
		status := http.StatusBadRequest
		if err == errTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		fail(w, status, "%v", err)
		return
	}

	if index == 0 {
		// Fragment 0 always wins over whatever is on screen.
		if err := s.backend.StartStripSession(width, height, total, timeout); err != nil {
			fail(w, http.StatusInternalServerError, "%v", err)
			return
		}
	}

	sess, ok := s.backend.StripSession()
	if !ok {
		fail(w, http.StatusBadRequest, "no fragment session in progress (start with index 0)")
		return
	}
	if index != sess.NextIndex {
		fail(w, http.StatusBadRequest, "fragment %d out of order, expected %d", index, sess.NextIndex)
		return
	}
	if width != sess.Width || height != sess.Height || total != sess.Count {
		fail(w, http.StatusBadRequest, "fragment metadata changed mid-session")
		return
	}

	if err := PreflightFragment(data, sess.Width, sess.Remaining(), s.cfg.PanelHeight); err != nil {
		fail(w, http.StatusBadRequest, "%v", err)
		return
	}

	decoded, err := s.backend.DecodeStrip(data, format)
	if err != nil {
		s.logf("imageapi: strip %d decode failed: %v", index, err)
		fail(w, http.StatusInternalServerError, "fragment %d: %v", index, err)
		return
	}

	if index == total-1 {
		s.backend.FinishStripSession(s.clock())
	}

	s.logf("imageapi: strip %d/%d ok, %dpx", index, total, decoded)
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Index: &index, Total: &total})
}
