// Package tracking is the public edge that recipients' mail clients hit:
// the open pixel, the click redirect and the unsubscribe link. Responses
// never wait on the datastore; captures are handed to a Dispatcher.
package tracking

import (
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	"github.com/ignite/engagement-tracker/internal/pkg/metrics"
)

var log = logger.With("tracking")

// 1x1 transparent GIF, 43 bytes. The graphic control extension marks
// palette index 0 as transparent.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3b,
}

// Dispatcher hands a capture off for recording. Dispatch must not block on
// the datastore.
type Dispatcher interface {
	Dispatch(c domain.Capture)
}

type Handler struct {
	dispatch Dispatcher
	bots     *BotDetector
	trusted  []netip.Prefix
	now      func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithTrustedProxies lets peers inside these prefixes supply the client
// address through X-Forwarded-For or X-Real-Ip.
func WithTrustedProxies(p []netip.Prefix) HandlerOption {
	return func(h *Handler) { h.trusted = p }
}

func NewHandler(d Dispatcher, opts ...HandlerOption) *Handler {
	h := &Handler{dispatch: d, bots: NewBotDetector(), now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes returns a router serving the three tracking endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

// Mount registers the tracking endpoints on an existing router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/track/open", h.HandleOpen)
	r.Get("/track/click", h.HandleClick)
	r.Get("/track/unsubscribe", h.HandleUnsubscribe)
}

// HandleOpen always answers with the pixel. A missing id skips dispatch;
// an unknown id is dropped later by the recorder.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	metrics.TrackingRequestsTotal.WithLabelValues("open").Inc()
	if token := r.URL.Query().Get("id"); token != "" {
		h.dispatch.Dispatch(h.capture(r, token, domain.EventOpened, nil))
	}
	servePixel(w)
}

// HandleClick redirects to url whenever it is an absolute http(s) URL,
// whether or not the token resolves.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	metrics.TrackingRequestsTotal.WithLabelValues("click").Inc()
	q := r.URL.Query()
	dest := q.Get("url")
	if !validDestination(dest) {
		http.Error(w, "missing or invalid url", http.StatusBadRequest)
		return
	}

	if token := q.Get("id"); token != "" {
		h.dispatch.Dispatch(h.capture(r, token, domain.EventClicked, map[string]string{domain.MetaURL: dest}))
	}

	w.Header().Set("Location", dest)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusFound)
}

const unsubscribePage = `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from us.</p>
	</body></html>`

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	metrics.TrackingRequestsTotal.WithLabelValues("unsubscribe").Inc()
	if token := r.URL.Query().Get("id"); token != "" {
		h.dispatch.Dispatch(h.capture(r, token, domain.EventUnsubscribed, nil))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(unsubscribePage))
}

func (h *Handler) capture(r *http.Request, token string, t domain.EventType, extra map[string]string) domain.Capture {
	ua := r.UserAgent()
	meta := map[string]string{
		domain.MetaIP:     realIP(r, h.trusted),
		domain.MetaDevice: detectDevice(ua),
	}
	if ua != "" {
		meta[domain.MetaUserAgent] = ua
	}
	if h.bots.IsBot(ua) {
		meta[domain.MetaBot] = strconv.FormatBool(true)
	}
	for k, v := range extra {
		meta[k] = v
	}
	return domain.Capture{
		ID:         uuid.New().String(),
		Token:      token,
		EventType:  t,
		Metadata:   meta,
		ReceivedAt: h.now().UTC(),
	}
}

func validDestination(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Content-Length", strconv.Itoa(len(pixelGIF)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pixelGIF); err != nil {
		log.Debug("pixel write failed", "error", err)
	}
}
