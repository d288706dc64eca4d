package offline

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// CacheHeader reports whether a response came from the cache or the network.
const CacheHeader = "X-Genpass-Cache"

// MaxRequestBody bounds a request body forwarded to the origin.
const MaxRequestBody = 10 << 20

// Handler answers every request through the worker's fetch contract.
type Handler struct {
	worker *Worker
	logger *zap.Logger
}

// NewHandler creates a fetch-interception handler.
func NewHandler(worker *Worker, logger *zap.Logger) *Handler {
	return &Handler{
		worker: worker,
		logger: logger.With(zap.String("component", "offline-handler")),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	res, err := h.worker.Fetch(r.Context(), &FetchRequest{
		Method: r.Method,
		Path:   r.URL.RequestURI(),
		Header: r.Header,
		Body:   body,
	})
	if err != nil {
		h.logger.Warn("Fetch failed",
			zap.String("path", r.URL.RequestURI()),
			zap.Error(err),
		)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	header := w.Header()
	for name, values := range res.Entry.Header {
		header[name] = append([]string(nil), values...)
	}
	header.Set(CacheHeader, string(res.Source))
	header.Set("Content-Length", strconv.Itoa(len(res.Entry.Body)))
	w.WriteHeader(res.Entry.Status)

	if r.Method != http.MethodHead {
		if _, err := w.Write(res.Entry.Body); err != nil {
			h.logger.Debug("Failed to write response", zap.Error(err))
		}
	}
}
