package offline

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultFetchTimeout bounds one origin request.
const DefaultFetchTimeout = 30 * time.Second

// FetchRequest is a resource request as seen by the worker.
type FetchRequest struct {
	Method string
	// Path includes the query string, e.g. "/app.js?v=2".
	Path   string
	Header http.Header
	// Body is forwarded to the origin on a network fetch.
	Body []byte
}

// Key is the cache key of the request.
func (r *FetchRequest) Key() string {
	return r.Path
}

// Origin is the network side of the cache: the server the assets come from.
type Origin interface {
	Fetch(ctx context.Context, req *FetchRequest) (*Entry, error)
}

// HTTPOrigin fetches from a base URL over HTTP. It performs no retries.
type HTTPOrigin struct {
	client *resty.Client
}

// NewHTTPOrigin creates an origin rooted at baseURL.
func NewHTTPOrigin(baseURL string, timeout time.Duration) *HTTPOrigin {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0)
	return &HTTPOrigin{client: client}
}

// Fetch forwards req to the origin. Any HTTP status is returned as an Entry;
// only transport failures are errors.
func (o *HTTPOrigin) Fetch(ctx context.Context, req *FetchRequest) (*Entry, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	r := o.client.R().SetContext(ctx)
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}
	for name, values := range req.Header {
		if hopByHop(name) {
			continue
		}
		for _, v := range values {
			r.Header.Add(name, v)
		}
	}

	resp, err := r.Execute(method, req.Path)
	if err != nil {
		return nil, err
	}

	header := resp.Header().Clone()
	for name := range header {
		if hopByHop(name) {
			header.Del(name)
		}
	}
	return &Entry{
		Status: resp.StatusCode(),
		Header: header,
		Body:   resp.Body(),
	}, nil
}

func hopByHop(name string) bool {
	switch http.CanonicalHeaderKey(name) {
	case "Connection", "Keep-Alive", "Proxy-Connection", "Te", "Trailer",
		"Transfer-Encoding", "Upgrade", "Content-Length", "Accept-Encoding":
		return true
	}
	return false
}
