package session

import (
	"net/http"
	"strings"
)

// Request is the read-only view of an inbound request the engine needs.
type Request interface {
	Method() string
	OriginalURL() string
	Header(key string) string
	Cookie(name string) string
}

// Response is the write view of the outgoing response.
type Response interface {
	// SetCookie replaces any cookie of the same name already queued.
	SetCookie(c *http.Cookie)

	// SetHeader sets key to value. With allowDuplicate the value is
	// appended to the existing one, comma separated.
	SetHeader(key, value string, allowDuplicate bool)

	RemoveHeader(key string)
}

// NewHTTPRequest adapts a net/http request.
func NewHTTPRequest(r *http.Request) Request { return httpRequest{r: r} }

type httpRequest struct{ r *http.Request }

func (h httpRequest) Method() string      { return h.r.Method }
func (h httpRequest) OriginalURL() string { return h.r.URL.String() }
func (h httpRequest) Header(key string) string {
	return strings.TrimSpace(h.r.Header.Get(key))
}

func (h httpRequest) Cookie(name string) string {
	c, err := h.r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// NewHTTPResponse adapts a net/http response writer. Headers must be set
// before the status is written.
func NewHTTPResponse(w http.ResponseWriter) Response { return httpResponse{w: w} }

type httpResponse struct{ w http.ResponseWriter }

func (h httpResponse) SetCookie(c *http.Cookie) {
	header := h.w.Header()
	prefix := c.Name + "="
	kept := header.Values("Set-Cookie")[:0:0]
	for _, v := range header.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	header.Del("Set-Cookie")
	for _, v := range kept {
		header.Add("Set-Cookie", v)
	}
	header.Add("Set-Cookie", c.String())
}

func (h httpResponse) SetHeader(key, value string, allowDuplicate bool) {
	existing := h.w.Header().Get(key)
	if allowDuplicate && existing != "" {
		for _, part := range strings.Split(existing, ",") {
			if strings.TrimSpace(part) == value {
				return
			}
		}
		h.w.Header().Set(key, existing+", "+value)
		return
	}
	h.w.Header().Set(key, value)
}

func (h httpResponse) RemoveHeader(key string) { h.w.Header().Del(key) }
