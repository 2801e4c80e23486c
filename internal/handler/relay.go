package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tjamescouch/agentauth/internal/model"
)

const relayBufferSize = 32 * 1024

// upstreamReadError marks a relay failure on the upstream side, as opposed
// to the client going away.
type upstreamReadError struct {
	err error
}

func (e *upstreamReadError) Error() string { return "read upstream body: " + e.err.Error() }
func (e *upstreamReadError) Unwrap() error { return e.err }

// relay writes the filtered upstream headers and status, then streams the
// body to the client unmodified and without a size cap. Event streams are
// flushed after every chunk so tokens reach the agent as they arrive.
func (h *ProxyHandler) relay(c echo.Context, resp *model.ProxyResponse, status int) error {
	res := c.Response()
	for key, vals := range resp.Header {
		for _, v := range vals {
			res.Header().Add(key, v)
		}
	}
	res.WriteHeader(status)

	flush := isEventStream(resp.Header)
	rc := http.NewResponseController(res.Writer)
	if flush {
		_ = rc.Flush()
	}

	buf := make([]byte, relayBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := res.Write(buf[:n]); err != nil {
				return fmt.Errorf("write to client: %w", err)
			}
			if flush {
				_ = rc.Flush()
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return &upstreamReadError{err: readErr}
		}
	}
}

func isEventStream(header http.Header) bool {
	mediaType, _, err := mime.ParseMediaType(header.Get("Content-Type"))
	return err == nil && mediaType == "text/event-stream"
}
