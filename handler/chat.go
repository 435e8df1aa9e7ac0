package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/atopos31/keyrelay/common"
	"github.com/atopos31/keyrelay/service/retry"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// client headers worth passing upstream; credentials never are
var forwardHeaders = []string{"Accept", "User-Agent", "OpenAI-Beta"}

// ChatCompletionsHandler proxies POST /chat/completions, streaming included.
func (h *Handler) ChatCompletionsHandler(c *gin.Context) {
	h.forward(c, http.MethodPost, "/chat/completions")
}

// ModelsHandler proxies GET /models with a pool key.
func (h *Handler) ModelsHandler(c *gin.Context) {
	h.forward(c, http.MethodGet, "/models")
}

func (h *Handler) forward(c *gin.Context, method, path string) {
	var body []byte
	if method != http.MethodGet {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				common.OpenAIError(c, http.StatusRequestEntityTooLarge, "invalid_request_error",
					fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
				return
			}
			common.OpenAIError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
		c.Request.Body.Close()
		if !gjson.ValidBytes(body) {
			common.OpenAIError(c, http.StatusBadRequest, "invalid_request_error", "request body must be valid JSON")
			return
		}
	}

	header := http.Header{}
	for _, name := range forwardHeaders {
		if v := c.GetHeader(name); v != "" {
			header.Set(name, v)
		}
	}

	ctx := c.Request.Context()
	res, err := h.proxy.Do(ctx, retry.Request{Method: method, Path: path, Header: header, Body: body})
	if err != nil {
		if ctx.Err() != nil {
			// client went away, nobody to answer
			c.Abort()
			return
		}
		writeProxyError(c, err)
		return
	}
	defer res.Body.Close()

	writeHeader(c, gjson.GetBytes(body, "stream").Bool(), res)
	if err := copyFlush(c.Writer, res.Body); err != nil {
		slog.Warn("Stream copy interrupted", "error", err, "path", path)
	}
}

func writeProxyError(c *gin.Context, err error) {
	var perr *retry.Error
	if !errors.As(err, &perr) {
		slog.Error("Proxy failure", "error", err)
		common.OpenAIError(c, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	status := perr.HTTPStatus()
	// upstream client errors are the caller's to read
	if perr.Kind == retry.KindUpstreamClient && gjson.ValidBytes(perr.Body) && len(perr.Body) > 0 {
		c.Data(status, "application/json", perr.Body)
		c.Abort()
		return
	}
	var message string
	switch perr.Kind {
	case retry.KindNoAvailableKey:
		message = "no upstream key is available, try again later"
	case retry.KindMaxRetriesExceeded:
		message = fmt.Sprintf("upstream request failed after %d attempts", perr.Attempts)
	default:
		message = fmt.Sprintf("upstream request failed with status %d", perr.StatusCode)
	}
	common.OpenAIError(c, status, string(perr.Kind), message)
}

func writeHeader(c *gin.Context, stream bool, res *http.Response) {
	for k, values := range res.Header {
		if k == "Connection" || k == "Transfer-Encoding" || k == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Writer.Header().Add(k, value)
		}
	}

	if stream {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
	}
	c.Writer.WriteHeader(res.StatusCode)
	c.Writer.Flush()
}

// copyFlush copies src to w, flushing after every read so SSE chunks reach
// the client as they arrive.
func copyFlush(w gin.ResponseWriter, src io.Reader) error {
	buf := make([]byte, 32<<10)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			w.Flush()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
