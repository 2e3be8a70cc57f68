package registry

import (
	"time"

	"go.uber.org/zap"
)

type RequestLog struct {
	Method   string
	URL      string
	Headers  map[string][]string
	Status   int
	Duration time.Duration
	Err      error
}

// RequestLogger receives one entry per outbound registry call.
type RequestLogger func(RequestLog)

func (c *Client) logRequest(req Request, resp Response, took time.Duration, err error) {
	c.logger.Debug("registry request",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", took),
		zap.Error(err))

	if c.requestLogger == nil {
		return
	}
	c.requestLogger(RequestLog{
		Method:   req.Method,
		URL:      req.URL,
		Headers:  cloneHeader(req.Header),
		Status:   resp.StatusCode,
		Duration: took,
		Err:      err,
	})
}
