package activity

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
)

// NewSSEDialer returns the default Dialer: an HTTP GET carrying the
// text/event-stream accept header, decoding one event's data block per
// ReadMessage call. A nil client falls back to http.DefaultClient; extra
// headers (authorization, tenant, trace) are attached to every dial.
func NewSSEDialer(client *http.Client, header http.Header) Dialer {
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, url string) (Conn, error) {
		ctx, cancel := context.WithCancel(ctx)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to build stream request: %w", err)
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
		for key, values := range header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open stream: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("stream endpoint returned %d", resp.StatusCode)
		}

		return &sseConn{resp: resp, reader: bufio.NewReader(resp.Body), cancel: cancel}, nil
	}
}

type sseConn struct {
	resp   *http.Response
	reader *bufio.Reader
	cancel context.CancelFunc
}

// ReadMessage returns the next event's concatenated data lines. Comment,
// event-name and id lines are skipped; the payload type lives inside the
// JSON body.
func (c *sseConn) ReadMessage() ([]byte, error) {
	var data bytes.Buffer

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() > 0 {
				return data.Bytes(), nil
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func (c *sseConn) Close() error {
	c.cancel()
	return c.resp.Body.Close()
}
