package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"floodbuddy/internal/models"
)

const maxEventSize = 16 << 20

// Subscribe opens the live snapshot stream. The channel keeps only the
// newest undelivered snapshot and is closed when ctx ends or the server
// drops the stream; calling Subscribe again starts over.
func (c *Client) Subscribe(ctx context.Context) (<-chan models.Snapshot, error) {
	token, _, err := c.bearer()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/reports/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open snapshot stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	out := make(chan models.Snapshot, 1)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		err := readEvents(resp.Body, func(event string, data []byte) {
			if event != "snapshot" {
				return
			}
			var snap models.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				c.log.Warn().Err(err).Msg("skip undecodable snapshot")
				return
			}
			replaceLatest(out, snap)
		})
		if err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("snapshot stream closed")
		}
	}()
	return out, nil
}

// replaceLatest is only called by the single reader goroutine, so the
// final send cannot block.
func replaceLatest(ch chan models.Snapshot, snap models.Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- snap
}

// readEvents parses a text/event-stream body, calling emit per dispatched
// event. Comment lines and unknown fields are ignored.
func readEvents(r io.Reader, emit func(event string, data []byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxEventSize)

	var (
		event string
		data  []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				emit(event, []byte(strings.Join(data, "\n")))
			}
			event, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
