package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskstream/internal/logging"
	"taskstream/internal/types"
)

const defaultEventName = "message"

// Decoder turns raw SSE bytes into frames. It is a small state machine: a
// buffer holding the unterminated tail and the current event name. Each
// data line is one JSON payload; an event name sticks until the next
// event line.
type Decoder struct {
	buf    []byte
	event  string
	logger logging.Logger
	onDrop func()
}

func NewDecoder(logger logging.Logger) *Decoder {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Decoder{logger: logger}
}

// OnDrop registers a hook run for every data line that is not valid JSON.
func (d *Decoder) OnDrop(fn func()) {
	d.onDrop = fn
}

// Feed consumes a chunk and returns the frames completed by it, in order.
func (d *Decoder) Feed(chunk []byte) []types.StreamFrame {
	d.buf = append(d.buf, chunk...)
	var frames []types.StreamFrame
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]
		if frame, ok := d.parseLine(line); ok {
			frames = append(frames, frame)
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	} else {
		d.buf = append([]byte(nil), d.buf...)
	}
	return frames
}

// Buffered returns the length of the unterminated trailing line. It is
// discarded when the stream ends.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) Event() string {
	return d.event
}

func (d *Decoder) parseLine(line []byte) (types.StreamFrame, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	switch {
	case len(line) == 0, line[0] == ':':
		return types.StreamFrame{}, false
	case bytes.HasPrefix(line, []byte("event:")):
		d.event = strings.TrimSpace(string(line[len("event:"):]))
		return types.StreamFrame{}, false
	case bytes.HasPrefix(line, []byte("data:")):
		payload := bytes.TrimPrefix(line[len("data:"):], []byte(" "))
		event := d.event
		if event == "" {
			event = defaultEventName
		}
		if !json.Valid(payload) {
			d.logger.Warn("stream frame dropped",
				logging.F("event", event),
				logging.F("bytes", len(payload)),
			)
			if d.onDrop != nil {
				d.onDrop()
			}
			return types.StreamFrame{}, false
		}
		data := make(json.RawMessage, len(payload))
		copy(data, payload)
		return types.StreamFrame{Event: event, Data: data}, true
	default:
		return types.StreamFrame{}, false
	}
}

// StreamItem carries either a frame or the transport error that ended the
// stream. An error item is always the last one.
type StreamItem struct {
	Frame types.StreamFrame
	Err   error
}

// StreamChat posts content to the dialogue and streams the reply. The channel
// closes when the stream completes or ctx is cancelled; cancellation is not
// reported as an error. Frames are never dropped: the reader blocks until the
// consumer takes each one or ctx ends.
func (c *Client) StreamChat(ctx context.Context, dialogueID int64, content string) (<-chan StreamItem, func(), error) {
	if dialogueID <= 0 {
		return nil, nil, errors.New("dialogue id is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil, errors.New("content is required")
	}
	body, err := json.Marshal(StreamChatRequest{UserID: c.userID, Content: content})
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	url := fmt.Sprintf("%s%s/dialogues/%d/messages/stream", c.baseURL, apiPrefix, dialogueID)
	c.streamLogf("stream open", logging.F("dialogue_id", dialogueID), logging.F("url", url))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		c.streamLogf("stream error", logging.F("dialogue_id", dialogueID), logging.F("status", resp.StatusCode))
		return nil, nil, decodeAPIError(resp)
	}

	ch := make(chan StreamItem, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		start := time.Now()
		count := 0
		decoder := NewDecoder(c.logger)
		decoder.OnDrop(c.metrics.FrameDropped)
		buf := make([]byte, 4096)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				for _, frame := range decoder.Feed(buf[:n]) {
					if ctx.Err() != nil {
						return
					}
					select {
					case ch <- StreamItem{Frame: frame}:
					case <-ctx.Done():
						return
					}
					count++
					if count == 1 {
						c.streamLogf("stream first", logging.F("dialogue_id", dialogueID), logging.F("event", frame.Event))
					}
				}
			}
			if readErr == nil {
				continue
			}
			fields := []logging.Field{
				logging.F("dialogue_id", dialogueID),
				logging.F("count", count),
				logging.F("discarded", decoder.Buffered()),
				logging.F("dur", time.Since(start)),
			}
			if errors.Is(readErr, io.EOF) || ctx.Err() != nil {
				c.streamLogf("stream close", fields...)
				return
			}
			c.streamLogf("stream read error", append(fields, logging.Err(readErr))...)
			select {
			case ch <- StreamItem{Err: readErr}:
			case <-ctx.Done():
			}
			return
		}
	}()

	return ch, cancel, nil
}

func (c *Client) streamLogf(msg string, fields ...logging.Field) {
	if c.streamLog == nil {
		return
	}
	c.streamLog.Debug(msg, fields...)
}
