package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultCallTimeout applies when neither the call nor the channel sets one.
	DefaultCallTimeout = 30 * time.Second
	// maxFrameSize is the largest frame accepted from a provider (10 MB).
	maxFrameSize = 10 * 1024 * 1024
	// readBufferSize is the initial buffer for the frame reader (64 KB).
	readBufferSize = 64 * 1024
)

// ChannelOptions tunes a Channel.
type ChannelOptions struct {
	DefaultTimeout time.Duration
	MaxFrameSize   int
}

// pendingRequest correlates one in-flight request with its eventual response.
type pendingRequest struct {
	id          string
	method      string
	submittedAt time.Time
	completion  chan callResult // buffered, receives exactly one value
}

type callResult struct {
	resp Response
	err  error
}

// Channel exchanges newline-delimited JSON frames with a single provider over
// its stdin/stdout. Responses are matched to requests strictly by id, so a
// provider may answer out of order.
type Channel struct {
	name           string
	w              io.WriteCloser
	r              io.ReadCloser
	logger         zerolog.Logger
	defaultTimeout time.Duration
	maxFrame       int

	writeMu sync.Mutex // serializes frames on w

	pendMu   sync.Mutex
	pending  map[string]*pendingRequest
	closed   bool
	closeErr error

	closeOnce sync.Once
	done      chan struct{} // closed when readLoop exits
}

// NewChannel starts the read loop over r and returns a channel writing to w.
func NewChannel(name string, w io.WriteCloser, r io.ReadCloser, opts ChannelOptions, logger zerolog.Logger) *Channel {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultCallTimeout
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = maxFrameSize
	}
	c := &Channel{
		name:           name,
		w:              w,
		r:              r,
		logger:         logger.With().Str("component", "channel").Str("server", name).Logger(),
		defaultTimeout: opts.DefaultTimeout,
		maxFrame:       opts.MaxFrameSize,
		pending:        make(map[string]*pendingRequest),
		done:           make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Send writes a request and waits for the response carrying the same id.
// A zero timeout uses the channel default. On timeout the pending slot is
// released and any late response is discarded; the provider is not told.
func (c *Channel) Send(ctx context.Context, method string, params any, timeout time.Duration) (Response, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	p := &pendingRequest{
		id:          uuid.NewString(),
		method:      method,
		submittedAt: time.Now(),
		completion:  make(chan callResult, 1),
	}

	// Register before writing so a fast response can't race the insert.
	c.pendMu.Lock()
	if c.closed {
		err := c.closeErr
		c.pendMu.Unlock()
		return Response{}, err
	}
	c.pending[p.id] = p
	c.pendMu.Unlock()

	data, err := json.Marshal(newRequest(p.id, method, params))
	if err != nil {
		c.remove(p.id)
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	if err := c.writeFrame(data); err != nil {
		c.remove(p.id)
		return Response{}, fmt.Errorf("%w: write request: %v", ErrChannelClosed, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.completion:
		return res.resp, res.err
	case <-timer.C:
		if c.remove(p.id) {
			c.logger.Warn().Str("id", p.id).Str("method", method).Dur("timeout", timeout).Msg("request timed out")
			return Response{}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		// Completed concurrently with the timer firing.
		res := <-p.completion
		return res.resp, res.err
	case <-ctx.Done():
		if c.remove(p.id) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Response{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
			return Response{}, ctx.Err()
		}
		res := <-p.completion
		return res.resp, res.err
	}
}

// Notify writes a request that expects no response.
func (c *Channel) Notify(method string, params any) error {
	c.pendMu.Lock()
	closed, closeErr := c.closed, c.closeErr
	c.pendMu.Unlock()
	if closed {
		return closeErr
	}

	data, err := json.Marshal(newNotification(method, params))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := c.writeFrame(data); err != nil {
		return fmt.Errorf("%w: write notification: %v", ErrChannelClosed, err)
	}
	return nil
}

// Pending returns the number of in-flight requests.
func (c *Channel) Pending() int {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	return len(c.pending)
}

// Closed reports whether the channel has stopped accepting requests.
func (c *Channel) Closed() bool {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	return c.closed
}

// Done is closed when the read loop has stopped.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close fails every pending request with ErrChannelClosed and releases both
// streams. Safe to call multiple times.
func (c *Channel) Close() error {
	return c.CloseWithError(nil)
}

// CloseWithError is Close with a cause attached to the failures delivered to
// pending requests. The cause is always wrapped so errors.Is(err,
// ErrChannelClosed) holds.
func (c *Channel) CloseWithError(cause error) error {
	var errs []error
	c.closeOnce.Do(func() {
		c.shutdown(cause)
		if err := c.w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
		if err := c.r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stdout: %w", err))
		}
	})
	return errors.Join(errs...)
}

// shutdown marks the channel closed and fails all pending requests.
func (c *Channel) shutdown(cause error) {
	err := ErrChannelClosed
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrChannelClosed, cause)
	}

	c.pendMu.Lock()
	if c.closed {
		c.pendMu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	failed := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.pendMu.Unlock()

	for _, p := range failed {
		p.completion <- callResult{err: err}
	}
	if len(failed) > 0 {
		c.logger.Debug().Int("pending", len(failed)).Err(err).Msg("failed pending requests")
	}
}

func (c *Channel) remove(id string) bool {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *Channel) writeFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.w.Write(append(data, '\n'))
	return err
}

// readLoop reassembles frames from the provider's stdout and completes the
// matching pending requests. Malformed and unmatched frames are dropped.
func (c *Channel) readLoop() {
	defer close(c.done)

	br := bufio.NewReaderSize(c.r, readBufferSize)
	for {
		frame, oversized, err := readFrame(br, c.maxFrame)
		if oversized {
			c.logger.Warn().Int("limit", c.maxFrame).Msg("protocol error: frame exceeds size limit, dropped")
		} else if line := bytes.TrimSpace(frame); len(line) > 0 {
			c.dispatch(line)
		}
		if err != nil {
			cause := errors.New("provider stream ended")
			if !errors.Is(err, io.EOF) {
				cause = fmt.Errorf("read: %w", err)
			}
			c.shutdown(cause)
			return
		}
	}
}

func (c *Channel) dispatch(line []byte) {
	resp, err := decodeResponse(line)
	if err != nil {
		c.logger.Warn().Err(err).Bytes("frame", truncateFrame(line)).Msg("dropping frame")
		return
	}

	c.pendMu.Lock()
	p, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendMu.Unlock()

	if !ok {
		perr := newProtocolError(line, "no pending request for id %q", resp.ID)
		c.logger.Warn().Err(perr).Msg("dropping frame")
		return
	}
	c.logger.Debug().Str("id", p.id).Str("method", p.method).Dur("elapsed", time.Since(p.submittedAt)).Msg("response received")
	p.completion <- callResult{resp: resp}
}

// readFrame returns the next newline-terminated frame. Frames larger than limit
// are consumed and reported as oversized rather than buffered.
func readFrame(br *bufio.Reader, limit int) ([]byte, bool, error) {
	var buf []byte
	oversized := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(chunk) > limit {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, oversized, err
	}
}

func truncateFrame(b []byte) []byte {
	const limit = 256
	if len(b) > limit {
		return b[:limit]
	}
	return b
}
