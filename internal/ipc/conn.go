package ipc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const replyBuffer = 8

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Conn is the controller end of a worker channel. One goroutine drains the
// read side so a receive can be bounded by a timer. Conn is not safe for
// concurrent senders.
type Conn struct {
	r     io.ReadCloser
	w     io.WriteCloser
	enc   *cbor.Encoder
	alive func() bool

	seq     uint64
	replies chan Response
	closing chan struct{}
	once    sync.Once

	mu      sync.Mutex
	readErr error
}

// NewConn starts reading from r. alive, when set, is probed before every
// receive.
func NewConn(r io.ReadCloser, w io.WriteCloser, alive func() bool) *Conn {
	c := &Conn{
		r:       r,
		w:       w,
		enc:     newEncoder(w),
		alive:   alive,
		replies: make(chan Response, replyBuffer),
		closing: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.replies)
	dec := newDecoder(c.r)
	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		select {
		case c.replies <- resp:
		case <-c.closing:
			return
		}
	}
}

func (c *Conn) closedErr() error {
	c.mu.Lock()
	err := c.readErr
	c.mu.Unlock()
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, os.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return fmt.Errorf("%w: %v", ErrBrokenChannel, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
}

// Send writes one request and returns its sequence number.
func (c *Conn) Send(cmd Command, payload any, timeout time.Duration) (uint64, error) {
	select {
	case <-c.closing:
		return 0, fmt.Errorf("%w: connection closed", ErrBrokenChannel)
	default:
	}
	val, err := NewValue(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", cmd, err)
	}
	c.seq++
	req := Request{Seq: c.seq, Cmd: cmd, Payload: val}

	dl, hasDeadline := c.w.(writeDeadliner)
	if hasDeadline && timeout > 0 {
		if dl.SetWriteDeadline(time.Now().Add(timeout)) != nil {
			hasDeadline = false
		}
	}
	err = c.enc.Encode(req)
	if hasDeadline && timeout > 0 {
		_ = dl.SetWriteDeadline(time.Time{})
	}
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, fmt.Errorf("%w: send %s after %s", ErrTimeout, cmd, timeout)
		}
		return 0, fmt.Errorf("%w: send %s: %v", ErrBrokenChannel, cmd, err)
	}
	return req.Seq, nil
}

// Receive waits for the reply to seq. Replies to earlier requests are
// dropped. A worker logic error is returned as *RemoteError together with
// the response. If the worker is already gone, whatever it wrote before
// exiting is still read; the wait then ends with ErrWorkerDead. A worker
// that dies during the wait is reported dead rather than slow.
func (c *Conn) Receive(seq uint64, timeout time.Duration) (Response, error) {
	dead := c.alive != nil && !c.alive()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		select {
		case resp, ok := <-c.replies:
			if !ok {
				if dead {
					return Response{}, ErrWorkerDead
				}
				return Response{}, c.closedErr()
			}
			if done, out, err := c.match(resp, seq); done {
				return out, err
			}
		case <-expired:
			if dead || (c.alive != nil && !c.alive()) {
				return Response{}, ErrWorkerDead
			}
			return Response{}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
	}
}

func (c *Conn) match(resp Response, seq uint64) (bool, Response, error) {
	switch {
	case resp.Seq == 0:
		if resp.Err == nil {
			return true, resp, fmt.Errorf("%w: unsolicited frame without error", ErrMalformedResponse)
		}
		return true, resp, resp.Err
	case resp.Seq < seq:
		return false, Response{}, nil
	case resp.Seq > seq:
		return true, resp, fmt.Errorf("%w: reply for request %d, want %d", ErrMalformedResponse, resp.Seq, seq)
	case resp.Err != nil:
		return true, resp, resp.Err
	}
	return true, resp, nil
}

// Call sends cmd, waits for its reply and decodes the payload into out.
func (c *Conn) Call(cmd Command, payload, out any, timeout time.Duration) error {
	seq, err := c.Send(cmd, payload, timeout)
	if err != nil {
		return err
	}
	return c.Await(seq, out, timeout)
}

// Await receives the reply to seq and decodes it into out.
func (c *Conn) Await(seq uint64, out any, timeout time.Duration) error {
	resp, err := c.Receive(seq, timeout)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.Payload.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Close releases both ends of the channel. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closing)
		err = errors.Join(c.w.Close(), c.r.Close())
	})
	return err
}
