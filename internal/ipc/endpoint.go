package ipc

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Endpoint is the worker end of a channel.
type Endpoint struct {
	dec *cbor.Decoder
	enc *cbor.Encoder
}

func NewEndpoint(r io.Reader, w io.Writer) *Endpoint {
	return &Endpoint{dec: newDecoder(r), enc: newEncoder(w)}
}

// Next blocks for the next request.
func (e *Endpoint) Next() (Request, error) {
	var req Request
	err := e.dec.Decode(&req)
	return req, err
}

func (e *Endpoint) Reply(seq uint64, payload any) error {
	val, err := NewValue(payload)
	if err != nil {
		return e.ReplyError(seq, &RemoteError{Kind: KindEnv, Message: "encode reply: " + err.Error()})
	}
	return e.enc.Encode(Response{Seq: seq, Payload: val})
}

func (e *Endpoint) ReplyError(seq uint64, rerr *RemoteError) error {
	return e.enc.Encode(Response{Seq: seq, Err: rerr})
}
