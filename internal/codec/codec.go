// Package codec frames and encodes the wire envelope exchanged over a
// connection. spec.md describes the wire format only as "length-framed
// binary envelopes encoded as a tagged document format (a BSON-like
// encoding)" and places the codec itself out of scope as an external
// collaborator; this package supplies a concrete reference implementation
// using go.mongodb.org/mongo-driver/bson, already present in the teacher's
// own go.mod for a Mongo adapter this module does not otherwise ship.
package codec

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
)

// maxFrameLength bounds a single envelope to guard against a corrupt or
// hostile length prefix forcing an unbounded allocation.
const maxFrameLength = 16 << 20

// ErrFrameTooLarge is returned by Decode when a length prefix exceeds
// maxFrameLength.
var ErrFrameTooLarge = fmt.Errorf("codec: frame exceeds %d bytes", maxFrameLength)

// Codec reads and writes length-prefixed BSON envelopes over a stream.
type Codec struct {
	r *bufio.Reader
	w io.Writer
}

// New wraps rw for framed envelope exchange.
func New(rw io.ReadWriter) *Codec {
	return &Codec{r: bufio.NewReader(rw), w: rw}
}

// Decode reads the next frame and unmarshals it into v, which must be a
// pointer to a struct or map compatible with bson.Unmarshal.
func (c *Codec) Decode(v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLength {
		return ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return err
	}
	return bson.Unmarshal(body, v)
}

// Encode marshals v and writes it as one length-prefixed frame.
func (c *Codec) Encode(v interface{}) error {
	body, err := bson.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteFrame(body)
}

// WriteFrame writes an already-marshaled body as one length-prefixed
// frame. Used to re-frame envelopes that arrived pre-encoded off the bus
// (the Dispatcher forwards bus payloads verbatim rather than decoding and
// re-marshaling them).
func (c *Codec) WriteFrame(body []byte) error {
	if len(body) > maxFrameLength {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := c.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := c.w.Write(body)
	return err
}

// EncodeBody marshals v without framing, for payloads published onto the
// bus rather than written directly to a connection.
func EncodeBody(v interface{}) ([]byte, error) {
	return bson.Marshal(v)
}

// DecodeBody unmarshals a bus payload previously produced by EncodeBody.
func DecodeBody(body []byte, v interface{}) error {
	return bson.Unmarshal(body, v)
}

// EncodeJSON marshals v as JSON, for payloads handed to the notification
// and audit queues. spec.md section 6 distinguishes these from the wire/
// bus BSON format ("two queues receive JSON-encoded envelopes"), mirroring
// original_source/dnachat/server.py's write_to_sqs (json.dumps) versus
// publish_message (bson.dumps). encoding/json is standard library: no
// example in the pack imports a third-party JSON codec directly (only
// transitive, unused-by-us copies of mailru/easyjson show up in a couple
// of go.sum trees), so there is no ecosystem library to reach for here.
func EncodeJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// ErrShortFrame names an unexpected zero-length frame. Codec.Decode does
// not return it: a zero-length body is passed on to bson.Unmarshal.
var ErrShortFrame = errors.New("codec: unexpected empty frame")
