package protocol

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Response is a frame once it has been received in full. The structured views
// are only decoded when they are asked for, so a payload that is not JSON is
// still a perfectly valid Response.
type Response struct {
	// Length is the total payload length. For chunked frames it is only known
	// once the terminal chunk arrived.
	Length int64

	// Chunked is true when the frame was sent with LengthUnspecified.
	Chunked bool

	// ChannelID identifies the channel the frame was received on.
	ChannelID uint64

	data []byte

	json    *gjson.Result
	jsonErr error
}

func NewResponse(data []byte, chunked bool) *Response {
	return &Response{
		Length:  int64(len(data)),
		Chunked: chunked,
		data:    data,
	}
}

// ContainsData returns true if the payload is not empty.
func (r *Response) ContainsData() bool {
	return r.Length > 0
}

func (r *Response) Bytes() []byte {
	return r.data
}

// String returns the payload as text. Payloads are UTF-8 by convention, use
// ValidText to find out whether the peer kept to it.
func (r *Response) String() string {
	return string(r.data)
}

func (r *Response) ValidText() bool {
	return utf8.Valid(r.data)
}

// JSON returns the payload parsed as JSON. It fails with ErrDataFormat if the
// payload is not valid JSON.
func (r *Response) JSON() (gjson.Result, error) {
	if r.json == nil && r.jsonErr == nil {
		if !gjson.ValidBytes(r.data) {
			r.jsonErr = fmt.Errorf("%w: payload of %d bytes is not valid JSON", ErrDataFormat, r.Length)
		} else {
			result := gjson.ParseBytes(r.data)
			r.json = &result
		}
	}

	if r.jsonErr != nil {
		return gjson.Result{}, r.jsonErr
	}

	return *r.json, nil
}

// Unmarshal decodes the JSON payload into v.
func (r *Response) Unmarshal(v interface{}) error {
	if err := json.Unmarshal(r.data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDataFormat, err)
	}

	return nil
}
