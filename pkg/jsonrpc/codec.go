package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// Frame is one JSON-RPC message unit read off a transport: a single
// request/notification or a batch of them.
type Frame struct {
	// Batch is true when the wire form was a JSON array.
	Batch bool
	Items []Item
}

// Item is one element of a frame: either a shape-valid request or the
// error response produced while validating it. Exactly one field is set.
type Item struct {
	Request *Request
	Invalid *Response
}

// Responses reports how many non-notification items the frame contains,
// counting invalid elements (which always get an error response).
func (f *Frame) Responses() int {
	n := 0
	for _, it := range f.Items {
		if it.Invalid != nil || !it.Request.IsNotification() {
			n++
		}
	}
	return n
}

// DecodeFrame parses raw bytes into a Frame. When the payload cannot be
// framed at all (malformed JSON, empty batch) the single Response to send
// back is returned instead and the Frame is nil.
func DecodeFrame(data []byte) (*Frame, *Response) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		resp := NewErrorResponse(nil, ParseError, "")
		return nil, &resp
	}

	if trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			resp := NewErrorResponse(nil, ParseError, "")
			return nil, &resp
		}
		if len(elems) == 0 {
			resp := NewErrorResponse(nil, InvalidRequest, "")
			return nil, &resp
		}
		frame := &Frame{Batch: true, Items: make([]Item, 0, len(elems))}
		for _, elem := range elems {
			frame.Items = append(frame.Items, decodeItem(elem))
		}
		return frame, nil
	}

	if !json.Valid(data) {
		resp := NewErrorResponse(nil, ParseError, "")
		return nil, &resp
	}
	return &Frame{Items: []Item{decodeItem(data)}}, nil
}

// rawRequest mirrors Request with every member kept raw so that shape
// violations can be reported per-field.
type rawRequest struct {
	JSONRPC json.RawMessage `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func decodeItem(data []byte) Item {
	var raw rawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		// Valid JSON but not an object (string, number, ...).
		resp := NewErrorResponse(nil, InvalidRequest, "")
		return Item{Invalid: &resp}
	}

	// The id is needed for error responses, so it is validated first.
	// An unparseable id degrades to null.
	id, idOK := decodeID(raw.ID)

	invalid := func(msg string) Item {
		resp := NewErrorResponse(id, InvalidRequest, msg)
		return Item{Invalid: &resp}
	}

	if !idOK {
		return invalid("id must be a string, number, or null")
	}
	if !bytes.Equal(raw.JSONRPC, []byte(`"2.0"`)) {
		return invalid(`jsonrpc must be "2.0"`)
	}

	var method string
	if err := json.Unmarshal(raw.Method, &method); err != nil || method == "" {
		return invalid("method must be a non-empty string")
	}

	if len(raw.Params) > 0 && raw.Params[0] != '{' && raw.Params[0] != '[' {
		if !bytes.Equal(raw.Params, []byte("null")) {
			return invalid("params must be an object or array")
		}
		raw.Params = nil
	}

	return Item{Request: &Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  raw.Params,
	}}
}

// decodeID validates an id member. It returns the id to echo back (nil when
// absent or null) and whether the member was shape-valid.
func decodeID(raw json.RawMessage) (*json.RawMessage, bool) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, true
	}
	switch raw[0] {
	case '"':
		return &raw, true
	case '{', '[', 't', 'f':
		return nil, false
	default:
		// Must parse as a JSON number.
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, false
		}
		return &raw, true
	}
}

// EncodeResponse serializes a single response.
func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

// EncodeBatch serializes a batch reply. An empty slice yields nil: a batch
// of notifications produces no body at all.
func EncodeBatch(resps []Response) ([]byte, error) {
	if len(resps) == 0 {
		return nil, nil
	}
	return json.Marshal(resps)
}
