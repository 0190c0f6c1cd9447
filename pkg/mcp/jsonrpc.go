package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is one framed request record written to a provider's stdin.
type Request struct {
	JSONRPC string `json:"jsonrpc,omitempty"`
	ID      string `json:"id,omitempty"` // empty for notifications
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is one framed response record read from a provider's stdout.
type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error object of a provider error response.
type ResponseError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string { return e.Message }

// newRequest creates a request with the given correlation id, method, and params.
func newRequest(id, method string, params any) Request {
	return Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// newNotification creates a request that expects no response.
func newNotification(method string, params any) Request {
	return Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}
}

// wireFrame mirrors Response but keeps every field raw so decodeResponse
// can tell "absent" from "null" and reject malformed shapes.
type wireFrame struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// decodeResponse parses one frame and validates its envelope. Any frame that
// isn't a well-formed response becomes a *ProtocolError.
func decodeResponse(line []byte) (Response, error) {
	var f wireFrame
	if err := json.Unmarshal(line, &f); err != nil {
		return Response{}, newProtocolError(line, "invalid JSON: %v", err)
	}
	if len(f.ID) == 0 || bytes.Equal(f.ID, []byte("null")) {
		if f.Method != "" {
			return Response{}, newProtocolError(line, "unsolicited %s message from provider", f.Method)
		}
		return Response{}, newProtocolError(line, "response has no id")
	}

	id, err := decodeID(f.ID)
	if err != nil {
		return Response{}, newProtocolError(line, "%v", err)
	}

	hasResult := len(f.Result) > 0 && !bytes.Equal(f.Result, []byte("null"))
	hasError := len(f.Error) > 0 && !bytes.Equal(f.Error, []byte("null"))
	switch {
	case hasResult && hasError:
		return Response{}, newProtocolError(line, "response %s has both result and error", id)
	case !hasResult && !hasError:
		return Response{}, newProtocolError(line, "response %s has neither result nor error", id)
	}

	resp := Response{ID: id, Result: f.Result}
	if hasError {
		var re ResponseError
		if err := json.Unmarshal(f.Error, &re); err != nil {
			return Response{}, newProtocolError(line, "malformed error object: %v", err)
		}
		if re.Message == "" {
			re.Message = "provider returned an error without a message"
		}
		resp.Result = nil
		resp.Error = &re
	}
	return resp, nil
}

// decodeID accepts string ids. Numeric ids are tolerated for providers that
// echo them back as numbers; they can never match a pending string id except
// through their decimal form.
func decodeID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("response id is empty")
		}
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("response id must be a string, got %s", string(raw))
}
