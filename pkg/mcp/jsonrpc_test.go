package mcp

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req := newRequest("abc", MethodToolsList, nil)
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, "abc", req.ID)
	assert.Equal(t, MethodToolsList, req.Method)
	assert.Nil(t, req.Params)
}

func TestNewNotificationHasNoID(t *testing.T) {
	n := newNotification(MethodInitialized, nil)
	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"id"`)
	assert.Contains(t, string(data), `"method":"notifications/initialized"`)
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantID  string
		wantErr bool
		check   func(t *testing.T, r Response)
	}{
		{
			name:   "result",
			frame:  `{"jsonrpc":"2.0","id":"r1","result":{"ok":true}}`,
			wantID: "r1",
			check: func(t *testing.T, r Response) {
				assert.JSONEq(t, `{"ok":true}`, string(r.Result))
				assert.Nil(t, r.Error)
			},
		},
		{
			name:   "error object",
			frame:  `{"id":"r2","error":{"code":-32000,"message":"kaput"}}`,
			wantID: "r2",
			check: func(t *testing.T, r Response) {
				require.NotNil(t, r.Error)
				assert.Equal(t, -32000, r.Error.Code)
				assert.Equal(t, "kaput", r.Error.Message)
			},
		},
		{
			name:   "numeric id",
			frame:  `{"id":7,"result":{}}`,
			wantID: "7",
		},
		{name: "invalid json", frame: `{not json`, wantErr: true},
		{name: "missing id", frame: `{"result":{}}`, wantErr: true},
		{name: "null id", frame: `{"id":null,"result":{}}`, wantErr: true},
		{name: "empty string id", frame: `{"id":"","result":{}}`, wantErr: true},
		{name: "unsolicited notification", frame: `{"method":"notifications/progress","params":{}}`, wantErr: true},
		{name: "both result and error", frame: `{"id":"x","result":{},"error":{"message":"m"}}`, wantErr: true},
		{name: "neither result nor error", frame: `{"id":"x"}`, wantErr: true},
		{name: "malformed error", frame: `{"id":"x","error":"oops"}`, wantErr: true},
		{name: "object id", frame: `{"id":{"a":1},"result":{}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := decodeResponse([]byte(tt.frame))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrProtocol))
				var perr *ProtocolError
				require.True(t, errors.As(err, &perr))
				assert.NotEmpty(t, perr.Frame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, resp.ID)
			if tt.check != nil {
				tt.check(t, resp)
			}
		})
	}
}

func TestDecodeResponse_ErrorWithoutMessage(t *testing.T) {
	resp, err := decodeResponse([]byte(`{"id":"x","error":{"code":1}}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.NotEmpty(t, resp.Error.Message)
}

func TestProtocolErrorTruncatesFrame(t *testing.T) {
	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'x'
	}
	perr := newProtocolError(big, "too big")
	assert.Len(t, perr.Frame, 512)
	assert.Equal(t, "protocol error: too big", perr.Error())
}
