package cdp

import (
	"testing"

	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"

	"tabwatch/pkg/model"
)

func rawHeaders(t *testing.T, pairs map[string]string) network.Headers {
	t.Helper()
	raw := []byte(`{}`)
	var err error
	for k, v := range pairs {
		raw, err = sjson.SetBytes(raw, k, v)
		require.NoError(t, err)
	}
	return network.Headers(raw)
}

func TestToRequestSent(t *testing.T) {
	initiatorURL := "https://app.example.com/main.js"
	ev := &network.RequestWillBeSentReply{
		RequestID: network.RequestID("r-1"),
		Request: network.Request{
			URL:    "https://app.example.com/api/items",
			Method: "POST",
		},
		Type: network.ResourceTypeXHR,
		Initiator: network.Initiator{
			Type: "script",
			URL:  &initiatorURL,
			Stack: &runtime.StackTrace{
				CallFrames: []runtime.CallFrame{
					{FunctionName: "handleClick", URL: initiatorURL, LineNumber: 10, ColumnNumber: 4},
				},
			},
		},
	}

	n := ToRequestSent(ev)
	assert.Equal(t, model.RequestID("r-1"), n.RequestID)
	assert.Equal(t, "https://app.example.com/api/items", n.URL)
	assert.Equal(t, "POST", n.Method)
	assert.Equal(t, "XHR", n.ResourceType)
	assert.Equal(t, "script", n.Initiator.Type)
	assert.Equal(t, initiatorURL, n.Initiator.URL)
	require.Len(t, n.Initiator.Frames, 1)
	assert.Equal(t, "handleClick", n.Initiator.Frames[0].Function)
	assert.Equal(t, 10, n.Initiator.Frames[0].Line)
	assert.False(t, n.Time.IsZero())
}

func TestToResponseReceivedLowercasesHeaders(t *testing.T) {
	ev := &network.ResponseReceivedReply{
		RequestID: network.RequestID("r-2"),
		Response: network.Response{
			Status:   201,
			MimeType: "application/json",
			Headers:  rawHeaders(t, map[string]string{"Content-Type": "application/json; charset=utf-8", "X-Trace": "abc"}),
		},
	}

	n := ToResponseReceived(ev)
	assert.Equal(t, model.RequestID("r-2"), n.RequestID)
	assert.Equal(t, 201, n.Status)
	assert.Equal(t, "application/json; charset=utf-8", n.Headers["content-type"])
	assert.Equal(t, "abc", n.Headers["x-trace"])
	assert.Equal(t, "application/json; charset=utf-8", n.Headers.Get("Content-Type"))
}

func TestToResponseReceivedEmptyHeaders(t *testing.T) {
	ev := &network.ResponseReceivedReply{
		RequestID: network.RequestID("r-3"),
		Response:  network.Response{Status: 204},
	}
	n := ToResponseReceived(ev)
	assert.Nil(t, n.Headers)
	assert.Equal(t, "", n.Headers.Get("content-type"))
}

func TestToLoadingFailed(t *testing.T) {
	canceled := true
	n := ToLoadingFailed(&network.LoadingFailedReply{
		RequestID: network.RequestID("r-4"),
		ErrorText: "net::ERR_CONNECTION_REFUSED",
		Canceled:  &canceled,
	})
	assert.Equal(t, model.RequestID("r-4"), n.RequestID)
	assert.Equal(t, "net::ERR_CONNECTION_REFUSED", n.Reason)
	assert.True(t, n.Canceled)

	n = ToLoadingFailed(&network.LoadingFailedReply{RequestID: "r-5", ErrorText: "net::ERR_ABORTED"})
	assert.False(t, n.Canceled)
}

func TestToLoadingFinished(t *testing.T) {
	n := ToLoadingFinished(&network.LoadingFinishedReply{
		RequestID:         network.RequestID("r-6"),
		EncodedDataLength: 4096,
	})
	assert.Equal(t, model.RequestID("r-6"), n.RequestID)
	assert.Equal(t, int64(4096), n.Size)
}

func TestToTargetInfo(t *testing.T) {
	info := ToTargetInfo(&devtool.Target{
		ID:    "T1",
		Type:  devtool.Page,
		URL:   "https://example.com",
		Title: "Example",
	})
	assert.Equal(t, model.TargetID("T1"), info.ID)
	assert.Equal(t, "page", info.Type)
	assert.Equal(t, "https://example.com", info.URL)
}

func TestDecodeBody(t *testing.T) {
	assert.Equal(t, "plain", DecodeBody(&network.GetResponseBodyReply{Body: "plain"}))
	assert.Equal(t, "hello", DecodeBody(&network.GetResponseBodyReply{Body: "aGVsbG8=", Base64Encoded: true}))
	assert.Equal(t, "", DecodeBody(&network.GetResponseBodyReply{Body: "%%%", Base64Encoded: true}))
	assert.Equal(t, "", DecodeBody(nil))
}
