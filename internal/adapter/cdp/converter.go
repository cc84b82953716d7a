package cdp

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/tidwall/gjson"

	"tabwatch/pkg/model"
)

// ToRequestSent converts a requestWillBeSent payload into the neutral model.
// The observation time is stamped here, at the boundary.
func ToRequestSent(ev *network.RequestWillBeSentReply) model.RequestSent {
	return model.RequestSent{
		RequestID:    model.RequestID(ev.RequestID),
		URL:          ev.Request.URL,
		Method:       ev.Request.Method,
		ResourceType: string(ev.Type),
		Initiator:    toInitiator(ev.Initiator),
		Time:         time.Now(),
	}
}

// ToResponseReceived converts a responseReceived payload into the neutral
// model.
func ToResponseReceived(ev *network.ResponseReceivedReply) model.ResponseReceived {
	return model.ResponseReceived{
		RequestID: model.RequestID(ev.RequestID),
		Status:    ev.Response.Status,
		MimeType:  ev.Response.MimeType,
		Headers:   toHeaders(ev.Response.Headers),
	}
}

// ToLoadingFailed converts a loadingFailed payload into the neutral model.
func ToLoadingFailed(ev *network.LoadingFailedReply) model.LoadingFailed {
	return model.LoadingFailed{
		RequestID: model.RequestID(ev.RequestID),
		Reason:    ev.ErrorText,
		Canceled:  ev.Canceled != nil && *ev.Canceled,
	}
}

// ToLoadingFinished converts a loadingFinished payload into the neutral model.
func ToLoadingFinished(ev *network.LoadingFinishedReply) model.LoadingFinished {
	return model.LoadingFinished{
		RequestID: model.RequestID(ev.RequestID),
		Size:      int64(ev.EncodedDataLength),
	}
}

// ToTargetInfo maps a devtool listing entry into the neutral model.
func ToTargetInfo(t *devtool.Target) model.TargetInfo {
	return model.TargetInfo{
		ID:    model.TargetID(t.ID),
		Type:  string(t.Type),
		URL:   t.URL,
		Title: t.Title,
	}
}

// DecodeBody returns the response body text, handling base64 transport.
func DecodeBody(r *network.GetResponseBodyReply) string {
	if r == nil {
		return ""
	}
	if r.Base64Encoded {
		b, err := base64.StdEncoding.DecodeString(r.Body)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return r.Body
}

func toInitiator(in network.Initiator) model.Initiator {
	out := model.Initiator{Type: in.Type}
	if in.URL != nil {
		out.URL = *in.URL
	}
	if in.Stack != nil && len(in.Stack.CallFrames) > 0 {
		out.Frames = make([]model.CallFrame, 0, len(in.Stack.CallFrames))
		for _, f := range in.Stack.CallFrames {
			out.Frames = append(out.Frames, model.CallFrame{
				Function: f.FunctionName,
				URL:      f.URL,
				Line:     f.LineNumber,
				Column:   f.ColumnNumber,
			})
		}
	}
	return out
}

// toHeaders lower-cases header names from the raw protocol payload.
func toHeaders(raw network.Headers) model.Headers {
	if len(raw) == 0 {
		return nil
	}
	h := make(model.Headers)
	gjson.ParseBytes([]byte(raw)).ForEach(func(k, v gjson.Result) bool {
		h[strings.ToLower(k.String())] = v.String()
		return true
	})
	return h
}
