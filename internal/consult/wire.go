package consult

import (
	"github.com/wenzhenlab/wenzhen/internal/jsonval"
	"github.com/wenzhenlab/wenzhen/internal/profile"
)

// requestTypeMulti is the fixed request type for combined text/image
// consultation turns.
const requestTypeMulti = "multi"

// statusSuccess is the envelope status sentinel for a successful reply.
const statusSuccess = "success"

// Request is the outbound consultation request body.
type Request struct {
	UserID      string  `json:"user_id"`
	RequestType string  `json:"request_type"`
	Payload     Payload `json:"payload"`
}

// Payload carries one turn's content: optional images, optional free
// text, and the full saved context and message history.
type Payload struct {
	Images       Images            `json:"images"`
	UserText     string            `json:"user_text,omitempty"`
	SavedContext jsonval.Object    `json:"saved_context"`
	History      []profile.Message `json:"history"`
}

// Images holds base64-encoded attachments, no content-type prefix.
// Either may be absent.
type Images struct {
	Face   string `json:"face,omitempty"`
	Tongue string `json:"tongue,omitempty"`
}

// HasImage reports whether at least one attachment is present.
func (i Images) HasImage() bool {
	return i.Face != "" || i.Tongue != ""
}

// BuildRequest assembles a request from a profile snapshot. The record
// is only read; context and history are copied so the request stays
// stable if the caller mutates the record afterwards.
func BuildRequest(rec *profile.Record, userText, faceImage, tongueImage string) *Request {
	history := make([]profile.Message, len(rec.History))
	copy(history, rec.History)

	return &Request{
		UserID:      rec.ID,
		RequestType: requestTypeMulti,
		Payload: Payload{
			Images:       Images{Face: faceImage, Tongue: tongueImage},
			UserText:     userText,
			SavedContext: rec.Context.Clone(),
			History:      history,
		},
	}
}

// Response is the inbound envelope.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    *Data  `json:"data,omitempty"`
}

// Data is the successful-reply payload inside the envelope.
type Data struct {
	ReplyText        string         `json:"reply_text"`
	HasNewContext    bool           `json:"has_new_context"`
	NewContextToSave jsonval.Object `json:"new_context_to_save,omitempty"`
}

// Success reports whether the envelope carries the success sentinel.
func (r *Response) Success() bool {
	return r != nil && r.Status == statusSuccess
}

// ReplyText returns the assistant reply, or "" when absent.
func (r *Response) ReplyText() string {
	if r == nil || r.Data == nil {
		return ""
	}
	return r.Data.ReplyText
}

// NewContext returns the context payload to merge, or nil. The payload
// is only honored when the has_new_context flag is set.
func (r *Response) NewContext() jsonval.Object {
	if r == nil || r.Data == nil || !r.Data.HasNewContext {
		return nil
	}
	return r.Data.NewContextToSave
}
