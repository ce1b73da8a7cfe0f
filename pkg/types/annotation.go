package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TargetNewMessage is the client-side method name every broadcast is addressed to.
const TargetNewMessage = "newMessage"

// ErrMissingURL is returned when an upload event does not reference an object.
var ErrMissingURL = errors.New("upload event has no url")

// gcsPublicHost is used to build an object URL from a raw storage notification.
const gcsPublicHost = "storage.googleapis.com"

// UploadEvent is the "object created" payload delivered on the upload topic.
// Producers normally set URL; raw GCS notifications (JSON_API_V1) carry the
// bucket and object name instead.
type UploadEvent struct {
	URL    string `json:"url"`
	Bucket string `json:"bucket,omitempty"`
	Name   string `json:"name,omitempty"`
}

// ImageURL returns the URL of the uploaded object.
func (e *UploadEvent) ImageURL() string {
	if e.URL != "" {
		return e.URL
	}
	if e.Bucket != "" && e.Name != "" {
		u := url.URL{Scheme: "https", Host: gcsPublicHost, Path: "/" + e.Bucket + "/" + strings.TrimPrefix(e.Name, "/")}
		return u.String()
	}
	return ""
}

// UploadEventDecoder decodes a Pub/Sub payload into an UploadEvent.
// A payload that does not resolve to an object URL is an error.
func UploadEventDecoder(payload []byte) (*UploadEvent, error) {
	var evt UploadEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upload event: %w", err)
	}
	if evt.ImageURL() == "" {
		return nil, ErrMissingURL
	}
	evt.URL = evt.ImageURL()
	return &evt, nil
}

// AnnotationRecord is the document written for one processed upload.
// The wire and store name of SourceURL is image_url.
type AnnotationRecord struct {
	SourceURL   string  `json:"image_url" firestore:"image_url"`
	Description string  `json:"description" firestore:"description"`
	Confidence  float64 `json:"confidence" firestore:"confidence"`
}

// Document is a raw store document as delivered by a change feed.
type Document struct {
	ID         string
	Fields     map[string]interface{}
	UpdateTime time.Time
}

// ChangeBatch is the ordered set of documents delivered by one change-feed read.
type ChangeBatch struct {
	Documents []Document
	ReadTime  time.Time
}

// Len returns the number of documents in the batch.
func (b ChangeBatch) Len() int {
	return len(b.Documents)
}

// BroadcastMessage is the envelope fanned out to every connected client.
// Each argument is one serialized document.
type BroadcastMessage struct {
	Target    string   `json:"target"`
	Arguments []string `json:"arguments"`
}

// Encode serializes the envelope as a single unit.
func (m *BroadcastMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal broadcast message: %w", err)
	}
	return data, nil
}

// BroadcastMessageDecoder decodes an envelope received from the broadcast topic.
func BroadcastMessageDecoder(payload []byte) (*BroadcastMessage, error) {
	var msg BroadcastMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal broadcast message: %w", err)
	}
	if msg.Target == "" {
		return nil, errors.New("broadcast message has no target")
	}
	return &msg, nil
}
