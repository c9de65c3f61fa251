// Package sink talks to the scoring backend's event endpoint and owns the
// batch wire formats shared by client and server.
package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Format selects the request encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatForm     Format = "form"
	FormatProtobuf Format = "protobuf"
)

const (
	ContentTypeJSON     = "application/json"
	ContentTypeForm     = "application/x-www-form-urlencoded"
	ContentTypeProtobuf = "application/x-protobuf"
)

// ErrUnsupportedFormat is returned for unknown formats or content types.
var ErrUnsupportedFormat = errors.New("unsupported event batch format")

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatForm, FormatProtobuf:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Batch is one cycle's emitted events for a session.
type Batch struct {
	BatchID   string    `json:"batch_id,omitempty"`
	SessionID string    `json:"session_id"`
	Events    []string  `json:"events"`
	SentAt    time.Time `json:"sent_at"`
}

// Encode renders a batch in the given format.
//
// The form encoding carries candidate_id plus events as a JSON array string,
// the shape legacy scoring backends accept.
func Encode(format Format, b Batch) ([]byte, string, error) {
	switch format {
	case FormatJSON, "":
		data, err := json.Marshal(b)
		return data, ContentTypeJSON, err
	case FormatForm:
		events, err := json.Marshal(b.Events)
		if err != nil {
			return nil, "", err
		}
		form := url.Values{}
		form.Set("candidate_id", b.SessionID)
		form.Set("events", string(events))
		if b.BatchID != "" {
			form.Set("batch_id", b.BatchID)
		}
		return []byte(form.Encode()), ContentTypeForm, nil
	case FormatProtobuf:
		msg, err := toStruct(b)
		if err != nil {
			return nil, "", err
		}
		data, err := proto.Marshal(msg)
		return data, ContentTypeProtobuf, err
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func toStruct(b Batch) (*structpb.Struct, error) {
	events := make([]interface{}, len(b.Events))
	for i, e := range b.Events {
		events[i] = e
	}
	fields := map[string]interface{}{
		"session_id": b.SessionID,
		"events":     events,
	}
	if b.BatchID != "" {
		fields["batch_id"] = b.BatchID
	}
	if !b.SentAt.IsZero() {
		fields["sent_at"] = b.SentAt.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(fields)
}

// DecodeRequest reads a batch from an incoming request in any supported format.
func DecodeRequest(r *http.Request) (Batch, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	switch mediaType {
	case ContentTypeJSON:
		var b Batch
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			return Batch{}, fmt.Errorf("decode json batch: %w", err)
		}
		return b, nil
	case ContentTypeForm, "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return Batch{}, fmt.Errorf("parse form: %w", err)
		}
		b := Batch{
			SessionID: r.FormValue("candidate_id"),
			BatchID:   r.FormValue("batch_id"),
		}
		if raw := r.FormValue("events"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &b.Events); err != nil {
				return Batch{}, fmt.Errorf("decode events field: %w", err)
			}
		}
		return b, nil
	case ContentTypeProtobuf:
		data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return Batch{}, err
		}
		var msg structpb.Struct
		if err := proto.Unmarshal(data, &msg); err != nil {
			return Batch{}, fmt.Errorf("decode protobuf batch: %w", err)
		}
		return fromStruct(&msg)
	default:
		return Batch{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	}
}

func fromStruct(msg *structpb.Struct) (Batch, error) {
	fields := msg.GetFields()
	b := Batch{
		SessionID: fields["session_id"].GetStringValue(),
		BatchID:   fields["batch_id"].GetStringValue(),
	}
	if ts := fields["sent_at"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Batch{}, fmt.Errorf("decode sent_at: %w", err)
		}
		b.SentAt = t
	}
	for _, v := range fields["events"].GetListValue().GetValues() {
		b.Events = append(b.Events, v.GetStringValue())
	}
	return b, nil
}
