package sink

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestEncodeDecodeFormats(t *testing.T) {
	in := Batch{
		BatchID:   "b-1",
		SessionID: "42",
		Events:    []string{"cell phone", "no_face_detected"},
		SentAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	for _, format := range []Format{FormatJSON, FormatForm, FormatProtobuf} {
		t.Run(string(format), func(t *testing.T) {
			body, contentType, err := Encode(format, in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			req := httptest.NewRequest(http.MethodPost, "/log-events", bytes.NewReader(body))
			req.Header.Set("Content-Type", contentType)

			got, err := DecodeRequest(req)
			if err != nil {
				t.Fatalf("DecodeRequest: %v", err)
			}
			if got.SessionID != in.SessionID || got.BatchID != in.BatchID || !reflect.DeepEqual(got.Events, in.Events) {
				t.Fatalf("decoded %+v, want %+v", got, in)
			}
		})
	}
}

func TestFormEncodingMatchesLegacyShape(t *testing.T) {
	body, contentType, err := Encode(FormatForm, Batch{SessionID: "7", Events: []string{"book"}})
	if err != nil {
		t.Fatal(err)
	}
	if contentType != ContentTypeForm {
		t.Fatalf("content type = %s", contentType)
	}
	if string(body) != "candidate_id=7&events=%5B%22book%22%5D" {
		t.Fatalf("body = %s", body)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatJSON {
		t.Fatalf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("ParseFormat(xml) error = %v", err)
	}
}

func TestClientSend(t *testing.T) {
	var gotBatch Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := DecodeRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotBatch = b
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","events":["cell phone"],"score":80}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, FormatProtobuf, srv.Client())
	score, err := c.Send(context.Background(), Batch{SessionID: "s1", Events: []string{"cell phone"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if score != 80 {
		t.Fatalf("score = %v, want 80", score)
	}
	if gotBatch.SessionID != "s1" || len(gotBatch.Events) != 1 {
		t.Fatalf("server saw %+v", gotBatch)
	}
}

func TestClientSendErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		noScore bool
	}{
		{"status error", http.StatusOK, `{"status":"error","message":"Candidate not found"}`, false},
		{"server error", http.StatusInternalServerError, `boom`, false},
		{"missing score", http.StatusOK, `{"status":"success"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, FormatJSON, srv.Client()).Send(context.Background(), Batch{SessionID: "s", Events: []string{"book"}})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.noScore != errors.Is(err, ErrNoScore) {
				t.Fatalf("error = %v", err)
			}
		})
	}
}
