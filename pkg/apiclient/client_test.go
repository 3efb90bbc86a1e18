package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCheckPDF(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"missing header", "hello", ErrInvalidPDF},
		{"plain", "%PDF-1.4\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n", nil},
		{"encrypt reference", "%PDF-1.7\ntrailer << /Encrypt 5 0 R >>", ErrEncryptedPDF},
		{"standard security handler", "%PDF-1.4\n/Filter /StandardSecurityHandler", ErrEncryptedPDF},
		{"owner password", "%PDF-1.4\n/O (abc)", ErrEncryptedPDF},
		{"stream length", "%PDF-1.4\n<< /Length 42 >>", ErrEncryptedPDF},
		{"binary marker past the scan window", "%PDF-1.4\n" + strings.Repeat(" ", 5000) + "/Cr", ErrEncryptedPDF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckPDF([]byte(tt.data)); !errors.Is(err, tt.want) {
				t.Errorf("CheckPDF() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIsPDF(t *testing.T) {
	if !IsPDF("Score.PDF", "", nil) || !IsPDF("x", "application/pdf", nil) || !IsPDF("x", "", []byte("%PDF-1.4")) {
		t.Error("PDF not detected")
	}
	if IsPDF("score.xml", "application/xml", []byte("<?xml")) {
		t.Error("MusicXML detected as PDF")
	}
}

func TestConvertFileStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantMsg string
	}{
		{"not found", http.StatusNotFound, "", ErrServiceUnavailable, MsgServiceUnavailable},
		{"too large", http.StatusRequestEntityTooLarge, "", ErrFileTooLarge, MsgFileTooLarge},
		{"unsupported", http.StatusUnsupportedMediaType, "", ErrUnsupportedType, MsgUnsupportedType},
		{"server error", http.StatusBadGateway, "", ErrServerError, MsgServerError},
		{"bad request", http.StatusBadRequest, "", ErrConversionFailed, "Conversion failed: Bad Request"},
		{"json message wins", http.StatusInternalServerError, `{"message":"OMR engine crashed"}`, ErrServerError, "OMR engine crashed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL).ConvertFile(context.Background(), "score.xml", "application/xml", []byte("<score-partwise/>"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
			var apiErr *Error
			if !errors.As(err, &apiErr) || apiErr.Status != tt.status {
				t.Errorf("expected *Error with status %d, got %#v", tt.status, err)
			}
		})
	}
}

func TestConvertFile(t *testing.T) {
	var gotName, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/convert" {
			http.NotFound(w, r)
			return
		}
		f, h, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		gotName, gotBody = h.Filename, string(data)
		w.Write([]byte("MThd"))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	if c.BaseURL() != srv.URL {
		t.Errorf("BaseURL() = %q", c.BaseURL())
	}

	t.Run("uploads multipart", func(t *testing.T) {
		out, err := c.ConvertFile(context.Background(), "score.xml", "application/xml", []byte("<score/>"))
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != "MThd" || gotName != "score.xml" || gotBody != "<score/>" {
			t.Errorf("out=%q name=%q body=%q", out, gotName, gotBody)
		}
	})

	t.Run("encrypted PDFs are not uploaded", func(t *testing.T) {
		gotName = ""
		_, err := c.ConvertFile(context.Background(), "scan.pdf", "", []byte("%PDF-1.4\n/Encrypt 3 0 R"))
		if !errors.Is(err, ErrEncryptedPDF) || err.Error() != MsgEncryptedPDF {
			t.Errorf("error = %v", err)
		}
		if gotName != "" {
			t.Error("the file reached the server")
		}
	})

	t.Run("invalid PDFs are not uploaded", func(t *testing.T) {
		_, err := c.ConvertFile(context.Background(), "scan.pdf", "", []byte("not a pdf"))
		if !errors.Is(err, ErrInvalidPDF) {
			t.Errorf("error = %v", err)
		}
	})
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"status":"ok"}`)
		}))
		defer srv.Close()

		h, err := New(srv.URL).Health(context.Background())
		if err != nil || h["status"] != "ok" {
			t.Errorf("Health() = %v, %v", h, err)
		}
	})

	t.Run("failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := New(srv.URL).Health(context.Background())
		if !errors.Is(err, ErrHealthCheck) || err.Error() != MsgHealthCheck {
			t.Errorf("Health() error = %v", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := New("http://127.0.0.1:1").Health(context.Background())
		if !errors.Is(err, ErrHealthCheck) {
			t.Errorf("Health() error = %v", err)
		}
	})
}

type progressLog struct {
	mu      sync.Mutex
	updates []Progress
}

func (l *progressLog) add(p Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, p)
}

func (l *progressLog) get() []Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Progress(nil), l.updates...)
}

func TestSubscribeProgress(t *testing.T) {
	t.Run("messages then lost connection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, ": hello\n\n")
			fmt.Fprint(w, "data: {\"status\":\"parsing\",\"message\":\"Parsing\"}\n\n")
			fmt.Fprint(w, "data: not json\n\n")
		}))
		defer srv.Close()

		var log progressLog
		sub, err := New(srv.URL).SubscribeProgress(context.Background(), log.add)
		if err != nil {
			t.Fatal(err)
		}
		select {
		case <-sub.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("subscription did not close after the stream ended")
		}
		sub.Close()

		want := []Progress{
			{"parsing", "Parsing"},
			{StatusError, MsgParseFailed},
			{StatusError, MsgConnectionLost},
		}
		got := log.get()
		if len(got) != len(want) {
			t.Fatalf("updates = %+v, want %+v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("update %d = %+v, want %+v", i, got[i], want[i])
			}
		}
	})

	t.Run("close is idempotent and silent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}))
		defer srv.Close()

		var log progressLog
		sub, err := New(srv.URL).SubscribeProgress(context.Background(), log.add)
		if err != nil {
			t.Fatal(err)
		}
		sub.Close()
		sub.Close()
		if got := log.get(); len(got) != 0 {
			t.Errorf("closing must not report updates, got %+v", got)
		}
	})

	t.Run("open failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		if _, err := New(srv.URL).SubscribeProgress(context.Background(), func(Progress) {}); err == nil {
			t.Error("expected an error for a missing stream endpoint")
		}
	})
}
