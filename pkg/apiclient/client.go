// Package apiclient talks to a remote score conversion service: liveness,
// file conversion and the server-sent progress feed.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/zurustar/scoresync/pkg/logger"
)

// Sentinel errors. Errors returned for failed requests wrap one of these and
// carry a message suitable for display.
var (
	ErrInvalidPDF         = errors.New("invalid PDF file format")
	ErrEncryptedPDF       = errors.New("encrypted PDF")
	ErrServiceUnavailable = errors.New("conversion service unavailable")
	ErrFileTooLarge       = errors.New("file too large")
	ErrUnsupportedType    = errors.New("unsupported file type")
	ErrServerError        = errors.New("conversion server error")
	ErrConversionFailed   = errors.New("conversion failed")
	ErrHealthCheck        = errors.New("health check failed")
)

// Display messages for the sentinel errors.
const (
	MsgInvalidPDF         = "Invalid PDF file format"
	MsgEncryptedPDF       = "This PDF file appears to be encrypted or password-protected. Please provide an unencrypted PDF file."
	MsgServiceUnavailable = "The conversion service is currently unavailable. Please try again later."
	MsgFileTooLarge       = "The file is too large. Please try a smaller file."
	MsgUnsupportedType    = "This file type is not supported."
	MsgServerError        = "Server error. Please try again later."
	MsgHealthCheck        = "Server health check failed. Please try again later."
)

// Error is a failed request with a display message.
type Error struct {
	Status  int
	Message string
	kind    error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.kind }

// statusError maps a failed conversion response to an Error. A JSON
// "message" field in the body wins over the status-specific message.
func statusError(resp *http.Response) error {
	e := &Error{
		Status:  resp.StatusCode,
		Message: "Conversion failed: " + http.StatusText(resp.StatusCode),
		kind:    ErrConversionFailed,
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		e.kind, e.Message = ErrServiceUnavailable, MsgServiceUnavailable
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		e.kind, e.Message = ErrFileTooLarge, MsgFileTooLarge
	case resp.StatusCode == http.StatusUnsupportedMediaType:
		e.kind, e.Message = ErrUnsupportedType, MsgUnsupportedType
	case resp.StatusCode >= 500:
		e.kind, e.Message = ErrServerError, MsgServerError
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Message != "" {
		e.Message = body.Message
	}
	return e
}

// Client is a conversion service client. The base URL is fixed at
// construction.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
		log:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health is the liveness report of the service.
type Health map[string]any

// Health checks that the service is up.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("Health check failed", "error", err)
		return nil, &Error{Message: MsgHealthCheck, kind: fmt.Errorf("%w: %v", ErrHealthCheck, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error("Health check failed", "status", resp.StatusCode)
		return nil, &Error{Status: resp.StatusCode, Message: MsgHealthCheck, kind: ErrHealthCheck}
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, &Error{Status: resp.StatusCode, Message: MsgHealthCheck, kind: fmt.Errorf("%w: %v", ErrHealthCheck, err)}
	}
	return h, nil
}

// ConvertFile uploads a file as the multipart field "file" and returns the
// converted document. PDFs are checked for encryption first and never
// uploaded when the check fails.
func (c *Client) ConvertFile(ctx context.Context, name, contentType string, data []byte) ([]byte, error) {
	if IsPDF(name, contentType, data) {
		c.log.Debug("Checking PDF security", "file", name, "size", len(data))
		switch err := CheckPDF(data); {
		case errors.Is(err, ErrEncryptedPDF):
			return nil, &Error{Message: MsgEncryptedPDF, kind: ErrEncryptedPDF}
		case err != nil:
			return nil, &Error{Message: MsgInvalidPDF, kind: err}
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.log.Debug("Sending file to server", "file", name, "url", req.URL.String())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := statusError(resp)
		c.log.Error("File conversion failed", "file", name, "status", resp.StatusCode, "error", err)
		return nil, err
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	return out, nil
}
