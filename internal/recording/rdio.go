package recording

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/types"
	"github.com/oszuidwest/rdio-vox/internal/util"
)

// callUploadPath is the Rdio Scanner ingestion endpoint.
const callUploadPath = "/api/call-upload"

// DefaultUploadTimeout bounds a single upload request.
const DefaultUploadTimeout = 30 * time.Second

// maxResponseBody caps how much of an error response is read for logging.
const maxResponseBody = 4096

// ErrKeyRejected is returned by Probe when the server answers 400, which
// Rdio Scanner uses for an unknown API key.
var ErrKeyRejected = errors.New("server rejected the API key")

// Target is the Rdio Scanner server uploads are sent to.
type Target struct {
	ServerURL string
	APIKey    string
}

// IsConfigured reports whether both URL and key are set.
func (t Target) IsConfigured() bool {
	return util.IsConfigured(t.ServerURL, t.APIKey)
}

// Endpoint returns the full call-upload URL.
func (t Target) Endpoint() string {
	return strings.TrimRight(t.ServerURL, "/") + callUploadPath
}

// StatusError is a non-2xx response from the upload server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

// IsPermanent reports whether retrying err is pointless.
// Network errors and timeouts are transient; client errors and a missing target are not.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrNotConfigured) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return !se.Temporary()
	}
	return false
}

// Client submits calls to an Rdio Scanner server.
type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient returns a Client with the given per-request timeout.
func NewClient(timeout time.Duration, userAgent string) *Client {
	return &Client{
		http:      &http.Client{Timeout: cmp.Or(timeout, DefaultUploadTimeout)},
		userAgent: userAgent,
	}
}

// Upload posts the job's WAV file and metadata. Any 2xx response is success.
func (c *Client) Upload(ctx context.Context, t Target, job *Job) error {
	if !t.IsConfigured() {
		return ErrNotConfigured
	}

	audioData, err := os.ReadFile(job.Path)
	if err != nil {
		return util.WrapError("read recording", err)
	}

	body, contentType, err := buildCallForm(t.APIKey, job.Name, audioData, job.StartedAt, job.Metadata)
	if err != nil {
		return err
	}

	return c.post(ctx, t, body, contentType)
}

// Probe sends a tiny test call to check connectivity and the API key.
func (c *Client) Probe(ctx context.Context, t Target, meta types.Metadata) error {
	if !t.IsConfigured() {
		return ErrNotConfigured
	}

	body, contentType, err := buildCallForm(t.APIKey, "test.wav", []byte("test audio data"), time.Now(), meta)
	if err != nil {
		return err
	}

	err = c.post(ctx, t, body, contentType)
	var se *StatusError
	if errors.As(err, &se) {
		if se.Code == http.StatusBadRequest {
			return ErrKeyRejected
		}
		// The test payload is not real audio; any other answer proves the key was accepted.
		slog.Debug("connection probe answered", "status", se.Code)
		return nil
	}
	return err
}

func (c *Client) post(ctx context.Context, t Target, body *bytes.Buffer, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint(), body)
	if err != nil {
		return util.WrapError("create upload request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return util.WrapError("send upload request", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Debug("failed to close upload response body", "error", err)
		}
	}()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: util.FirstLine(string(respBody))}
	}
	return nil
}

// buildCallForm builds the multipart body in the field layout Rdio Scanner expects.
func buildCallForm(apiKey, name string, audioData []byte, startedAt time.Time, meta types.Metadata) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, name))
	header.Set("Content-Type", "audio/wav")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", util.WrapError("create audio part", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, "", util.WrapError("write audio part", err)
	}

	fields := []struct{ name, value string }{
		{"audioName", name},
		{"audioType", "audio/wav"},
		{"dateTime", startedAt.Format(time.RFC3339)},
		{"frequencies", "[]"},
		{"frequency", meta.Frequency},
		{"key", apiKey},
		{"patches", "[]"},
		{"source", meta.Source},
		{"sources", "[]"},
		{"system", meta.System},
		{"systemLabel", meta.SystemLabel},
		{"talkgroup", meta.Talkgroup},
		{"talkgroupGroup", meta.TalkgroupGroup},
		{"talkgroupLabel", meta.TalkgroupLabel},
		{"talkgroupTag", meta.TalkgroupTag},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", util.WrapError("write form field "+f.name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", util.WrapError("finish multipart body", err)
	}
	return body, w.FormDataContentType(), nil
}
