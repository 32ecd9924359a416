package recording

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/audio"
	"github.com/oszuidwest/rdio-vox/internal/types"
)

var testMetadata = types.Metadata{
	Frequency:      "154.250",
	Source:         "1001",
	System:         "7",
	SystemLabel:    "County Fire",
	Talkgroup:      "42",
	TalkgroupGroup: "Fire",
	TalkgroupLabel: "Dispatch",
	TalkgroupTag:   "Fire Dispatch",
}

func testSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(time.Now(), testMetadata)
	if err := s.Buffer.Append(audio.ToneBlock(0.5, 256, 8000, 1)); err != nil {
		t.Fatal(err)
	}
	return s
}

type resultLog struct {
	mu      sync.Mutex
	results []Result
	ch      chan Result
}

func newResultLog() *resultLog {
	return &resultLog{ch: make(chan Result, 64)}
}

func (l *resultLog) record(r Result) {
	l.mu.Lock()
	l.results = append(l.results, r)
	l.mu.Unlock()
	l.ch <- r
}

// waitFinal returns the next result that ends a job.
func (l *resultLog) waitFinal(t *testing.T) Result {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r := <-l.ch:
			if r.Outcome != OutcomeRetrying {
				return r
			}
		case <-timeout:
			t.Fatal("timed out waiting for upload result")
		}
	}
}

func newTestDispatcher(t *testing.T, serverURL string, opts Options) (*Dispatcher, string, *resultLog) {
	t.Helper()
	dir := t.TempDir()
	log := newResultLog()

	opts.InitialBackoff = time.Millisecond
	opts.MaxBackoff = 5 * time.Millisecond
	opts.OnResult = log.record

	d := NewDispatcher(func() Settings {
		return Settings{
			Target:      Target{ServerURL: serverURL, APIKey: "secret"},
			Dir:         dir,
			MaxAttempts: 5,
		}
	}, opts)
	d.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d, dir, log
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	var dir string
	var existedBeforeSuccess atomic.Bool
	existedBeforeSuccess.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, r.FormValue("audioName"))); err != nil {
			existedBeforeSuccess.Store(false)
		}
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "Call imported successfully.")
	}))
	defer srv.Close()

	d, tmp, log := newTestDispatcher(t, srv.URL, Options{Workers: 1})
	dir = tmp

	if err := d.Submit(testSession(t)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	r := log.waitFinal(t)
	if r.Outcome != OutcomeDelivered {
		t.Fatalf("Outcome = %s (err %v), want delivered", r.Outcome, r.Err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("server saw %d attempts, want 3", got)
	}
	if r.Job.Attempts != 3 {
		t.Errorf("Job.Attempts = %d, want 3", r.Job.Attempts)
	}
	if !existedBeforeSuccess.Load() {
		t.Error("artifact was missing before the successful attempt")
	}
	if _, err := os.Stat(r.Job.Path); !os.IsNotExist(err) {
		t.Errorf("artifact still present after success (stat error %v)", err)
	}
	if s := d.Stats(); s.Delivered != 1 || s.Failed != 0 {
		t.Errorf("Stats() = %+v, want 1 delivered, 0 failed", s)
	}
}

func TestDispatcherPermanentFailure(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d, _, log := newTestDispatcher(t, srv.URL, Options{Workers: 1})
	if err := d.Submit(testSession(t)); err != nil {
		t.Fatal(err)
	}

	r := log.waitFinal(t)
	if r.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %s, want failed", r.Outcome)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("server saw %d attempts, want 1", got)
	}
	var se *StatusError
	if !errors.As(r.Err, &se) || se.Code != http.StatusUnauthorized {
		t.Errorf("Err = %v, want 401 StatusError", r.Err)
	}
	if !r.Retained {
		t.Error("Retained = false, want true")
	}
	if _, err := os.Stat(r.Job.Path); err != nil {
		t.Errorf("artifact not retained: %v", err)
	}
	if s := d.Stats(); s.Failed != 1 || s.LastError == "" {
		t.Errorf("Stats() = %+v, want 1 failed with last error", s)
	}
}

func TestDispatcherExhaustsAttempts(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d, _, log := newTestDispatcher(t, srv.URL, Options{Workers: 1})
	if err := d.Submit(testSession(t)); err != nil {
		t.Fatal(err)
	}

	r := log.waitFinal(t)
	if r.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %s, want failed", r.Outcome)
	}
	if got := attempts.Load(); got != 5 {
		t.Errorf("server saw %d attempts, want 5", got)
	}
	if _, err := os.Stat(r.Job.Path); err != nil {
		t.Errorf("artifact not retained: %v", err)
	}
}

func TestDispatcherUnconfiguredTargetIsPermanent(t *testing.T) {
	d, _, log := newTestDispatcher(t, "", Options{Workers: 1})
	if err := d.Submit(testSession(t)); err != nil {
		t.Fatal(err)
	}

	r := log.waitFinal(t)
	if r.Outcome != OutcomeFailed || !errors.Is(r.Err, ErrNotConfigured) {
		t.Fatalf("result = %s / %v, want failed / ErrNotConfigured", r.Outcome, r.Err)
	}
	if r.Job.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", r.Job.Attempts)
	}
}

func TestDispatcherSendsCallFields(t *testing.T) {
	fields := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/call-upload" {
			t.Errorf("path = %s, want /api/call-upload", r.URL.Path)
		}
		got := make(map[string]string)
		defer func() { fields <- got }()
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
			return
		}
		for k, v := range r.MultipartForm.Value {
			got[k] = v[0]
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("FormFile(audio) error = %v", err)
		} else {
			head := make([]byte, 4)
			_, _ = io.ReadFull(file, head)
			if string(head) != "RIFF" {
				t.Errorf("audio part starts with %q, want RIFF", head)
			}
			if header.Header.Get("Content-Type") != "audio/wav" {
				t.Errorf("audio part Content-Type = %q, want audio/wav", header.Header.Get("Content-Type"))
			}
			got["audio"] = header.Filename
			_ = file.Close()
		}
	}))
	defer srv.Close()

	d, _, log := newTestDispatcher(t, srv.URL+"/", Options{Workers: 1})
	s := testSession(t)
	if err := d.Submit(s); err != nil {
		t.Fatal(err)
	}
	log.waitFinal(t)

	got := <-fields
	want := map[string]string{
		"key":            "secret",
		"system":         "7",
		"systemLabel":    "County Fire",
		"talkgroup":      "42",
		"talkgroupGroup": "Fire",
		"talkgroupLabel": "Dispatch",
		"talkgroupTag":   "Fire Dispatch",
		"frequency":      "154.250",
		"source":         "1001",
		"frequencies":    "[]",
		"patches":        "[]",
		"sources":        "[]",
		"audioType":      "audio/wav",
		"audioName":      s.Filename(),
		"dateTime":       s.StartedAt.Format(time.RFC3339),
		"audio":          s.Filename(),
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("field %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestDispatcherDropsOldestWhenQueueFull(t *testing.T) {
	received := make(chan struct{}, 8)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received <- struct{}{}
		<-release
	}))
	defer srv.Close()

	d, _, log := newTestDispatcher(t, srv.URL, Options{Workers: 1, QueueSize: 1})

	first, second, third := testSession(t), testSession(t), testSession(t)
	if err := d.Submit(first); err != nil {
		t.Fatal(err)
	}
	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("first upload never reached the server")
	}

	start := time.Now()
	_ = d.Submit(second)
	_ = d.Submit(third)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Submit blocked for %v while an upload was in flight", elapsed)
	}

	dropped := log.waitFinal(t)
	if dropped.Outcome != OutcomeDropped || dropped.Job.SessionID != second.ID {
		t.Fatalf("first final result = %s for %s, want dropped for %s", dropped.Outcome, dropped.Job.SessionID, second.ID)
	}
	if _, err := os.Stat(dropped.Job.Path); err != nil {
		t.Errorf("dropped recording not kept on disk: %v", err)
	}

	close(release)
	delivered := map[string]bool{}
	for range 2 {
		r := log.waitFinal(t)
		if r.Outcome != OutcomeDelivered {
			t.Errorf("Outcome = %s, want delivered", r.Outcome)
		}
		delivered[r.Job.SessionID] = true
	}
	if !delivered[first.ID] || !delivered[third.ID] {
		t.Errorf("delivered = %v, want first and third sessions", delivered)
	}
	if s := d.Stats(); s.Dropped != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", s.Dropped)
	}
}

func TestDispatcherDiscardsEmptySession(t *testing.T) {
	d, dir, log := newTestDispatcher(t, "http://127.0.0.1:1", Options{Workers: 1})
	if err := d.Submit(NewSession(time.Now(), testMetadata)); err != nil {
		t.Fatal(err)
	}

	r := log.waitFinal(t)
	if r.Outcome != OutcomeDiscarded || !errors.Is(r.Err, ErrEmptyPayload) {
		t.Fatalf("result = %s / %v, want discarded / ErrEmptyPayload", r.Outcome, r.Err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("recordings dir has %d entries, want 0", len(entries))
	}
}

func TestDispatcherCloseRejectsSubmit(t *testing.T) {
	d := NewDispatcher(func() Settings { return Settings{Dir: t.TempDir()} }, Options{})
	d.Start()
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Submit(testSession(t)); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrDispatcherClosed", err)
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&StatusError{Code: 400}, true},
		{&StatusError{Code: 401}, true},
		{&StatusError{Code: 404}, true},
		{&StatusError{Code: 408}, false},
		{&StatusError{Code: 429}, false},
		{&StatusError{Code: 500}, false},
		{&StatusError{Code: 503}, false},
		{ErrNotConfigured, true},
		{errors.New("connection refused"), false},
		{context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		if got := IsPermanent(tt.err); got != tt.want {
			t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
