package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/config"
	"github.com/oszuidwest/rdio-vox/internal/types"
)

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"valid", `{"action":"start"}`, ""},
		{"missing action", `{}`, "action"},
		{"bad action", `{"action":"pause"}`, "action"},
		{"malformed", `{"action":`, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/control", strings.NewReader(tt.body))
			_, err := DecodeRequest[ControlRequest](r)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("DecodeRequest() error = %v", err)
				}
				return
			}
			var verr *types.ValidationError
			if !errors.As(err, &verr) || len(verr.Errors) != 1 {
				t.Fatalf("DecodeRequest() error = %v, want one validation error", err)
			}
			if tt.wantField != "-" && verr.Errors[0].Field != tt.wantField {
				t.Errorf("field = %q, want %q", verr.Errors[0].Field, tt.wantField)
			}
		})
	}
}

func TestChangeSettingsRequestValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   ChangeSettingsRequest
		field string
	}{
		{"ok", ChangeSettingsRequest{CurrentPassword: "admin", NewPassword: "secret1", ConfirmPassword: "secret1"}, ""},
		{"port only", ChangeSettingsRequest{CurrentPassword: "admin"}, ""},
		{"short", ChangeSettingsRequest{CurrentPassword: "admin", NewPassword: "abc", ConfirmPassword: "abc"}, "new_password"},
		{"mismatch", ChangeSettingsRequest{CurrentPassword: "admin", NewPassword: "secret1", ConfirmPassword: "secret2"}, "confirm_password"},
		{"no current", ChangeSettingsRequest{NewPassword: "secret1", ConfirmPassword: "secret1"}, "current_password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.req)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var verr *types.ValidationError
			if !errors.As(err, &verr) || verr.Errors[0].Field != tt.field {
				t.Errorf("Validate() error = %v, want error on %s", err, tt.field)
			}
		})
	}
}

func TestConfigUpdateRequestPassword(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"absent", `{"vox_threshold":0.3}`, false},
		{"empty keeps current", `{"vox_threshold":0.3,"web_password":""}`, false},
		{"too short", `{"web_password":"abc"}`, true},
		{"valid", `{"web_password":"secret123"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(tt.body))
			_, err := DecodeRequest[ConfigUpdateRequest](r)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigUpdateRequestApply(t *testing.T) {
	var s config.Settings
	s.Vox.Threshold = 0.3
	s.Upload.ServerURL = "http://old"

	port := 9090
	threshold := 0.05
	talkgroup := "42"
	req := ConfigUpdateRequest{WebPort: &port, VoxThreshold: &threshold, Talkgroup: &talkgroup}
	req.Apply(&s)

	if s.Web.Port != 9090 || s.Vox.Threshold != 0.05 || s.Radio.Talkgroup != "42" {
		t.Errorf("Apply() = %+v", s)
	}
	if s.Upload.ServerURL != "http://old" {
		t.Errorf("unset field changed: ServerURL = %q", s.Upload.ServerURL)
	}
}

func TestLoginAndAuthMiddleware(t *testing.T) {
	sm := NewSessionManager()
	check := func(p string) bool { return p == "letmein" }

	protected := sm.AuthMiddleware()(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// API requests without a session get JSON 401, pages are redirected.
	rec := httptest.NewRecorder()
	protected(rec, httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody))
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "authentication required") {
		t.Errorf("API without session = %d %q, want 401 JSON", rec.Code, rec.Body.String())
	}
	rec = httptest.NewRecorder()
	protected(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Errorf("page without session = %d, want redirect to /login", rec.Code)
	}

	rec = httptest.NewRecorder()
	if sm.Login(rec, httptest.NewRequest(http.MethodPost, "/login", http.NoBody), "wrong", check) {
		t.Fatal("Login() with wrong password succeeded")
	}
	if sm.Login(rec, httptest.NewRequest(http.MethodPost, "/login", http.NoBody), "", check) {
		t.Fatal("Login() with empty password succeeded")
	}

	rec = httptest.NewRecorder()
	if !sm.Login(rec, httptest.NewRequest(http.MethodPost, "/login", http.NoBody), "letmein", check) {
		t.Fatal("Login() with correct password failed")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v, want one HttpOnly session cookie", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	protected(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("with session = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	sm.Logout(rec, req)
	if sm.Validate(cookies[0].Value) {
		t.Error("session still valid after Logout")
	}
}

func TestCSRFTokenSingleUse(t *testing.T) {
	sm := NewSessionManager()
	token := sm.CreateCSRFToken()
	if !sm.ValidateCSRFToken(token) {
		t.Fatal("fresh token rejected")
	}
	if sm.ValidateCSRFToken(token) {
		t.Error("token accepted twice")
	}
	if sm.ValidateCSRFToken("") {
		t.Error("empty token accepted")
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "vox.local:8080", true},
		{"http://vox.local:8080", "vox.local:8080", true},
		{"http://192.168.1.20:8080", "vox.local:8080", true},
		{"http://localhost:3000", "vox.local:8080", true},
		{"https://evil.example.com", "vox.local:8080", false},
		{"http://8.8.8.8", "vox.local:8080", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

type fakeController struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
	channels []string
}

func (f *fakeController) StartMonitor() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeController) StopMonitor() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeController) TestNotification(_ context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	return nil
}

func (f *fakeController) TestConnection(context.Context) error {
	return errors.New("server unreachable")
}

func command(t *testing.T, typ string, data any) WSCommand {
	t.Helper()
	cmd := WSCommand{Type: typ, ID: "1"}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatal(err)
		}
		cmd.Data = raw
	}
	return cmd
}

func result(t *testing.T, send <-chan any) CommandResult {
	t.Helper()
	select {
	case msg := <-send:
		res, ok := msg.(CommandResult)
		if !ok {
			t.Fatalf("message = %T, want CommandResult", msg)
		}
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("no command result")
		return CommandResult{}
	}
}

func TestCommandHandler(t *testing.T) {
	ctl := &fakeController{}
	h := NewCommandHandler(ctl)
	send := make(chan any, 4)
	var updates int
	trigger := func() { updates++ }

	h.Handle(command(t, "monitor/start", nil), send, trigger)
	if res := result(t, send); !res.Success || res.Type != "monitor/start_result" || res.ID != "1" {
		t.Errorf("monitor/start result = %+v", res)
	}

	ctl.startErr = errors.New("no device")
	h.Handle(command(t, "monitor/start", nil), send, trigger)
	if res := result(t, send); res.Success || res.Error != "no device" {
		t.Errorf("failing monitor/start result = %+v", res)
	}

	h.Handle(command(t, "monitor/stop", nil), send, trigger)
	if res := result(t, send); !res.Success {
		t.Errorf("monitor/stop result = %+v", res)
	}

	h.Handle(command(t, "notifications/test", map[string]string{"channel": "sms"}), send, trigger)
	if res := result(t, send); res.Success {
		t.Errorf("invalid channel accepted: %+v", res)
	}

	h.Handle(command(t, "notifications/test", map[string]string{"channel": "webhook"}), send, trigger)
	if res := result(t, send); !res.Success {
		t.Errorf("notifications/test result = %+v", res)
	}

	h.Handle(command(t, "connection/test", nil), send, trigger)
	if res := result(t, send); res.Success || res.Error != "server unreachable" {
		t.Errorf("connection/test result = %+v", res)
	}

	h.Handle(command(t, "bogus", nil), send, trigger)
	if res := result(t, send); res.Success {
		t.Errorf("unknown command succeeded: %+v", res)
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.starts != 2 || ctl.stops != 1 || len(ctl.channels) != 1 || ctl.channels[0] != "webhook" {
		t.Errorf("controller = %+v", ctl)
	}
	if updates != 5 {
		t.Errorf("status updates triggered %d times, want 5", updates)
	}
}
