package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LikhitaMagar01/Zync/internal/config"
	"github.com/LikhitaMagar01/Zync/internal/db"
	"github.com/LikhitaMagar01/Zync/internal/registry"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func testCfg() config.Config {
	return config.Config{
		Port:                  "0",
		Env:                   "dev",
		JWTSecret:             "test-access-secret",
		JWTRefreshSecret:      "test-refresh-secret",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   7,
		MessageQueueCap:       16,
	}
}

var (
	dbOnce sync.Once
	gdb    *gorm.DB
	dbErr  error
)

// openTestDB connects once per test binary; tests that need persistence
// skip when no local Postgres is reachable.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbOnce.Do(func() {
		gdb, dbErr = db.Connect("host=localhost user=postgres password=postgres dbname=zync port=5432 sslmode=disable TimeZone=UTC")
		if dbErr == nil {
			dbErr = db.Migrate(gdb)
		}
	})
	if dbErr != nil {
		t.Skipf("skip: db not available: %v", dbErr)
	}
	return gdb
}

func newEngine(t *testing.T, gdb *gorm.DB) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return SetupRouter(testCfg(), gdb, registry.New(16))
}

func TestHealthz(t *testing.T) {
	engine := newEngine(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func postJSON(t *testing.T, engine *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRegister_Validation(t *testing.T) {
	engine := newEngine(t, nil)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"short username", map[string]string{"username": "ab", "email": "a@b.com", "password": "Passw0rd"}},
		{"username with spaces", map[string]string{"username": "a b c", "email": "a@b.com", "password": "Passw0rd"}},
		{"bad email", map[string]string{"username": "alice", "email": "not-an-email", "password": "Passw0rd"}},
		{"short password", map[string]string{"username": "alice", "email": "a@b.com", "password": "Pw1"}},
		{"password without upper", map[string]string{"username": "alice", "email": "a@b.com", "password": "passw0rd"}},
		{"password without digit", map[string]string{"username": "alice", "email": "a@b.com", "password": "Password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := postJSON(t, engine, "/api/register", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestSendMessage_Validation(t *testing.T) {
	engine := newEngine(t, nil)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing chat id", map[string]interface{}{"receiverId": 2, "content": "hi"}},
		{"missing receiver", map[string]interface{}{"chatId": "c1", "content": "hi"}},
		{"empty content", map[string]interface{}{"chatId": "c1", "receiverId": 2, "content": ""}},
		{"oversize content", map[string]interface{}{"chatId": "c1", "receiverId": 2, "content": strings.Repeat("x", 1001)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := postJSON(t, engine, "/api/messages/send", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	engine := newEngine(t, nil)

	for _, path := range []string{"/api/profile", "/api/chats", "/api/users/search?q=a"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: status = %d, want 401", path, w.Code)
		}
	}
}

func TestGoogleStatus_Unconfigured(t *testing.T) {
	engine := newEngine(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/status", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Configured bool `json:"configured"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Configured {
		t.Error("configured = true without client credentials")
	}
}

// ---- end to end against a live server with a cookie jar ----

type e2eClient struct {
	t    *testing.T
	base string
	hc   *http.Client
}

func newE2EClient(t *testing.T, base string) *e2eClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &e2eClient{t: t, base: base, hc: &http.Client{Jar: jar, Timeout: 10 * time.Second}}
}

func (c *e2eClient) request(method, path string, body interface{}, cookies ...*http.Cookie) (int, map[string]interface{}) {
	c.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		c.t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		c.t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (c *e2eClient) cookie(name string) *http.Cookie {
	c.t.Helper()
	req, _ := http.NewRequest(http.MethodGet, c.base+"/", nil)
	for _, ck := range c.hc.Jar.Cookies(req.URL) {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

// registerAndLogin creates a fresh user and logs in, returning its id.
func (c *e2eClient) registerAndLogin(suffix string) uint {
	c.t.Helper()
	username := fmt.Sprintf("u%d%s", time.Now().UnixNano()%1_000_000_000, suffix)
	email := username + "@test.dev"

	code, resp := c.request(http.MethodPost, "/api/register", map[string]string{
		"username": username, "email": email, "password": "Passw0rd",
	})
	if code != http.StatusOK {
		c.t.Fatalf("register: status %d, resp %v", code, resp)
	}
	id, _ := resp["userId"].(float64)

	code, resp = c.request(http.MethodPost, "/api/login", map[string]string{
		"email": email, "password": "Passw0rd",
	})
	if code != http.StatusOK {
		c.t.Fatalf("login: status %d, resp %v", code, resp)
	}
	return uint(id)
}

func TestAuthLifecycle(t *testing.T) {
	gdb := openTestDB(t)
	srv := httptest.NewServer(newEngine(t, gdb))
	defer srv.Close()

	c := newE2EClient(t, srv.URL)
	c.registerAndLogin("a")

	if c.cookie("access_token") == nil || c.cookie("refresh_token") == nil {
		t.Fatal("login must set access_token and refresh_token cookies")
	}

	// authenticated request works
	if code, resp := c.request(http.MethodGet, "/api/profile", nil); code != http.StatusOK {
		t.Fatalf("profile: status %d, resp %v", code, resp)
	}

	// rotation: keep the pre-rotation refresh token aside
	oldRefresh := *c.cookie("refresh_token")

	if code, resp := c.request(http.MethodPost, "/api/refresh", nil); code != http.StatusOK {
		t.Fatalf("refresh: status %d, resp %v", code, resp)
	}
	if c.cookie("refresh_token").Value == oldRefresh.Value {
		t.Error("refresh must rotate the refresh token cookie")
	}

	// replaying the rotated-out token must fail
	fresh := newE2EClient(t, srv.URL)
	if code, _ := fresh.request(http.MethodPost, "/api/refresh", nil, &oldRefresh); code != http.StatusUnauthorized {
		t.Errorf("replayed old refresh token: status %d, want 401", code)
	}

	// logout revokes the current refresh token server-side
	current := *c.cookie("refresh_token")
	if code, _ := c.request(http.MethodPost, "/api/logout", nil); code != http.StatusOK {
		t.Fatal("logout should always return 200")
	}
	if code, _ := fresh.request(http.MethodPost, "/api/refresh", nil, &current); code != http.StatusUnauthorized {
		t.Errorf("refresh after logout: status %d, want 401", code)
	}
}

func TestRegister_Duplicates(t *testing.T) {
	gdb := openTestDB(t)
	srv := httptest.NewServer(newEngine(t, gdb))
	defer srv.Close()

	c := newE2EClient(t, srv.URL)
	username := fmt.Sprintf("d%d", time.Now().UnixNano()%1_000_000_000)
	email := username + "@test.dev"

	if code, _ := c.request(http.MethodPost, "/api/register", map[string]string{
		"username": username, "email": email, "password": "Passw0rd",
	}); code != http.StatusOK {
		t.Fatalf("first register: status %d", code)
	}

	if code, _ := c.request(http.MethodPost, "/api/register", map[string]string{
		"username": username + "x", "email": email, "password": "Passw0rd",
	}); code != http.StatusConflict {
		t.Errorf("duplicate email: status %d, want 409", code)
	}
	if code, _ := c.request(http.MethodPost, "/api/register", map[string]string{
		"username": username, "email": "x" + email, "password": "Passw0rd",
	}); code != http.StatusConflict {
		t.Errorf("duplicate username: status %d, want 409", code)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	gdb := openTestDB(t)
	srv := httptest.NewServer(newEngine(t, gdb))
	defer srv.Close()

	c := newE2EClient(t, srv.URL)
	username := fmt.Sprintf("w%d", time.Now().UnixNano()%1_000_000_000)
	email := username + "@test.dev"
	if code, _ := c.request(http.MethodPost, "/api/register", map[string]string{
		"username": username, "email": email, "password": "Passw0rd",
	}); code != http.StatusOK {
		t.Fatal("register failed")
	}

	if code, _ := c.request(http.MethodPost, "/api/login", map[string]string{
		"email": email, "password": "WrongPw1",
	}); code != http.StatusUnauthorized {
		t.Errorf("wrong password: status %d, want 401", code)
	}
	if code, _ := c.request(http.MethodPost, "/api/login", map[string]string{
		"email": "nobody@test.dev", "password": "Passw0rd",
	}); code != http.StatusUnauthorized {
		t.Errorf("unknown email: status %d, want 401", code)
	}
}

// sseEvents opens the event stream and forwards decoded frames.
func sseEvents(t *testing.T, base string, userID uint) (<-chan map[string]interface{}, func()) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/chat/events?userId=%d", base, userID), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("event stream: status %d", resp.StatusCode)
	}

	ch := make(chan map[string]interface{}, 16)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev map[string]interface{}
			if json.Unmarshal([]byte(line[len("data: "):]), &ev) == nil {
				ch <- ev
			}
		}
	}()
	return ch, func() { resp.Body.Close() }
}

func waitEvent(t *testing.T, ch <-chan map[string]interface{}, wantType string) map[string]interface{} {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("stream closed waiting for %q", wantType)
		}
		if ev["type"] != wantType {
			t.Fatalf("event type = %v, want %q (event %v)", ev["type"], wantType, ev)
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q", wantType)
	}
	return nil
}

func TestMessageDelivery_LiveAndQueued(t *testing.T) {
	gdb := openTestDB(t)
	srv := httptest.NewServer(newEngine(t, gdb))
	defer srv.Close()

	sender := newE2EClient(t, srv.URL)
	senderID := sender.registerAndLogin("s")
	receiver := newE2EClient(t, srv.URL)
	receiverID := receiver.registerAndLogin("r")

	// sender creates a private chat with the receiver
	code, resp := sender.request(http.MethodPost, "/api/chats", map[string]interface{}{
		"type": "private", "participants": []uint{senderID, receiverID},
	})
	if code != http.StatusOK {
		t.Fatalf("create chat: status %d, resp %v", code, resp)
	}
	chatID := resp["data"].(map[string]interface{})["id"].(string)

	// receiver online: message arrives on the stream
	events, stop := sseEvents(t, srv.URL, receiverID)
	ev := waitEvent(t, events, "connected")
	if uint(ev["userId"].(float64)) != receiverID {
		t.Fatalf("connected ack for wrong user: %v", ev)
	}

	code, resp = sender.request(http.MethodPost, "/api/messages/send", map[string]interface{}{
		"chatId": chatID, "receiverId": receiverID, "content": "hello live",
	})
	if code != http.StatusOK {
		t.Fatalf("send: status %d, resp %v", code, resp)
	}

	ev = waitEvent(t, events, "new-message")
	msg := ev["message"].(map[string]interface{})
	if msg["content"] != "hello live" || uint(msg["senderId"].(float64)) != senderID {
		t.Fatalf("delivered message = %v", msg)
	}
	stop()

	// receiver offline: messages queue and flush on reconnect in order
	time.Sleep(100 * time.Millisecond) // let the server notice the closed stream
	for _, content := range []string{"queued 1", "queued 2"} {
		if code, _ := sender.request(http.MethodPost, "/api/messages/send", map[string]interface{}{
			"chatId": chatID, "receiverId": receiverID, "content": content,
		}); code != http.StatusOK {
			t.Fatalf("send while offline: status %d", code)
		}
	}

	events, stop = sseEvents(t, srv.URL, receiverID)
	defer stop()
	waitEvent(t, events, "connected")
	for _, want := range []string{"queued 1", "queued 2"} {
		ev := waitEvent(t, events, "new-message")
		if got := ev["message"].(map[string]interface{})["content"]; got != want {
			t.Errorf("flushed content = %v, want %q", got, want)
		}
	}

	// history is ascending and contains all three
	code, resp = sender.request(http.MethodGet, "/api/messages/"+chatID, nil)
	if code != http.StatusOK {
		t.Fatalf("history: status %d", code)
	}
	data := resp["data"].([]interface{})
	if len(data) < 3 {
		t.Fatalf("history has %d messages, want >= 3", len(data))
	}
}

func TestUserSearch_ReportsPresence(t *testing.T) {
	gdb := openTestDB(t)
	srv := httptest.NewServer(newEngine(t, gdb))
	defer srv.Close()

	c := newE2EClient(t, srv.URL)
	id := c.registerAndLogin("p")

	events, stop := sseEvents(t, srv.URL, id)
	defer stop()
	waitEvent(t, events, "connected")

	code, resp := c.request(http.MethodGet, "/api/users/search?q=u", nil)
	if code != http.StatusOK {
		t.Fatalf("search: status %d, resp %v", code, resp)
	}
	found := false
	for _, raw := range resp["data"].([]interface{}) {
		u := raw.(map[string]interface{})
		if uint(u["id"].(float64)) == id {
			found = true
			if online, _ := u["isOnline"].(bool); !online {
				t.Error("user with an open stream should report isOnline = true")
			}
		}
	}
	if !found {
		t.Error("search did not return the connected user")
	}
}
