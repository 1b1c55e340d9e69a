package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/pccr10001/softphone/internal/auth"
	"github.com/pccr10001/softphone/internal/calling"
	"github.com/pccr10001/softphone/internal/model"
	"github.com/pccr10001/softphone/internal/repository"
	"gorm.io/gorm"
)

type stubHandle struct {
	id, dest string
}

func (h *stubHandle) ID() string                                        { return h.id }
func (h *stubHandle) Direction() string                                 { return "outbound" }
func (h *stubHandle) RemoteNumber() string                              { return h.dest }
func (h *stubHandle) RemoteName() string                                { return "" }
func (h *stubHandle) Destination() string                               { return h.dest }
func (h *stubHandle) Answer(context.Context) error                      { return nil }
func (h *stubHandle) Hangup(context.Context, calling.HangupCause) error { return nil }
func (h *stubHandle) Hold(context.Context) error                        { return nil }
func (h *stubHandle) Unhold(context.Context) error                      { return nil }
func (h *stubHandle) Mute() error                                       { return nil }
func (h *stubHandle) Unmute() error                                     { return nil }
func (h *stubHandle) SendDigit(string) error                            { return nil }

// stubClient reports ready as soon as it connects.
type stubClient struct {
	events chan calling.ProviderEvent
	once   sync.Once
}

func (c *stubClient) Connect(context.Context, string, string) error {
	c.events <- calling.ProviderEvent{Name: "telnyx.ready"}
	return nil
}

func (c *stubClient) Disconnect() error {
	c.once.Do(func() { close(c.events) })
	return nil
}

func (c *stubClient) Originate(_ context.Context, req calling.OriginateRequest) (calling.CallHandle, error) {
	return &stubHandle{id: "call-1", dest: req.Destination}, nil
}

func (c *stubClient) Events() <-chan calling.ProviderEvent { return c.events }

type testServer struct {
	router *gin.Engine
	users  *repository.UserRepository
	phones *calling.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	auth.Configure("api-test-secret", time.Hour)
	auth.BcryptCost = 4

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	users := repository.NewUserRepository(db)
	phones := calling.NewManager(calling.PhoneOptions{
		Factory: func(calling.Credentials) (calling.Client, error) {
			return &stubClient{events: make(chan calling.ProviderEvent, 16)}, nil
		},
	}, nil, nil)
	t.Cleanup(func() { _ = phones.CloseAll() })

	return &testServer{
		router: NewRouter(users, phones, "Default Desk"),
		users:  users,
		phones: phones,
	}
}

func (s *testServer) addUser(t *testing.T, name, role string, sip bool) *model.User {
	t.Helper()
	hash, err := auth.HashPassword("pw-" + name)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &model.User{Username: name, PasswordHash: hash, Role: role}
	if sip {
		u.SIPUsername = name + "-sip"
		u.SIPPassword = "secret"
		u.CallerID = "+15550001111"
	}
	if err := s.users.Create(u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (s *testServer) token(t *testing.T, u *model.User) string {
	t.Helper()
	tok, err := auth.GenerateToken(u)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	s.addUser(t, "alice", model.RoleUser, false)

	code, _ := s.do(t, http.MethodPost, "/api/v1/login", "", gin.H{"username": "alice", "password": "nope"})
	if code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", code)
	}
	code, body := s.do(t, http.MethodPost, "/api/v1/login", "", gin.H{"username": "alice", "password": "pw-alice"})
	if code != http.StatusOK || body["token"] == "" {
		t.Fatalf("login failed: %d %v", code, body)
	}
	user := body["user"].(map[string]any)
	if _, leaked := user["sip_password"]; leaked {
		t.Fatalf("sip password must not be serialized")
	}

	code, _ = s.do(t, http.MethodGet, "/api/v1/me", body["token"].(string), nil)
	if code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", code)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	if code, _ := s.do(t, http.MethodGet, "/api/v1/phone", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/v1/phone", "garbage", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", code)
	}
}

func TestAdminOnly(t *testing.T) {
	s := newTestServer(t)
	user := s.addUser(t, "bob", model.RoleUser, false)
	admin := s.addUser(t, "root", model.RoleAdmin, false)

	if code, _ := s.do(t, http.MethodGet, "/api/v1/users", s.token(t, user), nil); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	code, _ := s.do(t, http.MethodPost, "/api/v1/users", s.token(t, admin), gin.H{"username": "carol", "password": "x", "role": "superuser"})
	if code != http.StatusOK {
		t.Fatalf("create user: %d", code)
	}
	carol, err := s.users.FindByUsername("carol")
	if err != nil || carol.Role != model.RoleUser {
		t.Fatalf("unknown role should fall back to user: %v %+v", err, carol)
	}
	if code, _ := s.do(t, http.MethodDelete, "/api/v1/users/9999", s.token(t, admin), nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting missing user, got %d", code)
	}
}

func TestUpdateSIPKeepsSecret(t *testing.T) {
	s := newTestServer(t)
	u := s.addUser(t, "dave", model.RoleUser, true)

	code, _ := s.do(t, http.MethodPut, "/api/v1/me/sip", s.token(t, u), gin.H{
		"sip_username": " dave2 ",
		"caller_id":    "+15559990000",
		"caller_name":  "Dave",
	})
	if code != http.StatusOK {
		t.Fatalf("update sip: %d", code)
	}
	got, _ := s.users.FindByID(u.ID)
	if got.SIPUsername != "dave2" || got.SIPPassword != "secret" || got.CallerID != "+15559990000" {
		t.Fatalf("unexpected profile: %+v", got)
	}
}

func TestConnectWithoutProfile(t *testing.T) {
	s := newTestServer(t)
	u := s.addUser(t, "erin", model.RoleUser, false)

	code, _ := s.do(t, http.MethodPost, "/api/v1/phone/connect", s.token(t, u), nil)
	if code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", code)
	}
}

func TestPhoneCommands(t *testing.T) {
	s := newTestServer(t)
	u := s.addUser(t, "frank", model.RoleUser, true)
	tok := s.token(t, u)

	if code, _ := s.do(t, http.MethodPost, "/api/v1/phone/dial", tok, gin.H{"number": "100"}); code != http.StatusServiceUnavailable {
		t.Fatalf("dial before connect: expected 503, got %d", code)
	}

	if code, _ := s.do(t, http.MethodPost, "/api/v1/phone/connect", tok, nil); code != http.StatusOK {
		t.Fatalf("connect: %d", code)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !s.phones.GetPhone(u.ID).Snapshot().CanDial {
		if time.Now().After(deadline) {
			t.Fatalf("phone never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if code, _ := s.do(t, http.MethodPost, "/api/v1/phone/dial", tok, gin.H{"number": "  "}); code != http.StatusBadRequest {
		t.Fatalf("blank number: expected 400, got %d", code)
	}
	code, body := s.do(t, http.MethodPost, "/api/v1/phone/dial", tok, gin.H{"number": "+15551234567"})
	if code != http.StatusOK {
		t.Fatalf("dial: %d %v", code, body)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/phone/dial", tok, gin.H{"number": "200"}); code != http.StatusConflict {
		t.Fatalf("second dial: expected 409, got %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/phone/hold", tok, nil); code != http.StatusConflict {
		t.Fatalf("hold before active: expected 409, got %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/phone/answer", tok, nil); code != http.StatusConflict {
		t.Fatalf("answer outbound: expected 409, got %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/phone/transfer", tok, nil); code != http.StatusNotImplemented {
		t.Fatalf("transfer: expected 501, got %d", code)
	}

	code, body = s.do(t, http.MethodPost, "/api/v1/phone/hangup", tok, nil)
	if code != http.StatusOK {
		t.Fatalf("hangup: %d", code)
	}
	snap := body["snapshot"].(map[string]any)
	if snap["current_session"] != nil || snap["can_dial"] != true {
		t.Fatalf("phone should be free after hangup: %v", snap)
	}

	code, body = s.do(t, http.MethodGet, "/api/v1/phone", tok, nil)
	if code != http.StatusOK || body["display_state"] != "connected" {
		t.Fatalf("snapshot: %d %v", code, body)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/phone/disconnect", tok, nil); code != http.StatusOK {
		t.Fatalf("disconnect: %d", code)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{calling.ErrNotConnected, http.StatusServiceUnavailable},
		{calling.ErrPhoneNotFound, http.StatusServiceUnavailable},
		{calling.ErrSessionBusy, http.StatusConflict},
		{calling.ErrCallerIDMissing, http.StatusPreconditionFailed},
		{calling.ErrCredentialsMissing, http.StatusPreconditionFailed},
		{calling.ErrNoActiveCall, http.StatusConflict},
		{calling.ErrFlagPending, http.StatusConflict},
		{calling.ErrInvalidDigit, http.StatusBadRequest},
		{calling.ErrHoldRejected, http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestPhoneWebSocket(t *testing.T) {
	s := newTestServer(t)
	u := s.addUser(t, "gina", model.RoleUser, true)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/phone/ws?token=" + s.token(t, u)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first wsMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != "snapshot" || first.Snapshot == nil || first.Snapshot.DisplayState != "idle" {
		t.Fatalf("unexpected first frame: %+v", first)
	}

	if _, err := s.phones.Connect(context.Background(), u.ID, calling.Credentials{
		Identity: "gina-sip", Secret: "secret", CallerID: "+15550001111",
	}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for connected notice: %v", err)
		}
		if msg.Type == "notice" && msg.Notice.Title == "Connected" {
			return
		}
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	if code, _ := s.do(t, http.MethodGet, "/api/v1/phone/ws", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
