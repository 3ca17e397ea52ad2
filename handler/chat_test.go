package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/austentel/console/mcp"
	"github.com/austentel/console/model"
	"github.com/austentel/console/provider"
	"github.com/austentel/console/settings"
	"github.com/austentel/console/store"
)

func setupTest(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := model.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	st := store.New(db, logger, settings.Defaults())
	t.Cleanup(func() { st.Close() })
	if err := st.EnsureSettings(context.Background()); err != nil {
		t.Fatal(err)
	}

	srv := &Server{
		Store:   st,
		Bridge:  mcp.NewBridge(st, "http://127.0.0.1:1", logger),
		Checker: provider.NewChecker(5*time.Second, logger),
		Logger:  logger,
		Env:     Env{Name: "test", OpenAIKey: "sk-env"},
	}
	return srv, srv.Router()
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response failed: %v (%s)", err, w.Body.String())
		}
	}
	return w.Code, resp
}

func createChat(t *testing.T, r *gin.Engine, title string) string {
	t.Helper()
	code, resp := doJSON(t, r, "POST", "/api/chats", fmt.Sprintf(`{"title":%q,"model":"gpt-4"}`, title))
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	chat, ok := resp["chat"].(map[string]any)
	if !ok {
		t.Fatalf("expected chat in response, got %v", resp)
	}
	return chat["id"].(string)
}

func TestCreateChatAndAppend(t *testing.T) {
	_, r := setupTest(t)

	id := createChat(t, r, "Test")

	_, resp := doJSON(t, r, "POST", "/api/chats/"+id+"/messages", `{"role":"user","content":"Hello","model":"gpt-4"}`)
	msg, ok := resp["message"].(map[string]any)
	if !ok {
		t.Fatalf("expected message, got %v", resp)
	}
	if msg["tokens"].(float64) != 2 {
		t.Errorf("expected 2 tokens, got %v", msg["tokens"])
	}

	long := strings.Repeat("a", 400)
	_, resp = doJSON(t, r, "POST", "/api/chats/"+id+"/messages", fmt.Sprintf(`{"role":"assistant","content":%q}`, long))
	if resp["message"].(map[string]any)["tokens"].(float64) != 100 {
		t.Errorf("expected 100 tokens, got %v", resp["message"])
	}

	_, resp = doJSON(t, r, "GET", "/api/chats/"+id, "")
	chat := resp["chat"].(map[string]any)
	if chat["total_tokens"].(float64) != 102 {
		t.Errorf("expected total_tokens 102, got %v", chat["total_tokens"])
	}
	if chat["message_count"].(float64) != 2 {
		t.Errorf("expected message_count 2, got %v", chat["message_count"])
	}

	_, resp = doJSON(t, r, "GET", "/api/chats/"+id+"/messages", "")
	messages := resp["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].(map[string]any)["role"] != "user" || messages[1].(map[string]any)["role"] != "assistant" {
		t.Errorf("unexpected message order: %v", messages)
	}

	_, resp = doJSON(t, r, "GET", "/api/usage", "")
	if resp["totalTokens"].(float64) != 102 || resp["formatted"] != "102" {
		t.Errorf("unexpected usage: %v", resp)
	}
}

func TestCreateChatEmptyBody(t *testing.T) {
	_, r := setupTest(t)

	_, resp := doJSON(t, r, "POST", "/api/chats", "")
	chat, ok := resp["chat"].(map[string]any)
	if !ok {
		t.Fatalf("expected chat, got %v", resp)
	}
	if chat["title"] != "New Chat" || chat["model"] != "gpt-4" {
		t.Errorf("unexpected defaults: %v", chat)
	}
}

func TestAddMessageErrors(t *testing.T) {
	_, r := setupTest(t)
	id := createChat(t, r, "Errors")

	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{"invalid role", "/api/chats/" + id + "/messages", `{"role":"tool","content":"x"}`, "Invalid role"},
		{"missing chat", "/api/chats/missing/messages", `{"role":"user","content":"x"}`, "Chat not found"},
		{"bad json", "/api/chats/" + id + "/messages", `{"role":`, "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := doJSON(t, r, "POST", tt.path, tt.body)
			if code != http.StatusOK {
				t.Errorf("expected 200, got %d", code)
			}
			msg, _ := resp["error"].(string)
			if !strings.Contains(msg, tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, resp)
			}
		})
	}
}

func TestListChats(t *testing.T) {
	_, r := setupTest(t)

	first := createChat(t, r, "First")
	second := createChat(t, r, "Second")
	doJSON(t, r, "POST", "/api/chats/"+first+"/messages", `{"role":"user","content":"bump"}`)

	_, resp := doJSON(t, r, "GET", "/api/chats", "")
	chats := resp["chats"].([]any)
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}
	if chats[0].(map[string]any)["id"] != first || chats[1].(map[string]any)["id"] != second {
		t.Errorf("expected most recently active first, got %v", chats)
	}

	_, resp = doJSON(t, r, "GET", "/api/chats?limit=1", "")
	if len(resp["chats"].([]any)) != 1 {
		t.Errorf("expected limit to apply, got %v", resp["chats"])
	}
}

func TestSearchChats(t *testing.T) {
	srv, r := setupTest(t)
	ctx := context.Background()

	byContent := createChat(t, r, "Misc")
	doJSON(t, r, "POST", "/api/chats/"+byContent+"/messages", `{"role":"user","content":"check Valkey memory"}`)
	byTitle := createChat(t, r, "Valkey tuning")

	// 内容命中的会话更新，但标题命中排在前面
	if _, err := srv.Store.AddMessage(ctx, byContent, model.RoleAssistant, "Valkey is fine", 3); err != nil {
		t.Fatal(err)
	}

	_, resp := doJSON(t, r, "GET", "/api/chats/search?q=Valkey", "")
	chats := resp["chats"].([]any)
	if resp["total"].(float64) != 2 || len(chats) != 2 {
		t.Fatalf("expected 2 results, got %v", resp)
	}
	if chats[0].(map[string]any)["id"] != byTitle {
		t.Errorf("expected title match first, got %v", chats[0])
	}
	if chats[1].(map[string]any)["id"] != byContent {
		t.Errorf("expected content match second, got %v", chats[1])
	}

	for _, q := range []string{"", "V"} {
		_, resp := doJSON(t, r, "GET", "/api/chats/search?q="+q, "")
		if len(resp["chats"].([]any)) != 0 || resp["total"].(float64) != 0 {
			t.Errorf("expected empty result for %q, got %v", q, resp)
		}
	}
}

func TestSearchChatsLimit(t *testing.T) {
	_, r := setupTest(t)

	for i := 0; i < 25; i++ {
		createChat(t, r, fmt.Sprintf("deploy #%d", i))
	}

	_, resp := doJSON(t, r, "GET", "/api/chats/search?q=deploy", "")
	if resp["total"].(float64) != 25 {
		t.Errorf("expected total 25, got %v", resp["total"])
	}
	if len(resp["chats"].([]any)) != searchResultLimit {
		t.Errorf("expected %d chats, got %d", searchResultLimit, len(resp["chats"].([]any)))
	}
}

func TestUpdateAndDeleteChat(t *testing.T) {
	_, r := setupTest(t)
	id := createChat(t, r, "Old")
	doJSON(t, r, "POST", "/api/chats/"+id+"/messages", `{"role":"user","content":"hi there"}`)

	_, resp := doJSON(t, r, "PATCH", "/api/chats/"+id, `{"title":"Renamed"}`)
	if resp["chat"].(map[string]any)["title"] != "Renamed" {
		t.Errorf("expected renamed chat, got %v", resp)
	}

	_, resp = doJSON(t, r, "DELETE", "/api/chats/"+id, "")
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}

	_, resp = doJSON(t, r, "GET", "/api/chats/"+id, "")
	if resp["error"] != "Chat not found" {
		t.Errorf("expected not found, got %v", resp)
	}

	_, resp = doJSON(t, r, "GET", "/api/chats/"+id+"/messages", "")
	if len(resp["messages"].([]any)) != 0 {
		t.Errorf("expected messages removed, got %v", resp["messages"])
	}

	_, resp = doJSON(t, r, "DELETE", "/api/chats/"+id, "")
	if resp["error"] != "Chat not found" {
		t.Errorf("expected not found on second delete, got %v", resp)
	}
}

func TestStorageDown(t *testing.T) {
	srv, r := setupTest(t)
	srv.Store.Close()

	code, resp := doJSON(t, r, "GET", "/api/chats", "")
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if len(resp["chats"].([]any)) != 0 || resp["error"] == nil {
		t.Errorf("expected empty list with error, got %v", resp)
	}

	_, resp = doJSON(t, r, "POST", "/api/chats", `{"title":"x"}`)
	if resp["error"] != "Failed to create chat" {
		t.Errorf("expected create error, got %v", resp)
	}

	// 设置读取降级为默认值
	_, resp = doJSON(t, r, "GET", "/api/settings", "")
	if resp["settings"].(map[string]any)["personalization"].(map[string]any)["username"] != "User" {
		t.Errorf("expected default settings, got %v", resp)
	}

	_, resp = doJSON(t, r, "GET", "/api/health", "")
	if resp["status"] != "unhealthy" {
		t.Errorf("expected unhealthy, got %v", resp)
	}
}

func TestRecoveryReturns500(t *testing.T) {
	_, r := setupTest(t)
	r.GET("/api/boom", func(c *gin.Context) { panic("boom") })

	code, resp := doJSON(t, r, "GET", "/api/boom", "")
	if code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", code)
	}
	if resp["error"] == nil {
		t.Errorf("expected error body, got %v", resp)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, r := setupTest(t)

	req, _ := http.NewRequest(http.MethodOptions, "/api/chats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header")
	}
}
