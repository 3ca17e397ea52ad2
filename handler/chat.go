package handler

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/austentel/console/model"
	"github.com/austentel/console/store"
	"github.com/austentel/console/tokens"
)

// 搜索结果最多返回条数
const searchResultLimit = 20

type createChatRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

type updateChatRequest struct {
	Title string `json:"title"`
}

type addMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Model   string `json:"model"`
}

// bindOptionalJSON 空请求体视为零值
func bindOptionalJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) ListChats(c *gin.Context) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = store.DefaultListLimit
	}

	chats, err := s.Store.ListChats(c.Request.Context(), limit)
	if err != nil {
		s.Logger.Error("failed to fetch chats", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"chats": []model.Chat{}, "error": "Failed to fetch chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (s *Server) CreateChat(c *gin.Context) {
	var req createChatRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		fail(c, "Invalid request body")
		return
	}

	chat, err := s.Store.CreateChat(c.Request.Context(), req.Title, req.Model)
	if err != nil {
		s.Logger.Error("failed to create chat", zap.Error(err))
		fail(c, "Failed to create chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// SearchChats 标题命中（不区分大小写）优先，其次按最近活跃排序
func (s *Server) SearchChats(c *gin.Context) {
	query := c.Query("q")

	chats, err := s.Store.SearchChats(c.Request.Context(), query)
	if err != nil {
		s.Logger.Error("failed to search chats", zap.String("query", query), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"chats": []model.Chat{}, "total": 0, "error": "Failed to search chats"})
		return
	}

	needle := strings.ToLower(query)
	sort.SliceStable(chats, func(i, j int) bool {
		ti := strings.Contains(strings.ToLower(chats[i].Title), needle)
		tj := strings.Contains(strings.ToLower(chats[j].Title), needle)
		if ti != tj {
			return ti
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})

	total := len(chats)
	if total > searchResultLimit {
		chats = chats[:searchResultLimit]
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats, "total": total})
}

func (s *Server) GetChat(c *gin.Context) {
	chat, err := s.Store.GetChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.chatError(c, err, "Failed to fetch chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (s *Server) UpdateChat(c *gin.Context) {
	var req updateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, "Invalid request body")
		return
	}

	chat, err := s.Store.UpdateChatTitle(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		s.chatError(c, err, "Failed to update chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (s *Server) DeleteChat(c *gin.Context) {
	if err := s.Store.DeleteChat(c.Request.Context(), c.Param("id")); err != nil {
		s.chatError(c, err, "Failed to delete chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) ListMessages(c *gin.Context) {
	messages, err := s.Store.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.Logger.Error("failed to fetch messages", zap.String("chat_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"messages": []model.Message{}, "error": "Failed to fetch messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// AddMessage token 数在服务端按模型估算
func (s *Server) AddMessage(c *gin.Context) {
	var req addMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, "Invalid request body")
		return
	}

	modelName := req.Model
	if modelName == "" {
		modelName = tokens.DefaultModel
	}
	count := tokens.EstimateTokens(req.Content, modelName)

	msg, err := s.Store.AddMessage(c.Request.Context(), c.Param("id"), req.Role, req.Content, count)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRole) {
			fail(c, "Invalid role: must be one of user, assistant, system")
			return
		}
		s.chatError(c, err, "Failed to add message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (s *Server) chatError(c *gin.Context, err error, msg string) {
	if errors.Is(err, store.ErrChatNotFound) {
		fail(c, "Chat not found")
		return
	}
	s.Logger.Error(strings.ToLower(msg), zap.String("chat_id", c.Param("id")), zap.Error(err))
	fail(c, msg)
}
