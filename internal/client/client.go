package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// access token 有效期 15 分钟，主动刷新必须赶在它过期之前。
	accessTokenLifetime    = 15 * time.Minute
	DefaultRefreshInterval = 14 * time.Minute
)

var ErrUnauthorized = errors.New("unauthorized")

// Client 是聊天服务的 API 客户端。token 都在 HTTP-only cookie 里，
// 由 cookie jar 自动携带；收到 401 时做一次透明刷新加一次重试，
// 登录后还会按固定间隔主动刷新，正常情况下根本碰不到 401。
type Client struct {
	base         string
	hc           *http.Client
	refreshEvery time.Duration

	mu       sync.Mutex
	loop     *loopHandle
	loggedIn bool
}

// loopHandle 标识一代刷新循环，旧循环失败退出时不会误伤替换它的新循环。
type loopHandle struct {
	cancel context.CancelFunc
}

type Option func(*Client)

// WithRefreshInterval 覆盖主动刷新间隔，测试用短间隔。
// 间隔必须小于 access token 的有效期，否则保持默认值。
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 && d < accessTokenLifetime {
			c.refreshEvery = d
		}
	}
}

// WithHTTPClient 覆盖底层 http.Client（会自动补上 cookie jar）。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:         strings.TrimRight(baseURL, "/"),
		hc:           &http.Client{Timeout: 30 * time.Second},
		refreshEvery: DefaultRefreshInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hc.Jar == nil {
		c.hc.Jar = jar
	}
	return c, nil
}

type User struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Avatar    string `json:"avatar"`
}

type Message struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chatId"`
	SenderID   uint      `json:"senderId"`
	ReceiverID uint      `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event 是 SSE 流上的一帧：connected 确认或 new-message 推送。
type Event struct {
	Type    string   `json:"type"`
	UserID  uint     `json:"userId,omitempty"`
	Message *Message `json:"message,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) url(path string) string { return c.base + path }

// post 不带 401 重试，登录、刷新、登出这些认证端点自己就是重试的对象。
func (c *Client) post(ctx context.Context, path string, body, out interface{}) (int, error) {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var ae apiError
		json.NewDecoder(resp.Body).Decode(&ae)
		return resp.StatusCode, fmt.Errorf("%s: %s", resp.Status, ae.Error)
	}
	if out != nil {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

// do 发送业务请求。收到 401 时恰好做一次刷新和一次重试，
// 重试后仍是 401 就向调用方返回最终失败，绝不无限循环。
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	attempt := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.url(path), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.hc.Do(req)
	}

	resp, err := attempt()
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if err := c.Refresh(ctx); err != nil {
			return ErrUnauthorized
		}
		resp, err = attempt()
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		var ae apiError
		json.NewDecoder(resp.Body).Decode(&ae)
		return fmt.Errorf("%s: %s", resp.Status, ae.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Register 注册新用户。
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	_, err := c.post(ctx, "/api/register", map[string]string{
		"username": username, "email": email, "password": password,
	}, nil)
	return err
}

// Login 密码登录，成功后启动主动刷新循环。
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var resp struct {
		User User `json:"user"`
	}
	if _, err := c.post(ctx, "/api/login", map[string]string{
		"email": email, "password": password,
	}, &resp); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	c.StartRefreshLoop()
	return &resp.User, nil
}

// Refresh 调一次 token 轮换。服务端会把旧的 refresh token id 作废。
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.post(ctx, "/api/refresh", nil, nil)
	return err
}

// Logout 停掉刷新循环并撤销服务端的 refresh token。
func (c *Client) Logout(ctx context.Context) error {
	c.stopRefreshLoop()
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
	_, err := c.post(ctx, "/api/logout", nil, nil)
	return err
}

// LoggedIn 返回客户端当前是否认为自己在会话中。
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

// StartRefreshLoop 启动主动刷新循环。幂等：已在跑的循环会被替换而不是叠加。
// 循环里任何一次刷新失败都视为会话结束，循环自我取消。
func (c *Client) StartRefreshLoop() {
	c.mu.Lock()
	if c.loop != nil {
		c.loop.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &loopHandle{cancel: cancel}
	c.loop = h
	interval := c.refreshEvery
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rctx, rcancel := context.WithTimeout(ctx, 10*time.Second)
				err := c.Refresh(rctx)
				rcancel()
				if err != nil {
					log.Warn().Err(err).Msg("proactive refresh failed, ending session")
					c.mu.Lock()
					c.loggedIn = false
					if c.loop == h {
						c.loop = nil
					}
					c.mu.Unlock()
					cancel()
					return
				}
			}
		}
	}()
}

func (c *Client) stopRefreshLoop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loop != nil {
		c.loop.cancel()
		c.loop = nil
	}
}

// Profile 返回当前用户资料，透明处理过期的 access token。
func (c *Client) Profile(ctx context.Context) (*User, error) {
	var resp struct {
		Data User `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/profile", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// SendMessage 发送一条消息。
func (c *Client) SendMessage(ctx context.Context, chatID string, receiverID uint, content string) (*Message, error) {
	var resp struct {
		Data Message `json:"data"`
	}
	err := c.do(ctx, http.MethodPost, "/api/messages/send", map[string]interface{}{
		"chatId": chatID, "receiverId": receiverID, "content": content,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// History 拉取会话历史。
func (c *Client) History(ctx context.Context, chatID string) ([]Message, error) {
	var resp struct {
		Data []Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+chatID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Events 打开 SSE 流并把解析出的事件发到返回的通道上。
// ctx 取消或服务端断开时通道关闭。
func (c *Client) Events(ctx context.Context, userID uint) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/chat/events?userId=%d", c.base, userID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// SSE 是长连接，不能用带超时的 client
	hc := &http.Client{Jar: c.hc.Jar}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream: %s", resp.Status)
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(line[len("data: "):]), &ev); err != nil {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
