package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhufengning/bililink/pkg/bus"
	"github.com/zhufengning/bililink/pkg/config"
	"github.com/zhufengning/bililink/pkg/logger"
	"github.com/zhufengning/bililink/pkg/pipeline"
	"github.com/zhufengning/bililink/pkg/utils"
)

const (
	oneBotDedupSize   = 1024
	oneBotSendTimeout = 8 * time.Second
)

type OneBotChannel struct {
	*BaseChannel
	config      config.OneBotConfig
	conn        *websocket.Conn
	ctx         context.Context
	cancel      context.CancelFunc
	dedup       map[string]struct{}
	dedupRing   []string
	dedupIdx    int
	mu          sync.Mutex
	writeMu     sync.Mutex
	apiWaitMu   sync.Mutex
	echoCounter int64
	apiWaiters  map[string]chan oneBotAPIResponse
}

type oneBotRawEvent struct {
	PostType      string          `json:"post_type"`
	MessageType   string          `json:"message_type"`
	SubType       string          `json:"sub_type"`
	MessageID     json.RawMessage `json:"message_id"`
	UserID        json.RawMessage `json:"user_id"`
	GroupID       json.RawMessage `json:"group_id"`
	RawMessage    string          `json:"raw_message"`
	Message       json.RawMessage `json:"message"`
	MetaEventType string          `json:"meta_event_type"`
	Echo          string          `json:"echo"`
	RetCode       json.RawMessage `json:"retcode"`
	Status        BotStatus       `json:"status"`
}

// BotStatus is either the status object of heartbeat events or the status
// string of API responses.
type BotStatus struct {
	Online bool `json:"online"`
	Good   bool `json:"good"`
	Text   string
}

func (s *BotStatus) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = BotStatus{}
		return nil
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = BotStatus{Text: strings.TrimSpace(text)}
		return nil
	}

	var obj struct {
		Online bool `json:"online"`
		Good   bool `json:"good"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = BotStatus{Online: obj.Online, Good: obj.Good}
	return nil
}

type oneBotEvent struct {
	MessageType string
	MessageID   string
	UserID      int64
	GroupID     int64
	Content     string
	// Card is the raw payload of a share card that opens the message.
	Card string
}

type oneBotAPIRequest struct {
	Action string      `json:"action"`
	Params interface{} `json:"params"`
	Echo   string      `json:"echo,omitempty"`
}

type oneBotOutSegment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

type oneBotSendPrivateMsgParams struct {
	UserID  int64              `json:"user_id"`
	Message []oneBotOutSegment `json:"message"`
}

type oneBotSendGroupMsgParams struct {
	GroupID int64              `json:"group_id"`
	Message []oneBotOutSegment `json:"message"`
}

type oneBotAPIResponse struct {
	Status  string          `json:"status"`
	RetCode json.RawMessage `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Echo    string          `json:"echo"`
}

func NewOneBotChannel(cfg config.OneBotConfig, messageBus *bus.MessageBus) (*OneBotChannel, error) {
	base := NewBaseChannel("onebot", messageBus, cfg.AllowFrom)

	return &OneBotChannel{
		BaseChannel: base,
		config:      cfg,
		dedup:       make(map[string]struct{}, oneBotDedupSize),
		dedupRing:   make([]string, oneBotDedupSize),
		apiWaiters:  make(map[string]chan oneBotAPIResponse),
	}, nil
}

func (c *OneBotChannel) Start(ctx context.Context) error {
	if c.config.WSUrl == "" {
		return fmt.Errorf("OneBot ws_url not configured")
	}

	logger.InfoCF("onebot", "Starting OneBot channel", map[string]interface{}{
		"ws_url": c.config.WSUrl,
	})

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		logger.WarnCF("onebot", "Initial connection failed, will retry in background", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		go c.listen()
	}

	if c.config.ReconnectInterval > 0 {
		go c.reconnectLoop()
	} else if !c.connected() {
		return fmt.Errorf("failed to connect to OneBot and reconnect is disabled")
	}

	c.setRunning(true)
	logger.InfoC("onebot", "OneBot channel started successfully")
	return nil
}

func (c *OneBotChannel) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *OneBotChannel) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := make(map[string][]string)
	if c.config.AccessToken != "" {
		header["Authorization"] = []string{"Bearer " + c.config.AccessToken}
	}

	conn, _, err := dialer.Dial(c.config.WSUrl, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	logger.InfoC("onebot", "WebSocket connected")
	return nil
}

func (c *OneBotChannel) reconnectLoop() {
	interval := time.Duration(c.config.ReconnectInterval) * time.Second
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(interval):
			if c.connected() {
				continue
			}
			logger.InfoC("onebot", "Attempting to reconnect...")
			if err := c.connect(); err != nil {
				logger.ErrorCF("onebot", "Reconnect failed", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			go c.listen()
		}
	}
}

func (c *OneBotChannel) Stop(ctx context.Context) error {
	logger.InfoC("onebot", "Stopping OneBot channel")
	c.setRunning(false)

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	return nil
}

func (c *OneBotChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("OneBot channel not running")
	}

	action, params, err := c.buildSendRequest(msg)
	if err != nil {
		return err
	}

	resp, err := c.callOneBotAPI(action, params, oneBotSendTimeout)
	if err != nil {
		logger.ErrorCF("onebot", "Failed to send message", map[string]interface{}{
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
		return err
	}
	if resp.Status == "failed" {
		return fmt.Errorf("OneBot %s failed: retcode=%s %s", action, string(resp.RetCode), firstNonEmpty(resp.Wording, resp.Message))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (c *OneBotChannel) nextEcho(prefix string) string {
	c.writeMu.Lock()
	c.echoCounter++
	echo := fmt.Sprintf("%s_%d", prefix, c.echoCounter)
	c.writeMu.Unlock()
	return echo
}

func (c *OneBotChannel) buildSendRequest(msg bus.OutboundMessage) (string, interface{}, error) {
	segments := c.buildMessageSegments(msg)
	if len(segments) == 0 {
		return "", nil, fmt.Errorf("empty OneBot message for %s", msg.ChatID)
	}

	chatID := msg.ChatID
	if strings.HasPrefix(chatID, "group:") {
		groupID, err := strconv.ParseInt(chatID[len("group:"):], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid group ID in chatID: %s", chatID)
		}
		return "send_group_msg", oneBotSendGroupMsgParams{GroupID: groupID, Message: segments}, nil
	}

	chatID = strings.TrimPrefix(chatID, "private:")
	userID, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", nil, fmt.Errorf("invalid chatID for OneBot: %s", msg.ChatID)
	}
	return "send_private_msg", oneBotSendPrivateMsgParams{UserID: userID, Message: segments}, nil
}

// buildMessageSegments renders ordered parts as OneBot array segments. A
// message without parts falls back to its plain content.
func (c *OneBotChannel) buildMessageSegments(msg bus.OutboundMessage) []oneBotOutSegment {
	var segments []oneBotOutSegment
	if msg.ReplyTo != "" {
		segments = append(segments, oneBotOutSegment{Type: "reply", Data: map[string]string{"id": msg.ReplyTo}})
	}

	if len(msg.Parts) == 0 {
		if msg.Content == "" {
			return nil
		}
		return append(segments, oneBotOutSegment{Type: "text", Data: map[string]string{"text": msg.Content}})
	}

	for _, part := range msg.Parts {
		if part.Value == "" {
			continue
		}
		switch part.Type {
		case bus.PartImage:
			segments = append(segments, oneBotOutSegment{Type: "image", Data: map[string]string{"file": oneBotImageFile(part.Value)}})
		default:
			segments = append(segments, oneBotOutSegment{Type: "text", Data: map[string]string{"text": part.Value}})
		}
	}
	return segments
}

func oneBotImageFile(value string) string {
	for _, scheme := range []string{"http://", "https://", "file://", "base64://"} {
		if strings.HasPrefix(value, scheme) {
			return value
		}
	}
	if abs, err := filepath.Abs(value); err == nil {
		value = abs
	}
	return "file://" + filepath.ToSlash(value)
}

func (c *OneBotChannel) callOneBotAPI(action string, params interface{}, timeout time.Duration) (*oneBotAPIResponse, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("OneBot WebSocket not connected")
	}

	if timeout <= 0 {
		timeout = oneBotSendTimeout
	}

	echo := c.nextEcho(action)
	waiter := make(chan oneBotAPIResponse, 1)

	c.apiWaitMu.Lock()
	c.apiWaiters[echo] = waiter
	c.apiWaitMu.Unlock()

	defer func() {
		c.apiWaitMu.Lock()
		delete(c.apiWaiters, echo)
		c.apiWaitMu.Unlock()
	}()

	payload, err := json.Marshal(oneBotAPIRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OneBot API request: %w", err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to write OneBot API request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var done <-chan struct{}
	if c.ctx != nil {
		done = c.ctx.Done()
	}

	select {
	case resp := <-waiter:
		return &resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("OneBot API request timeout: action=%s", action)
	case <-done:
		return nil, fmt.Errorf("OneBot channel stopped")
	}
}

func (c *OneBotChannel) listen() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			logger.WarnC("onebot", "WebSocket connection is nil, listener exiting")
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			logger.ErrorCF("onebot", "WebSocket read error", map[string]interface{}{
				"error": err.Error(),
			})
			c.mu.Lock()
			if c.conn == conn {
				c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}

		if c.config.Debug {
			logger.DebugCF("onebot", "Raw WebSocket message received", map[string]interface{}{
				"length":  len(message),
				"payload": string(message),
			})
		}

		var raw oneBotRawEvent
		if err := json.Unmarshal(message, &raw); err != nil {
			logger.WarnCF("onebot", "Failed to unmarshal raw event", map[string]interface{}{
				"error":   err.Error(),
				"payload": utils.Truncate(string(message), 200),
			})
			continue
		}

		if raw.Echo != "" {
			c.dispatchAPIResponse(raw, message)
			continue
		}

		go c.handleRawEvent(&raw)
	}
}

func (c *OneBotChannel) dispatchAPIResponse(raw oneBotRawEvent, payload []byte) {
	var resp oneBotAPIResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		resp = oneBotAPIResponse{Echo: raw.Echo}
	}
	if resp.Echo == "" {
		resp.Echo = raw.Echo
	}
	if resp.Status == "" {
		resp.Status = raw.Status.Text
	}

	c.apiWaitMu.Lock()
	waiter := c.apiWaiters[resp.Echo]
	c.apiWaitMu.Unlock()
	if waiter == nil {
		logger.DebugCF("onebot", "API response without waiter", map[string]interface{}{
			"echo":   resp.Echo,
			"status": resp.Status,
		})
		return
	}

	select {
	case waiter <- resp:
	default:
	}
}

func parseJSONInt64(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseInt(s, 10, 64)
	}
	return 0, fmt.Errorf("cannot parse as int64: %s", string(raw))
}

func parseJSONString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

type parseMessageResult struct {
	Text string
	Card string
}

var oneBotCQPattern = regexp.MustCompile(`\[CQ:([a-zA-Z0-9_]+)(?:,([^\]]*))?\]`)

// parseMessageContent accepts both the array and the CQ-string message forms.
// Only plain text and a share card in the first segment are kept.
func parseMessageContent(raw json.RawMessage, rawMessage string) parseMessageResult {
	if len(raw) == 0 {
		if strings.TrimSpace(rawMessage) != "" {
			return parseOneBotCQMessage(rawMessage)
		}
		return parseMessageResult{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseOneBotCQMessage(s)
	}

	var segments []struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(raw, &segments); err != nil {
		return parseMessageResult{Text: strings.TrimSpace(rawMessage)}
	}

	var text strings.Builder
	var result parseMessageResult
	for i, seg := range segments {
		switch seg.Type {
		case "text":
			if t, ok := seg.Data["text"].(string); ok {
				text.WriteString(t)
			}
		case "json":
			if i == 0 {
				result.Card = oneBotCardData(seg.Data["data"])
			}
		}
	}
	result.Text = strings.TrimSpace(text.String())
	return result
}

// oneBotCardData accepts the card payload either as a JSON string, which is
// what QQ clients send, or as an already decoded object.
func oneBotCardData(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func parseOneBotCQMessage(content string) parseMessageResult {
	var result parseMessageResult
	var text strings.Builder
	first := true
	cursor := 0

	appendText := func(part string) {
		if part == "" {
			return
		}
		text.WriteString(cqUnescape(part))
		first = false
	}

	for _, m := range oneBotCQPattern.FindAllStringSubmatchIndex(content, -1) {
		appendText(content[cursor:m[0]])

		if content[m[2]:m[3]] == "json" && first && m[4] >= 0 {
			result.Card = parseOneBotCQParams(content[m[4]:m[5]])["data"]
		}
		first = false
		cursor = m[1]
	}
	appendText(content[cursor:])

	result.Text = strings.TrimSpace(text.String())
	return result
}

func parseOneBotCQParams(params string) map[string]string {
	result := make(map[string]string)
	if params == "" {
		return result
	}

	for _, item := range strings.Split(params, ",") {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		result[key] = strings.TrimSpace(cqUnescape(value))
	}
	return result
}

var cqUnescaper = strings.NewReplacer("&#44;", ",", "&#91;", "[", "&#93;", "]", "&amp;", "&")

func cqUnescape(s string) string {
	return cqUnescaper.Replace(s)
}

func (c *OneBotChannel) handleRawEvent(raw *oneBotRawEvent) {
	switch raw.PostType {
	case "message":
		evt, err := c.normalizeMessageEvent(raw)
		if err != nil {
			logger.WarnCF("onebot", "Failed to normalize message event", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		c.handleMessage(evt)
	case "meta_event":
		c.handleMetaEvent(raw)
	default:
		logger.DebugCF("onebot", "Ignoring event", map[string]interface{}{
			"post_type": raw.PostType,
			"sub_type":  raw.SubType,
		})
	}
}

func (c *OneBotChannel) normalizeMessageEvent(raw *oneBotRawEvent) (*oneBotEvent, error) {
	userID, err := parseJSONInt64(raw.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w (raw: %s)", err, string(raw.UserID))
	}

	groupID, _ := parseJSONInt64(raw.GroupID)
	parsed := parseMessageContent(raw.Message, raw.RawMessage)

	return &oneBotEvent{
		MessageType: raw.MessageType,
		MessageID:   parseJSONString(raw.MessageID),
		UserID:      userID,
		GroupID:     groupID,
		Content:     parsed.Text,
		Card:        parsed.Card,
	}, nil
}

func (c *OneBotChannel) handleMetaEvent(raw *oneBotRawEvent) {
	switch raw.MetaEventType {
	case "lifecycle":
		logger.InfoCF("onebot", "Lifecycle event", map[string]interface{}{
			"sub_type": raw.SubType,
		})
	case "heartbeat":
		logger.DebugCF("onebot", "Heartbeat received", map[string]interface{}{
			"online": raw.Status.Online,
			"good":   raw.Status.Good,
		})
	default:
		logger.DebugCF("onebot", "Unknown meta_event_type", map[string]interface{}{
			"meta_event_type": raw.MetaEventType,
		})
	}
}

func (c *OneBotChannel) handleMessage(evt *oneBotEvent) {
	if c.isDuplicate(evt.MessageID) {
		logger.DebugCF("onebot", "Duplicate message, skipping", map[string]interface{}{
			"message_id": evt.MessageID,
		})
		return
	}

	content := strings.TrimSpace(evt.Content)
	card := evt.Card
	if content == "" && card == "" {
		return
	}

	senderID := strconv.FormatInt(evt.UserID, 10)
	if !c.IsAllowed(senderID) {
		logger.DebugCF("onebot", "Message ignored (sender not allowed)", map[string]interface{}{
			"sender":     senderID,
			"message_id": evt.MessageID,
		})
		return
	}

	metadata := map[string]string{
		pipeline.MetadataMessageID: evt.MessageID,
	}
	if card != "" {
		metadata[pipeline.MetadataCard] = card
	}

	var chatID string
	switch evt.MessageType {
	case "private":
		chatID = "private:" + senderID
	case "group":
		groupIDStr := strconv.FormatInt(evt.GroupID, 10)
		if !c.isGroupAllowed(groupIDStr) {
			logger.DebugCF("onebot", "Group message ignored (group not allowed)", map[string]interface{}{
				"sender": senderID,
				"group":  groupIDStr,
			})
			return
		}
		chatID = "group:" + groupIDStr
	default:
		logger.WarnCF("onebot", "Unknown message type, cannot route", map[string]interface{}{
			"type":       evt.MessageType,
			"message_id": evt.MessageID,
		})
		return
	}

	logger.DebugCF("onebot", "Forwarding message to bus", map[string]interface{}{
		"sender_id": senderID,
		"chat_id":   chatID,
		"has_card":  card != "",
		"content":   utils.Truncate(content, 100),
	})

	c.HandleMessage(senderID, chatID, content, metadata)
}

func (c *OneBotChannel) isDuplicate(messageID string) bool {
	if messageID == "" || messageID == "0" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.dedup[messageID]; exists {
		return true
	}

	if old := c.dedupRing[c.dedupIdx]; old != "" {
		delete(c.dedup, old)
	}
	c.dedupRing[c.dedupIdx] = messageID
	c.dedup[messageID] = struct{}{}
	c.dedupIdx = (c.dedupIdx + 1) % len(c.dedupRing)

	return false
}

func (c *OneBotChannel) isGroupAllowed(groupID string) bool {
	if len(c.config.AllowGroups) == 0 {
		return true
	}

	for _, allowed := range c.config.AllowGroups {
		normalized := strings.TrimSpace(strings.TrimPrefix(allowed, "group:"))
		if normalized == groupID {
			return true
		}
	}
	return false
}
