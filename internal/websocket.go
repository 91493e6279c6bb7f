package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何實現多人遊戲的實時狀態同步？
//
// 核心挑戰：
//   1. 實時通信：房間與遊戲事件需要立即推送給所有玩家
//   2. 連接管理：連線即發代號，斷線通知會話層啟動寬限期
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 並發廣播：同時向多個客戶端發送消息，且廣播方可能正持有房間鎖
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ Hub 模式 - 集中管理所有連接與房間群組
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 異步發送（不阻塞持鎖的廣播方）

// Frame 客戶端請求幀
//
// Seq 由客戶端遞增，回執（ack）原樣帶回供客戶端對應請求。
type Frame struct {
	Type string         `json:"type"`
	Seq  int64          `json:"seq"`
	Data map[string]any `json:"data"`
}

// FrameHandler 入站幀的處理方（派發層實現）
type FrameHandler interface {
	// HandleFrame 處理一則客戶端請求
	HandleFrame(conn *Connection, frame Frame)

	// HandleDisconnect 連接斷開時通知（觸發重連寬限期）
	HandleDisconnect(handle string)
}

// Hub WebSocket 連接中心
//
// 兩層映射：
//   - connections: handle -> Connection（個人投遞：welcome、ack、私發確認）
//   - groups: 房間代碼 -> handle -> Connection（房間廣播）
//
// 並發安全：RWMutex，讀多寫少（廣播頻繁走讀鎖，進出房間走寫鎖）。
type Hub struct {
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	handler     FrameHandler
	connections map[string]*Connection
	groups      map[string]map[string]*Connection
	mu          sync.RWMutex
}

// Connection 一條 WebSocket 連接
//
// 連接建立時分配全新代號（handle），代號即玩家身份；
// 重連的身份銜接由會話層的 rejoin 流程處理，連接層不復用舊代號。
type Connection struct {
	handle    string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	lastPong  time.Time
	mu        sync.Mutex
	closeOnce sync.Once
}

// Handle 連線代號
func (c *Connection) Handle() string { return c.handle }

// Emit 僅對此連接發送事件
//
// 非阻塞：呼叫方可能正持有房間鎖，緩衝區滿時丟棄而非等待。
func (c *Connection) Emit(event string, data map[string]any) {
	c.enqueue(Frame{Type: event, Data: data})
}

// enqueue 序列化並排入發送佇列（非阻塞）
func (c *Connection) enqueue(frame Frame) {
	message, err := json.Marshal(frame)
	if err != nil {
		c.hub.logger.Error("序列化出站幀失敗", "error", err, "handle", c.handle)
		return
	}
	select {
	case c.send <- message:
	default:
		c.hub.logger.Warn("連接緩衝區滿，丟棄消息", "handle", c.handle, "type", frame.Type)
	}
}

// Ack 回應一則請求的處理結果
func (c *Connection) Ack(seq int64, data map[string]any) {
	c.enqueue(Frame{Type: "ack", Seq: seq, Data: data})
}

// NewHub 創建 WebSocket Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]*Connection),
		groups:      make(map[string]map[string]*Connection),
	}
}

// SetHandler 注入入站幀處理方
//
// Hub 與派發層互相引用，建構後注入打破環。
func (hub *Hub) SetHandler(h FrameHandler) {
	hub.handler = h
}

// ServeWS 處理 WebSocket 連接
//
// 升級成功即分配代號並下發 welcome 幀（代號 + 遊戲列表），
// 客戶端憑代號發起 room:* 請求。
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		handle:   newHandle(),
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      hub,
		lastPong: time.Now(),
	}

	hub.register(connection)

	go connection.writePump()
	go connection.readPump()

	connection.Emit("welcome", map[string]any{
		"id":    connection.handle,
		"games": ListGames(),
	})

	hub.logger.Info("WebSocket 連接建立", "handle", connection.handle)
}

// register 註冊連接
func (hub *Hub) register(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.connections[conn.handle] = conn
}

// unregister 取消註冊連接並退出所屬群組
func (hub *Hub) unregister(conn *Connection) {
	hub.mu.Lock()
	if actual, exists := hub.connections[conn.handle]; !exists || actual != conn {
		hub.mu.Unlock()
		return
	}
	delete(hub.connections, conn.handle)
	for code, group := range hub.groups {
		if group[conn.handle] == conn {
			delete(group, conn.handle)
			if len(group) == 0 {
				delete(hub.groups, code)
			}
		}
	}
	conn.closeOnce.Do(func() {
		close(conn.send)
	})
	hub.mu.Unlock()

	if hub.handler != nil {
		hub.handler.HandleDisconnect(conn.handle)
	}
}

// JoinGroup 將連接加入房間群組
func (hub *Hub) JoinGroup(code, handle string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	conn, exists := hub.connections[handle]
	if !exists {
		return
	}
	if hub.groups[code] == nil {
		hub.groups[code] = make(map[string]*Connection)
	}
	hub.groups[code][handle] = conn
}

// LeaveGroup 將連接移出房間群組
func (hub *Hub) LeaveGroup(code, handle string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if group, exists := hub.groups[code]; exists {
		delete(group, handle)
		if len(group) == 0 {
			delete(hub.groups, code)
		}
	}
}

// Broadcast 對房間群組廣播一則事件
//
// 非阻塞投遞：緩衝區滿的慢客戶端被跳過，不拖累整個房間。
// 呼叫方可能正持有房間鎖，這裡絕不能等待 I/O。
func (hub *Hub) Broadcast(code, event string, data map[string]any) {
	message, err := json.Marshal(Frame{Type: event, Data: data})
	if err != nil {
		hub.logger.Error("序列化廣播失敗", "error", err, "event", event)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, conn := range hub.groups[code] {
		select {
		case conn.send <- message:
		default:
			hub.logger.Warn("連接緩衝區滿，跳過廣播",
				"code", code,
				"handle", conn.handle,
				"event", event)
		}
	}
}

// ConnectionCount 當前連接總數
func (hub *Hub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Stop 關閉所有連接
func (hub *Hub) Stop() {
	hub.mu.Lock()
	for _, conn := range hub.connections {
		conn.closeOnce.Do(func() {
			close(conn.send)
		})
		conn.conn.Close()
	}
	hub.connections = make(map[string]*Connection)
	hub.groups = make(map[string]map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// readPump 讀取客戶端消息
//
// 心跳機制（讀取端）：60 秒內沒有任何消息（包括 Pong）即關閉連接，
// 配合 writePump 的 54 秒 Ping（留 6 秒余量給網絡傳輸與處理）。
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			c.hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤", "error", err, "handle", c.handle)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.hub.logger.Error("解析客戶端幀失敗", "error", err, "handle", c.handle)
			continue
		}
		if c.hub.handler != nil {
			c.hub.handler.HandleFrame(c, frame)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 心跳機制（發送端）：54 秒 Ping。
// 為什麼 54 秒？很多代理服務器默認 60 秒超時，54 秒確保在超時前發送，
// 留 6 秒余量（網絡延遲 + 處理時間）。
func (c *Connection) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，優雅關閉連接
				deadline := time.Now().Add(time.Second)
				if err := c.conn.SetWriteDeadline(deadline); err == nil {
					_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					c.hub.logger.Error("發送消息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
