package internal

import (
	"fmt"
	"log/slog"
	"time"
)

// 系統設計問題：
//   一條 WebSocket 上混著房間操作與遊戲輸入，如何路由且保持對遊戲無知？
//
// 核心挑戰：
//   1. 請求/回執配對：客戶端憑 seq 對應自己發出的請求
//   2. 職責分離：派發層只認 room:* 與 game:event 兩類，
//      遊戲輸入原封轉給遊戲模組，不解析內容
//   3. 權限檢查：加機器人、開始遊戲、返回大廳都是房主專屬操作
//
// 設計方案：
//   ✅ ack 信封 - {type:"ack", seq, data}，錯誤與成功走同一條回執通道
//   ✅ 錯誤碼 - 穩定的英文錯誤碼給客戶端分支，訊息給人看
//   ✅ 延遲開局 - game:start 廣播後 500ms 才 Init，讓客戶端先完成畫面切換

// gameStartDelay 開局廣播到遊戲初始化之間的緩衝
const gameStartDelay = 500 * time.Millisecond

// Dispatcher 請求派發層
//
// 銜接連接層（Hub）與會話層（Registry），自身不持有任何狀態。
type Dispatcher struct {
	registry *Registry
	hub      *Hub
	logger   *slog.Logger
}

// NewDispatcher 創建派發層
func NewDispatcher(registry *Registry, hub *Hub, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		hub:      hub,
		logger:   logger,
	}
}

// HandleFrame 路由一則客戶端請求
func (d *Dispatcher) HandleFrame(conn *Connection, frame Frame) {
	var (
		payload map[string]any
		err     error
	)

	switch frame.Type {
	case "room:create":
		payload, err = d.createRoom(conn, frame.Data)
	case "room:join":
		payload, err = d.joinRoom(conn, frame.Data)
	case "room:rejoin":
		payload, err = d.rejoinRoom(conn, frame.Data)
	case "room:addBot":
		payload, err = d.addBot(conn)
	case "room:removeBot":
		payload, err = d.removeBot(conn, frame.Data)
	case "room:startGame":
		payload, err = d.startGame(conn, frame.Data)
	case "room:backToLobby":
		payload, err = d.backToLobby(conn)
	case "room:leave":
		payload, err = d.leaveRoom(conn)
	case "game:event":
		// 遊戲輸入不回執：高頻、冪等，丟失由下一次狀態廣播補償
		d.gameEvent(conn, frame.Data)
		return
	default:
		d.logger.Debug("未知請求類型", "type", frame.Type, "handle", conn.Handle())
		return
	}

	if err != nil {
		conn.Ack(frame.Seq, errorPayload(err))
		return
	}
	conn.Ack(frame.Seq, payload)
}

// HandleDisconnect 連接斷開的入口
//
// 在寬限期內只廣播「暫離」；真正的移除與廣播由寬限到期回呼處理。
func (d *Dispatcher) HandleDisconnect(handle string) {
	room, graceStarted := d.registry.Disconnect(handle)
	if room == nil || !graceStarted {
		return
	}

	room.Mu.RLock()
	var name string
	if p := room.Players[handle]; p != nil {
		name = p.Name
	}
	players := room.serializePlayersLocked()
	room.Mu.RUnlock()

	d.hub.Broadcast(room.Code, "room:playerAway", map[string]any{
		"players":    players,
		"playerName": name,
	})
}

func (d *Dispatcher) createRoom(conn *Connection, data map[string]any) (map[string]any, error) {
	name, _ := data["name"].(string)
	room, err := d.registry.Create(conn.Handle(), name)
	if err != nil {
		return nil, err
	}

	d.hub.JoinGroup(room.Code, conn.Handle())
	return map[string]any{
		"code":    room.Code,
		"players": room.SerializePlayers(),
	}, nil
}

func (d *Dispatcher) joinRoom(conn *Connection, data map[string]any) (map[string]any, error) {
	name, _ := data["name"].(string)
	code, _ := data["code"].(string)

	room, err := d.registry.Join(conn.Handle(), code, name)
	if err != nil {
		return nil, err
	}

	d.hub.JoinGroup(room.Code, conn.Handle())
	players := room.SerializePlayers()

	d.hub.Broadcast(room.Code, "room:playerJoined", map[string]any{
		"players":   players,
		"newPlayer": trimmedName(name),
	})

	return map[string]any{
		"code":    room.Code,
		"players": players,
	}, nil
}

func (d *Dispatcher) rejoinRoom(conn *Connection, data map[string]any) (map[string]any, error) {
	name, _ := data["name"].(string)
	code, _ := data["code"].(string)

	room, restored, err := d.registry.Rejoin(conn.Handle(), code, name)
	if err != nil {
		return nil, err
	}

	d.hub.JoinGroup(room.Code, conn.Handle())

	room.Mu.RLock()
	payload := map[string]any{
		"code":      room.Code,
		"players":   room.serializePlayersLocked(),
		"rejoined":  restored,
		"isHost":    room.Host == conn.Handle(),
		"roomState": string(room.State),
	}
	// 遊戲進行中：附上遊戲資訊讓客戶端直接切回遊戲畫面
	if room.State == StatePlaying && room.Game != nil {
		info := room.Game.Info()
		payload["gameId"] = info.ID
		payload["gameName"] = info.Name
	}
	players := room.serializePlayersLocked()
	room.Mu.RUnlock()

	if restored {
		d.hub.Broadcast(room.Code, "room:playerRejoined", map[string]any{
			"players":    players,
			"playerName": trimmedName(name),
		})
	} else {
		// 退回一般加入時沿用 joinRoom 的事件形狀
		d.hub.Broadcast(room.Code, "room:playerJoined", map[string]any{
			"players":   players,
			"newPlayer": trimmedName(name),
		})
	}

	return payload, nil
}

func (d *Dispatcher) addBot(conn *Connection) (map[string]any, error) {
	room, err := d.hostRoom(conn)
	if err != nil {
		return nil, err
	}

	handle, bot := NewBot(room)
	if err := room.AddBot(handle, bot); err != nil {
		return nil, err
	}
	d.registry.IndexBot(handle, room.Code)

	d.logger.Info("機器人加入",
		"code", room.Code,
		"handle", handle,
		"name", bot.Name,
		"difficulty", bot.Difficulty)

	d.hub.Broadcast(room.Code, "room:playerJoined", map[string]any{
		"players":   room.SerializePlayers(),
		"newPlayer": fmt.Sprintf("%s %s", bot.DiffEmoji, bot.Name),
	})
	return map[string]any{"ok": true}, nil
}

func (d *Dispatcher) removeBot(conn *Connection, data map[string]any) (map[string]any, error) {
	room, err := d.hostRoom(conn)
	if err != nil {
		return nil, err
	}

	botID, _ := data["botId"].(string)
	if err := room.RemoveBot(botID); err != nil {
		return nil, err
	}
	d.registry.DropHandle(botID)

	d.hub.Broadcast(room.Code, "room:playerLeft", map[string]any{
		"players": room.SerializePlayers(),
	})
	return map[string]any{"ok": true}, nil
}

func (d *Dispatcher) startGame(conn *Connection, data map[string]any) (map[string]any, error) {
	room, err := d.hostRoom(conn)
	if err != nil {
		return nil, err
	}
	if room.PlayerCount() < MinStartPlayers {
		return nil, ErrNeedPlayers
	}

	gameID, _ := data["gameId"].(string)
	game, ok := LookupGame(gameID)
	if !ok {
		return nil, ErrUnknownGame
	}

	room.BeginGame(game)
	info := game.Info()

	d.logger.Info("遊戲開始",
		"code", room.Code,
		"game", info.ID,
		"players", room.PlayerCount())

	d.hub.Broadcast(room.Code, "game:start", map[string]any{
		"gameId":   info.ID,
		"gameName": info.Name,
		"players":  room.SerializePlayers(),
	})

	// 延遲初始化：給客戶端切換畫面的時間，再開始第一回合與機器人決策
	room.Mu.RLock()
	timers := room.Timers
	room.Mu.RUnlock()
	timers.After(gameStartDelay, func() {
		if room.CurrentState() != StatePlaying {
			return
		}
		game.Init(room, d.hub)
		StartBots(room, d.hub)
	})

	return map[string]any{"ok": true}, nil
}

func (d *Dispatcher) backToLobby(conn *Connection) (map[string]any, error) {
	room, err := d.hostRoom(conn)
	if err != nil {
		return nil, err
	}

	room.EndToLobby()
	d.hub.Broadcast(room.Code, "room:lobby", map[string]any{
		"players": room.SerializePlayers(),
	})
	return map[string]any{"ok": true}, nil
}

func (d *Dispatcher) leaveRoom(conn *Connection) (map[string]any, error) {
	room, res := d.registry.Leave(conn.Handle())
	if room == nil {
		return nil, ErrNotInRoom
	}
	d.hub.LeaveGroup(room.Code, conn.Handle())

	if res != nil && !res.Closed {
		d.hub.Broadcast(room.Code, "room:playerLeft", map[string]any{
			"players": room.SerializePlayers(),
		})
	}
	return map[string]any{"ok": true}, nil
}

// gameEvent 遊戲輸入原封轉給遊戲模組
func (d *Dispatcher) gameEvent(conn *Connection, data map[string]any) {
	room := d.registry.RoomByHandle(conn.Handle())
	if room == nil {
		return
	}

	room.Mu.RLock()
	game := room.Game
	playing := room.State == StatePlaying
	room.Mu.RUnlock()
	if !playing || game == nil {
		return
	}

	event, _ := data["event"].(string)
	payload, _ := data["data"].(map[string]any)
	game.OnEvent(room, conn, event, payload, d.hub)
}

// hostRoom 查找請求者所在房間並驗證房主身份
func (d *Dispatcher) hostRoom(conn *Connection) (*Room, error) {
	room := d.registry.RoomByHandle(conn.Handle())
	if room == nil {
		return nil, ErrNotInRoom
	}

	room.Mu.RLock()
	isHost := room.Host == conn.Handle()
	room.Mu.RUnlock()
	if !isHost {
		return nil, ErrNotHost
	}
	return room, nil
}

// trimmedName 廣播用的顯示名稱（與驗證邏輯同樣修剪）
func trimmedName(name string) string {
	trimmed, err := validName(name)
	if err != nil {
		return name
	}
	return trimmed
}
