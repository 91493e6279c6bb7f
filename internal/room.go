package internal

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// 系統設計問題：
//   如何讓一個房間同時承受玩家操作、回合計時器與機器人決策的交錯寫入，
//   而不破壞進行中的遊戲狀態？
//
// 核心挑戰：
//   1. 狀態管理：房間有明確的狀態轉換（lobby → playing → results → lobby）
//   2. 並發控制：訊息回呼、計時器回呼、機器人回呼競爭同一房間
//   3. 身份不穩定：連線代號重連即換新，所有以代號為鍵的結構都要重映射
//   4. 加入順序：房主晉升依「最早加入的人類」，map 不保序，需要額外序列
//
// 設計方案：
//   ✅ RWMutex - 每房間一把鎖，回呼持鎖期間即為房間原子操作
//   ✅ Order 序列 - 與 Players map 並行維護加入順序
//   ✅ 複合操作 - 移除+晉升、還原+重映射各自在單次持鎖內完成
//   ✅ TimerGroup - 遊戲與機器人計時器分組，房間收尾時成組取消

// RoomState 房間狀態
//
// 狀態轉換規則：
//   - lobby → playing：房主開始遊戲（至少 2 人）
//   - playing → results：遊戲模組進入 finished 終態
//   - playing / results → lobby：房主返回大廳，或人類玩家歸零時強制結束
type RoomState string

const (
	StateLobby   RoomState = "lobby"   // 大廳，等待開始
	StatePlaying RoomState = "playing" // 遊戲進行中
	StateResults RoomState = "results" // 顯示最終排名
)

// MaxRoomPlayers 單房間人數上限（人類 + 機器人）
const MaxRoomPlayers = 20

// MinStartPlayers 開始遊戲的最低人數
const MinStartPlayers = 2

// MaxNameLength 顯示名稱長度上限
const MaxNameLength = 20

// Player 玩家資訊
//
// 由所屬房間獨佔持有，以當前連線代號為鍵。
// 代號在重連後會改變，但 Player 本身（分數、房主身份）會被保留並轉移。
type Player struct {
	Name         string    `json:"name"`
	Score        int       `json:"score"`
	IsHost       bool      `json:"isHost"`
	IsBot        bool      `json:"isBot"`
	Disconnected bool      `json:"disconnected"`
	Difficulty   string    `json:"difficulty,omitempty"`
	DiffEmoji    string    `json:"diffEmoji,omitempty"`
	JoinedAt     time.Time `json:"-"`
}

// Room 遊戲房間
type Room struct {
	Code      string    // 4 字元房間代碼
	Host      string    // 房主的連線代號
	State     RoomState // 房間狀態
	CreatedAt time.Time

	Game      Game      // 進行中的遊戲模組（大廳時為 nil）
	GameState GameState // 遊戲狀態，由 Game 獨佔持有

	Timers    *TimerGroup // 遊戲模組的計時器群組
	BotTimers *TimerGroup // 機器人層的計時器群組

	Mu      sync.RWMutex       // 讀寫鎖（並發控制）
	Players map[string]*Player // 連線代號 -> 玩家
	Order   []string           // 加入順序（房主晉升的依據）
}

// NewRoom 創建新房間，創建者即為房主與唯一玩家
func NewRoom(code, hostHandle, hostName string) *Room {
	r := &Room{
		Code:      code,
		Host:      hostHandle,
		State:     StateLobby,
		CreatedAt: time.Now(),
		Players:   make(map[string]*Player),
		Order:     []string{hostHandle},
	}
	r.Players[hostHandle] = &Player{
		Name:     hostName,
		IsHost:   true,
		JoinedAt: time.Now(),
	}
	return r
}

// AddPlayer 加入人類玩家
//
// 名稱重複檢查只針對「目前連線中」的玩家：
// 斷線中的同名玩家保留給 Rejoin 還原，不算佔用名稱。
func (r *Room) AddPlayer(handle, name string) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if len(r.Players) >= MaxRoomPlayers {
		return ErrRoomFull
	}
	for _, p := range r.Players {
		if strings.EqualFold(p.Name, name) && !p.Disconnected {
			return ErrNameTaken
		}
	}

	r.Players[handle] = &Player{Name: name, JoinedAt: time.Now()}
	r.Order = append(r.Order, handle)
	return nil
}

// AddBot 加入機器人玩家
func (r *Room) AddBot(handle string, bot *Player) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.State != StateLobby {
		return ErrLobbyOnly
	}
	if len(r.Players) >= MaxRoomPlayers {
		return ErrRoomFull
	}

	bot.IsBot = true
	bot.JoinedAt = time.Now()
	r.Players[handle] = bot
	r.Order = append(r.Order, handle)
	return nil
}

// RemoveBot 移除機器人
func (r *Room) RemoveBot(handle string) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	p, ok := r.Players[handle]
	if !ok || !p.IsBot {
		return ErrBotNotFound
	}
	r.deleteLocked(handle)
	return nil
}

// LeaveResult 玩家最終離開的結果
type LeaveResult struct {
	Removed *Player
	NewHost string // 晉升的新房主代號，無晉升時為空
	Closed  bool   // 房間應被銷毀（無人或無人類）
}

// RemoveAndPromote 移除玩家並處理房主晉升（單次持鎖的複合操作）
//
// 房主晉升規則：依加入順序選出最早的非機器人玩家。
// 找不到人類可晉升、或房間已空時，回報房間應銷毀。
func (r *Room) RemoveAndPromote(handle string) *LeaveResult {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	p, ok := r.Players[handle]
	if !ok {
		return nil
	}
	r.deleteLocked(handle)

	res := &LeaveResult{Removed: p}

	if r.Host == handle {
		promoted := false
		for _, h := range r.Order {
			if np := r.Players[h]; np != nil && !np.IsBot {
				r.Host = h
				np.IsHost = true
				res.NewHost = h
				promoted = true
				break
			}
		}
		if !promoted {
			res.Closed = true
			return res
		}
	}

	if len(r.Players) == 0 {
		res.Closed = true
	}
	return res
}

// FindDisconnected 尋找斷線中的同名玩家（大小寫不敏感）
func (r *Room) FindDisconnected(name string) (string, bool) {
	r.Mu.RLock()
	defer r.Mu.RUnlock()

	for h, p := range r.Players {
		if strings.EqualFold(p.Name, name) && p.Disconnected {
			return h, true
		}
	}
	return "", false
}

// RestorePlayer 將斷線玩家還原到新連線代號（單次持鎖的複合操作）
func (r *Room) RestorePlayer(oldHandle, newHandle string) *Player {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	p, ok := r.Players[oldHandle]
	if !ok {
		return nil
	}
	r.restoreLocked(oldHandle, newHandle, p)
	return p
}

// RestoreDisconnected 尋找斷線中的同名玩家並原地還原到新代號
//
// 尋找與還原必須在同一次持鎖內完成：若分成兩次取鎖，
// 寬限到期可能恰好在中間移除舊代號，讓呼叫端誤信還原成功。
// 找不到可還原的玩家時回傳 false，由呼叫端退回一般加入。
func (r *Room) RestoreDisconnected(name, newHandle string) (string, bool) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	for h, p := range r.Players {
		if strings.EqualFold(p.Name, name) && p.Disconnected {
			r.restoreLocked(h, newHandle, p)
			return h, true
		}
	}
	return "", false
}

// restoreLocked 還原的核心步驟（需持有鎖）
//
// 這是重連正確性的核心：
//   1. Players map 換鍵、Order 原位替換（保留加入順序）
//   2. 清除 disconnected 旗標
//   3. 房主引用若指向舊代號則轉移
//   4. 透過 GameState.Rebind 將遊戲內所有以舊代號為鍵的結構換到新代號
//
// 完成後舊代號不得殘留在任何存活結構中。
func (r *Room) restoreLocked(oldHandle, newHandle string, p *Player) {
	delete(r.Players, oldHandle)
	p.Disconnected = false
	r.Players[newHandle] = p

	for i, h := range r.Order {
		if h == oldHandle {
			r.Order[i] = newHandle
			break
		}
	}

	if r.Host == oldHandle {
		r.Host = newHandle
	}

	if r.GameState != nil {
		r.GameState.Rebind(oldHandle, newHandle)
	}
}

// MarkDisconnected 標記玩家斷線
//
// 機器人不會斷線，回傳 false 表示無需寬限期。
// 回傳值是持鎖期間複製的玩家快照：放鎖之後遊戲計時器
// 隨時可能改寫分數等欄位，呼叫端不得再觸碰活體指標。
func (r *Room) MarkDisconnected(handle string) (Player, bool) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	p, ok := r.Players[handle]
	if !ok || p.IsBot {
		return Player{}, false
	}
	p.Disconnected = true
	return *p, true
}

// BeginGame 進入遊戲狀態（重置分數、配發新的計時器群組）
//
// 上一局的計時器群組在換新之前先成組取消，不得殘留到新局。
// TimerGroup.Stop 只取自己的鎖且不等待回呼結束，持房間鎖呼叫安全。
func (r *Room) BeginGame(g Game) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.Timers != nil {
		r.Timers.Stop()
	}
	if r.BotTimers != nil {
		r.BotTimers.Stop()
	}

	for _, p := range r.Players {
		p.Score = 0
	}
	r.State = StatePlaying
	r.Game = g
	r.GameState = nil
	r.Timers = NewTimerGroup()
	r.BotTimers = NewTimerGroup()
}

// EndToLobby 結束遊戲並返回大廳
//
// 即使遊戲從未到達 finished 階段（房主提前退出）也必須安全：
// 先成組取消所有計時器，再呼叫模組的 Cleanup。
func (r *Room) EndToLobby() {
	r.Mu.Lock()
	game := r.Game
	timers := r.Timers
	botTimers := r.BotTimers
	r.Mu.Unlock()

	if botTimers != nil {
		botTimers.Stop()
	}
	if timers != nil {
		timers.Stop()
	}
	if game != nil {
		game.Cleanup(r)
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.State = StateLobby
	r.Game = nil
	r.GameState = nil
	for _, p := range r.Players {
		p.Score = 0
	}
}

// Destroy 銷毀房間前的收尾（取消所有計時器、清理遊戲模組）
func (r *Room) Destroy() {
	r.Mu.Lock()
	game := r.Game
	timers := r.Timers
	botTimers := r.BotTimers
	r.Mu.Unlock()

	if botTimers != nil {
		botTimers.Stop()
	}
	if timers != nil {
		timers.Stop()
	}
	if game != nil {
		game.Cleanup(r)
	}
}

// SerializePlayers 序列化玩家列表（依加入順序）
func (r *Room) SerializePlayers() []map[string]any {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return r.serializePlayersLocked()
}

// serializePlayersLocked 序列化玩家列表（需持有鎖）
func (r *Room) serializePlayersLocked() []map[string]any {
	list := make([]map[string]any, 0, len(r.Players))
	for _, h := range r.Order {
		p, ok := r.Players[h]
		if !ok {
			continue
		}
		list = append(list, map[string]any{
			"id":           h,
			"name":         p.Name,
			"score":        p.Score,
			"isHost":       p.IsHost,
			"isBot":        p.IsBot,
			"difficulty":   p.Difficulty,
			"diffEmoji":    p.DiffEmoji,
			"disconnected": p.Disconnected,
		})
	}
	return list
}

// sortedScoresLocked 最終排名（分數降序，需持有鎖）
func (r *Room) sortedScoresLocked() []map[string]any {
	scores := make([]map[string]any, 0, len(r.Players))
	for _, h := range r.Order {
		p, ok := r.Players[h]
		if !ok {
			continue
		}
		scores = append(scores, map[string]any{
			"id":    h,
			"name":  p.Name,
			"score": p.Score,
		})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i]["score"].(int) > scores[j]["score"].(int)
	})
	return scores
}

// ConnectedHumans 目前連線中的人類玩家數
func (r *Room) ConnectedHumans() int {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return r.connectedHumansLocked()
}

// connectedHumansLocked 連線中的人類玩家數（需持有鎖）
func (r *Room) connectedHumansLocked() int {
	n := 0
	for _, p := range r.Players {
		if !p.IsBot && !p.Disconnected {
			n++
		}
	}
	return n
}

// activePlayersLocked 非斷線玩家數，含機器人（需持有鎖）
//
// 「全員作答」類的提前結束判定用這個數字：斷線者不計，機器人要計。
func (r *Room) activePlayersLocked() int {
	n := 0
	for _, p := range r.Players {
		if !p.Disconnected {
			n++
		}
	}
	return n
}

// CurrentState 讀取房間狀態
func (r *Room) CurrentState() RoomState {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return r.State
}

// PlayerCount 玩家總數
func (r *Room) PlayerCount() int {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return len(r.Players)
}

// BotHandles 機器人代號列表（依加入順序）
func (r *Room) BotHandles() []string {
	r.Mu.RLock()
	defer r.Mu.RUnlock()

	handles := make([]string, 0)
	for _, h := range r.Order {
		if p, ok := r.Players[h]; ok && p.IsBot {
			handles = append(handles, h)
		}
	}
	return handles
}

// IsExpired 檢查房間是否過期（固定壽命，與活躍度無關）
func (r *Room) IsExpired(ttl time.Duration) bool {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return time.Since(r.CreatedAt) > ttl
}

// deleteLocked 刪除玩家並同步維護 Order（需持有鎖）
func (r *Room) deleteLocked(handle string) {
	delete(r.Players, handle)
	for i, h := range r.Order {
		if h == handle {
			r.Order = append(r.Order[:i], r.Order[i+1:]...)
			break
		}
	}
}
