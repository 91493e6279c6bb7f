package internal

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// 系統設計問題：
//   玩家的連線隨時可能中斷（手機切換 App、電梯裡斷網），
//   如何讓他在短時間內回來時，拿回原本的身份、分數與回合進度？
//
// 核心挑戰：
//   1. 身份不穩定：連線代號每次重連都換新，無法當作持久身份
//   2. 寬限期競態：寬限計時器到期與玩家重連可能同時發生
//   3. 房主孤兒：房主斷線後房間不能沒有主人，也不能交給機器人
//   4. 資源回收：空房間與過期房間必須自動銷毀
//
// 設計方案：
//   ✅ 寬限期（30 秒）- 斷線先標記不移除，同名重連即還原
//   ✅ FinalizeLeave 冪等 - 已重連或已移除時為無操作，競態安全
//   ✅ 反向索引 - 連線代號 -> 房間代碼，O(1) 定位
//   ✅ 定期掃描 - 每分鐘銷毀超過 2 小時的房間

// Config 會話管理設定
type Config struct {
	GracePeriod time.Duration // 斷線後的重連寬限期
	RoomTTL     time.Duration // 房間最長壽命
}

// DefaultConfig 預設設定
func DefaultConfig() Config {
	return Config{
		GracePeriod: 30 * time.Second,
		RoomTTL:     2 * time.Hour,
	}
}

// graceEntry 寬限期記錄
//
// 只存在於斷線到（重連 | 寬限到期）之間，不屬於任何房間。
type graceEntry struct {
	timer    *time.Timer
	code     string
	snapshot Player // 斷線當下的玩家快照（除錯與日誌用）
}

// Registry 房間註冊表與會話生命週期管理器
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]*Room       // 房間代碼 -> 房間
	handleIndex map[string]string      // 連線代號 -> 房間代碼（反向索引）
	grace       map[string]*graceEntry // 斷線代號 -> 寬限記錄

	notifier Broadcaster // 寬限到期等非同步事件的廣播出口
	logger   *slog.Logger
	cfg      Config

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRegistry 創建註冊表並啟動過期房間掃描
func NewRegistry(logger *slog.Logger, cfg Config) *Registry {
	reg := &Registry{
		rooms:       make(map[string]*Room),
		handleIndex: make(map[string]string),
		grace:       make(map[string]*graceEntry),
		logger:      logger,
		cfg:         cfg,
		stopCh:      make(chan struct{}),
	}

	reg.wg.Add(1)
	go reg.reapLoop()

	return reg
}

// SetNotifier 設定廣播出口
//
// Hub 與 Registry 互相依賴，建構後再注入以打破循環。
func (reg *Registry) SetNotifier(n Broadcaster) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.notifier = n
}

// Create 創建房間，創建者為房主
func (reg *Registry) Create(handle, name string) (*Room, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	// 拒絕取樣：與現存房間碰撞就重試
	code := randomCode()
	for _, exists := reg.rooms[code]; exists; _, exists = reg.rooms[code] {
		code = randomCode()
	}

	room := NewRoom(code, handle, name)
	reg.rooms[code] = room
	reg.handleIndex[handle] = code

	reg.logger.Info("房間已創建",
		"code", code,
		"host", handle,
		"name", name)

	return room, nil
}

// Join 加入房間
func (reg *Registry) Join(handle, code, name string) (*Room, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrInvalidCode
	}

	room := reg.RoomByCode(code)
	if room == nil {
		return nil, ErrRoomNotFound
	}

	if err := room.AddPlayer(handle, name); err != nil {
		return nil, err
	}

	reg.mu.Lock()
	reg.handleIndex[handle] = code
	reg.mu.Unlock()

	reg.logger.Info("玩家加入房間",
		"code", code,
		"handle", handle,
		"name", name)

	return room, nil
}

// Rejoin 重連房間
//
// 找到斷線中的同名玩家時走還原路徑：取消寬限計時器、
// 將玩家連同遊戲內所有鍵值引用換到新代號。
// 找不到時退回一般加入，但遊戲進行中不允許注入新玩家。
func (reg *Registry) Rejoin(handle, code, name string) (*Room, bool, error) {
	trimmed, err := validName(name)
	if err != nil {
		return nil, false, err
	}
	code = normalizeCode(code)
	if code == "" {
		return nil, false, ErrInvalidCode
	}

	room := reg.RoomByCode(code)
	if room == nil {
		return nil, false, ErrRoomNotFound
	}

	// 尋找與還原在房間的單次持鎖內完成：寬限到期若已搶先移除舊代號，
	// 這裡就拿不到還原結果，走下面的一般加入路徑。
	oldHandle, restored := room.RestoreDisconnected(trimmed, handle)
	if restored {
		reg.cancelGrace(oldHandle)

		reg.mu.Lock()
		delete(reg.handleIndex, oldHandle)
		reg.handleIndex[handle] = code
		reg.mu.Unlock()

		reg.logger.Info("玩家重連還原",
			"code", code,
			"old_handle", oldHandle,
			"new_handle", handle,
			"name", trimmed)

		return room, true, nil
	}

	// 沒有可還原的身份：遊戲進行中無法以新玩家身份加入
	if room.CurrentState() == StatePlaying {
		return nil, false, ErrGameInProgress
	}

	joined, err := reg.Join(handle, code, trimmed)
	if err != nil {
		return nil, false, err
	}
	return joined, false, nil
}

// Disconnect 處理連線中斷
//
// 機器人不斷線；人類玩家標記為斷線並啟動寬限計時器。
// 回傳是否啟動了寬限期，供派發層決定要不要廣播「暫離」。
func (reg *Registry) Disconnect(handle string) (*Room, bool) {
	room := reg.RoomByHandle(handle)
	if room == nil {
		return nil, false
	}

	p, graceStarted := room.MarkDisconnected(handle)
	if !graceStarted {
		return room, false
	}

	code := room.Code
	entry := &graceEntry{
		code:     code,
		snapshot: p,
	}
	entry.timer = time.AfterFunc(reg.cfg.GracePeriod, func() {
		reg.onGraceExpired(handle, code)
	})

	reg.mu.Lock()
	reg.grace[handle] = entry
	reg.mu.Unlock()

	reg.logger.Info("玩家斷線，寬限期開始",
		"code", code,
		"handle", handle,
		"name", p.Name,
		"grace", reg.cfg.GracePeriod)

	return room, true
}

// FinalizeLeave 寬限到期後的最終移除（冪等）
//
// 玩家已重連（代號不存在或旗標已清除）或已被移除時為無操作。
func (reg *Registry) FinalizeLeave(handle, code string) *LeaveResult {
	room := reg.RoomByCode(code)
	if room == nil {
		return nil
	}

	room.Mu.RLock()
	p, ok := room.Players[handle]
	stillGone := ok && p.Disconnected
	room.Mu.RUnlock()
	if !stillGone {
		return nil
	}

	res := room.RemoveAndPromote(handle)
	if res == nil {
		return nil
	}

	reg.mu.Lock()
	delete(reg.handleIndex, handle)
	reg.mu.Unlock()

	reg.logger.Info("寬限到期，玩家移除",
		"code", code,
		"handle", handle,
		"name", res.Removed.Name,
		"new_host", res.NewHost,
		"closed", res.Closed)

	if res.Closed {
		reg.destroyRoom(code, "no_humans")
	}
	return res
}

// Leave 顯式離開（立即，繞過寬限期）
func (reg *Registry) Leave(handle string) (*Room, *LeaveResult) {
	reg.cancelGrace(handle)

	room := reg.RoomByHandle(handle)
	if room == nil {
		return nil, nil
	}

	res := room.RemoveAndPromote(handle)

	reg.mu.Lock()
	delete(reg.handleIndex, handle)
	reg.mu.Unlock()

	if res == nil {
		return room, nil
	}

	reg.logger.Info("玩家離開房間",
		"code", room.Code,
		"handle", handle,
		"name", res.Removed.Name)

	if res.Closed {
		reg.destroyRoom(room.Code, "empty")
	}
	return room, res
}

// IndexBot 將機器人代號納入反向索引（移除機器人時清理）
func (reg *Registry) IndexBot(handle, code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.handleIndex[handle] = code
}

// DropHandle 從反向索引移除代號
func (reg *Registry) DropHandle(handle string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.handleIndex, handle)
}

// RoomByCode 以房間代碼查找
func (reg *Registry) RoomByCode(code string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[code]
}

// RoomByHandle 以連線代號查找（O(1) 反向索引）
func (reg *Registry) RoomByHandle(handle string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	code, ok := reg.handleIndex[handle]
	if !ok {
		return nil
	}
	return reg.rooms[code]
}

// HasGrace 檢查代號是否處於寬限期（測試用）
func (reg *Registry) HasGrace(handle string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.grace[handle]
	return ok
}

// Stats 統計資訊
func (reg *Registry) Stats() map[string]any {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	stateCount := make(map[RoomState]int)
	totalPlayers := 0
	for _, room := range reg.rooms {
		stateCount[room.CurrentState()]++
		totalPlayers += room.PlayerCount()
	}

	return map[string]any{
		"total_rooms":   len(reg.rooms),
		"total_players": totalPlayers,
		"by_state":      stateCount,
		"grace_pending": len(reg.grace),
	}
}

// Cleanup 執行一次過期掃描（公開方法供測試使用）
func (reg *Registry) Cleanup() {
	reg.mu.RLock()
	var expired []string
	for code, room := range reg.rooms {
		if room.IsExpired(reg.cfg.RoomTTL) {
			expired = append(expired, code)
		}
	}
	reg.mu.RUnlock()

	for _, code := range expired {
		reg.destroyRoom(code, "expired")
	}
}

// Stop 停止註冊表
func (reg *Registry) Stop() {
	close(reg.stopCh)
	reg.wg.Wait()

	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.rooms = make(map[string]*Room)
	reg.handleIndex = make(map[string]string)
	for _, e := range reg.grace {
		e.timer.Stop()
	}
	reg.grace = make(map[string]*graceEntry)
	reg.mu.Unlock()

	for _, room := range rooms {
		room.Destroy()
	}

	reg.logger.Info("房間註冊表已停止")
}

// onGraceExpired 寬限計時器到期回呼
//
// 移除玩家並廣播離開；若移除後房間仍在遊戲中卻已無連線中的人類，
// 強制結束遊戲返回大廳（機器人自己玩下去沒有意義）。
func (reg *Registry) onGraceExpired(handle, code string) {
	reg.mu.Lock()
	_, ok := reg.grace[handle]
	if ok {
		delete(reg.grace, handle)
	}
	notifier := reg.notifier
	reg.mu.Unlock()
	if !ok {
		return // 重連已取消寬限
	}

	res := reg.FinalizeLeave(handle, code)
	if res == nil || notifier == nil {
		return
	}

	room := reg.RoomByCode(code)
	if room == nil {
		return // 房間已隨最後一位人類銷毀
	}

	notifier.Broadcast(code, "room:playerLeft", map[string]any{
		"players": room.SerializePlayers(),
	})

	if room.CurrentState() == StatePlaying && room.ConnectedHumans() == 0 {
		room.EndToLobby()
		notifier.Broadcast(code, "room:lobby", map[string]any{
			"players": room.SerializePlayers(),
			"message": "遊戲結束：人數不足",
		})
		reg.logger.Info("人數不足，遊戲強制結束", "code", code)
	}
}

// cancelGrace 取消寬限計時器（無記錄時為無操作）
func (reg *Registry) cancelGrace(handle string) {
	reg.mu.Lock()
	entry, ok := reg.grace[handle]
	if ok {
		delete(reg.grace, handle)
	}
	reg.mu.Unlock()

	if ok {
		entry.timer.Stop()
	}
}

// destroyRoom 銷毀房間並清理所有關聯索引
func (reg *Registry) destroyRoom(code, reason string) {
	reg.mu.Lock()
	room, exists := reg.rooms[code]
	if !exists {
		reg.mu.Unlock()
		return
	}
	delete(reg.rooms, code)
	for h, c := range reg.handleIndex {
		if c == code {
			delete(reg.handleIndex, h)
		}
	}
	for h, e := range reg.grace {
		if e.code == code {
			e.timer.Stop()
			delete(reg.grace, h)
		}
	}
	reg.mu.Unlock()

	room.Destroy()
	reg.logger.Info("房間已銷毀", "code", code, "reason", reason)
}

// reapLoop 過期房間掃描
func (reg *Registry) reapLoop() {
	defer reg.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reg.Cleanup()
		case <-reg.stopCh:
			return
		}
	}
}

// validName 驗證並修剪顯示名稱
func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > MaxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

// normalizeCode 正規化房間代碼（去空白、轉大寫、驗證格式）
func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !validCode(code) {
		return ""
	}
	return code
}
