package internal

import (
	"math/rand"
	"sort"
	"time"
)

// 系統設計問題：
//   多種小遊戲共用一套回合制協議，派發層如何做到完全不認識個別遊戲？
//
// 核心挑戰：
//   1. 多型：派發層只面對固定介面（Init / OnEvent / Cleanup），不按遊戲分支
//   2. 冪等：回合結束的轉換可能被「超時」與「全員作答」同時觸發，只能生效一次
//   3. 重映射：每個遊戲自有的以連線代號為鍵的結構，重連時都要換鍵
//
// 設計方案：
//   ✅ Game 介面 + 查找表 - 以遊戲 ID 註冊，派發層查表轉發
//   ✅ 階段守衛（resultFired）- 每回合單調旗標，先查後設，競態中先到者勝
//   ✅ 回合編號快照 - 計時器排程時記下回合號，觸發時比對，舊回合計時器自動失效
//   ✅ Rebind 能力 - 每個 GameState 實現通用換鍵操作，不在會話層逐結構特判

// GameInfo 遊戲模組的靜態描述
type GameInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	MinPlayers  int    `json:"minPlayers"`
	MaxPlayers  int    `json:"maxPlayers"`
	Rounds      int    `json:"-"`
}

// Game 遊戲模組契約
//
// 模組本身無狀態，所有回合狀態存放於 room.GameState。
type Game interface {
	// Info 回傳靜態描述
	Info() GameInfo

	// Init 配置全新的 GameState（phase 直接進入第一個真實階段，
	// 不留懸空的等待狀態）並開始第一回合。
	Init(room *Room, b Broadcaster)

	// OnEvent 處理一則玩家輸入。必須對重複 / 遲到的投遞冪等：
	// 已作答的玩家直接忽略，錯誤階段的事件靜默丟棄。
	OnEvent(room *Room, conn Conn, event string, data map[string]any, b Broadcaster)

	// Cleanup 取消模組為此房間建立的所有計時器。
	// 房主可能在遊戲中途退出，未到 finished 階段也必須安全。
	Cleanup(room *Room)
}

// GameState 回合狀態契約
//
// 各遊戲自訂具體結構，但一律暴露階段與回合，並支援通用換鍵。
type GameState interface {
	// CurrentPhase 當前階段（finished 為終態）
	CurrentPhase() string

	// CurrentRound 當前回合編號（從 1 起算）
	CurrentRound() int

	// Rebind 將所有以 oldHandle 為鍵的內部結構換到 newHandle
	Rebind(oldHandle, newHandle string)
}

// PhaseFinished 所有遊戲共用的終態階段名
const PhaseFinished = "finished"

// Broadcaster 房間廣播介面
//
// 遊戲模組透過它對整個房間發送階段事件，不直接接觸連線。
type Broadcaster interface {
	// Broadcast 對房間的連線群組廣播一則事件
	Broadcast(code, event string, data map[string]any)
}

// Conn 連線代號介面
//
// 真實玩家由 WebSocket 連線實現；機器人由空輸出實現（見 bots.go）。
// 遊戲模組無法、也不需要分辨兩者。
type Conn interface {
	// Handle 連線代號（玩家鍵）
	Handle() string

	// Emit 僅對此連線發送事件（回應個人確認，如「太早按了」）
	Emit(event string, data map[string]any)
}

// gameCatalog 遊戲查找表（ID -> 模組）
var gameCatalog = map[string]Game{}

// gameOrder 註冊順序（列表輸出用）
var gameOrder []string

// RegisterGame 註冊遊戲模組
func RegisterGame(g Game) {
	id := g.Info().ID
	if _, exists := gameCatalog[id]; !exists {
		gameOrder = append(gameOrder, id)
	}
	gameCatalog[id] = g
}

// LookupGame 查找遊戲模組
func LookupGame(id string) (Game, bool) {
	g, ok := gameCatalog[id]
	return g, ok
}

// ListGames 列出所有已註冊遊戲的靜態描述
func ListGames() []GameInfo {
	list := make([]GameInfo, 0, len(gameOrder))
	for _, id := range gameOrder {
		list = append(list, gameCatalog[id].Info())
	}
	return list
}

// finishGameLocked 遊戲終態的共通收尾（需持有房間鎖）
//
// 廣播最終排名（分數降序）並將房間切到 results 狀態。
// 呼叫端負責先檢查並設置自己的 finished 階段守衛。
func finishGameLocked(room *Room, b Broadcaster) {
	b.Broadcast(room.Code, "game:end", map[string]any{
		"scores": room.sortedScoresLocked(),
	})
	room.State = StateResults
}

// randMillis 在 [min, max) 毫秒間均勻取樣
func randMillis(min, max int) time.Duration {
	return time.Duration(min+rand.Intn(max-min)) * time.Millisecond
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func containsString(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}

// sortByIntKeyDesc 按指定整數欄位降序排列結果列表（穩定排序）
func sortByIntKeyDesc(results []map[string]any, key string) {
	sort.SliceStable(results, func(i, j int) bool {
		a, _ := results[i][key].(int)
		b, _ := results[j][key].(int)
		return a > b
	})
}

// 通用換鍵操作：Rebind 的積木。
// 每個遊戲狀態用這些組合出自己的 Rebind，不在會話層逐結構特判。

// swapMapKey 將 map 的鍵從 oldK 換成 newK
func swapMapKey[V any](m map[string]V, oldK, newK string) {
	if m == nil {
		return
	}
	if v, ok := m[oldK]; ok {
		delete(m, oldK)
		m[newK] = v
	}
}

// swapSetMember 將集合成員從 oldK 換成 newK
func swapSetMember(s map[string]struct{}, oldK, newK string) {
	if s == nil {
		return
	}
	if _, ok := s[oldK]; ok {
		delete(s, oldK)
		s[newK] = struct{}{}
	}
}

// swapSliceElem 將切片中的 oldK 原位換成 newK
func swapSliceElem(xs []string, oldK, newK string) {
	for i, x := range xs {
		if x == oldK {
			xs[i] = newK
		}
	}
}

// swapRef 將單一引用從 oldK 換成 newK
func swapRef(ref *string, oldK, newK string) {
	if ref != nil && *ref == oldK {
		*ref = newK
	}
}
