package internal

import (
	"math/rand"
	"time"
)

// 翻牌配對：輪流翻開兩張牌，配對成功得分並續翻，失敗換下一位。
//
// 回合狀態機：playing →（湊齊所有配對）→ roundResult（4 秒）→ 下一回合
//
// 設計重點：
//   - 唯一的回合制遊戲：currentTurn / turnOrder 限定只有輪到的人能翻牌
//   - 翻開第二張後進入 locked 狀態，結果展示期間丟棄所有輸入，
//     由計時器在展示結束時解鎖（配對成功同一人續翻，失敗輪替）
//   - 輪替時跳過已離開房間的玩家，全員離場直接結算

const (
	emojiRounds     = 3
	emojiMatchScore = 50
	emojiMatchHold  = 800 * time.Millisecond  // 配對成功的展示時間
	emojiUnflipHold = 1200 * time.Millisecond // 配對失敗的蓋回時間
	emojiClearHold  = 1500 * time.Millisecond // 清空牌面到回合結算的間隔
	emojiResultHold = 4 * time.Second
)

// emojiBoardSizes 各回合牌面大小（逐回合加大）
var emojiBoardSizes = []int{12, 16, 20}

// emojiPool 候選牌面符號
var emojiPool = []string{
	"🍎", "🍌", "🍇", "🍓", "🍊", "🍉", "🍒", "🥝",
	"🐶", "🐱", "🐭", "🐰", "🦊", "🐻", "🐼", "🐸",
	"⚽", "🏀", "🎾", "🎲", "🎸", "🎺", "🎯", "🎳",
	"🚗", "🚕", "🚀", "✈️", "🚁", "⛵", "🚲", "🛴",
}

func init() {
	RegisterGame(&emojiMatch{})
}

// emojiState 翻牌配對的回合狀態
type emojiState struct {
	round       int
	totalRounds int
	phase       string

	board     []string // 牌面符號（整局固定）
	revealed  []bool   // 已配對成功、保持翻開的位置
	boardSize int

	firstPick  int  // 本輪翻開的第一張，-1 表示尚未翻
	secondPick int  // 本輪翻開的第二張，-1 表示尚未翻
	locked     bool // 結果展示中，丟棄所有翻牌輸入

	currentTurn string   // 輪到的玩家代號
	turnOrder   []string // 輪替順序（回合開始時洗亂）
	turnIndex   int
	pairsFound  map[string]int // 玩家代號 -> 本回合配對數
}

func (s *emojiState) CurrentPhase() string { return s.phase }
func (s *emojiState) CurrentRound() int    { return s.round }

func (s *emojiState) Rebind(oldHandle, newHandle string) {
	swapMapKey(s.pairsFound, oldHandle, newHandle)
	swapSliceElem(s.turnOrder, oldHandle, newHandle)
	swapRef(&s.currentTurn, oldHandle, newHandle)
}

type emojiMatch struct{}

func (g *emojiMatch) Info() GameInfo {
	return GameInfo{
		ID:          "emoji-match",
		Name:        "翻牌配對",
		Description: "輪流翻牌找出成對的符號，記性好的獲勝。",
		Icon:        "🃏",
		MinPlayers:  2,
		MaxPlayers:  20,
		Rounds:      emojiRounds,
	}
}

func (g *emojiMatch) Init(room *Room, b Broadcaster) {
	room.Mu.Lock()
	defer room.Mu.Unlock()

	gs := &emojiState{
		totalRounds: emojiRounds,
		firstPick:   -1,
		secondPick:  -1,
	}
	room.GameState = gs
	g.nextRoundLocked(room, gs, b)
}

// nextRoundLocked 開始下一回合（需持有房間鎖）
func (g *emojiMatch) nextRoundLocked(room *Room, gs *emojiState, b Broadcaster) {
	gs.round++
	if gs.round > gs.totalRounds {
		g.endGameLocked(room, gs, b)
		return
	}

	gs.boardSize = emojiBoardSizes[minInt(gs.round, len(emojiBoardSizes))-1]
	gs.board = dealEmojiBoard(gs.boardSize)
	gs.revealed = make([]bool, gs.boardSize)
	gs.firstPick = -1
	gs.secondPick = -1
	gs.locked = false
	gs.pairsFound = make(map[string]int)

	// 輪替順序每回合重洗
	gs.turnOrder = make([]string, 0, len(room.Players))
	for handle := range room.Players {
		gs.turnOrder = append(gs.turnOrder, handle)
	}
	rand.Shuffle(len(gs.turnOrder), func(i, j int) {
		gs.turnOrder[i], gs.turnOrder[j] = gs.turnOrder[j], gs.turnOrder[i]
	})
	if len(gs.turnOrder) == 0 {
		g.endGameLocked(room, gs, b)
		return
	}
	gs.turnIndex = 0
	gs.currentTurn = gs.turnOrder[0]

	gs.phase = "playing"
	b.Broadcast(room.Code, "game:state", map[string]any{
		"phase":           "playing",
		"round":           gs.round,
		"totalRounds":     gs.totalRounds,
		"boardSize":       gs.boardSize,
		"cols":            emojiCols(gs.boardSize),
		"currentTurn":     gs.currentTurn,
		"currentTurnName": g.playerNameLocked(room, gs.currentTurn),
	})
}

func (g *emojiMatch) OnEvent(room *Room, conn Conn, event string, data map[string]any, b Broadcaster) {
	room.Mu.Lock()
	defer room.Mu.Unlock()

	gs, ok := room.GameState.(*emojiState)
	if !ok || event != "flip" || gs.phase != "playing" {
		return
	}
	handle := conn.Handle()
	if handle != gs.currentTurn || gs.locked {
		return
	}

	idxRaw, ok := data["index"].(float64)
	if !ok {
		return
	}
	idx := int(idxRaw)
	if idx < 0 || idx >= gs.boardSize || gs.revealed[idx] || idx == gs.firstPick {
		return
	}

	if gs.firstPick < 0 {
		gs.firstPick = idx
		b.Broadcast(room.Code, "game:state", map[string]any{
			"phase": "flip",
			"index": idx,
			"emoji": gs.board[idx],
		})
		return
	}

	// 第二張：鎖定輸入，展示結果後再解鎖
	gs.secondPick = idx
	gs.locked = true
	b.Broadcast(room.Code, "game:state", map[string]any{
		"phase": "flip",
		"index": idx,
		"emoji": gs.board[idx],
	})

	first, second := gs.firstPick, gs.secondPick
	if gs.board[first] == gs.board[second] {
		g.resolveMatchLocked(room, gs, b, handle, first, second)
	} else {
		g.resolveMissLocked(room, gs, b, first, second)
	}
}

// resolveMatchLocked 配對成功：計分、保持翻開、同一人續翻（需持有房間鎖）
func (g *emojiMatch) resolveMatchLocked(room *Room, gs *emojiState, b Broadcaster, handle string, first, second int) {
	gs.revealed[first] = true
	gs.revealed[second] = true
	gs.pairsFound[handle]++
	if p := room.Players[handle]; p != nil {
		p.Score += emojiMatchScore
	}
	name := g.playerNameLocked(room, handle)

	thisRound := gs.round
	room.Timers.After(emojiMatchHold, func() {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		if room.GameState != gs || gs.round != thisRound {
			return
		}
		gs.firstPick = -1
		gs.secondPick = -1
		gs.locked = false
		b.Broadcast(room.Code, "game:state", map[string]any{
			"phase":      "match",
			"indices":    []int{first, second},
			"playerId":   handle,
			"playerName": name,
		})

		if g.boardClearedLocked(gs) {
			room.Timers.After(emojiClearHold, func() {
				room.Mu.Lock()
				defer room.Mu.Unlock()
				if room.GameState != gs || gs.round != thisRound {
					return
				}
				g.roundResultLocked(room, gs, b)
			})
		}
		// 配對成功不輪替，同一位玩家繼續
	})
}

// resolveMissLocked 配對失敗：蓋回兩張並輪替（需持有房間鎖）
func (g *emojiMatch) resolveMissLocked(room *Room, gs *emojiState, b Broadcaster, first, second int) {
	thisRound := gs.round
	room.Timers.After(emojiUnflipHold, func() {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		if room.GameState != gs || gs.round != thisRound {
			return
		}
		gs.firstPick = -1
		gs.secondPick = -1
		gs.locked = false
		b.Broadcast(room.Code, "game:state", map[string]any{
			"phase":   "unflip",
			"indices": []int{first, second},
		})
		g.advanceTurnLocked(room, gs, b)
	})
}

// advanceTurnLocked 輪替到下一位仍在房間內的玩家（需持有房間鎖）
//
// 繞完一圈都找不到人時直接結算本回合。
func (g *emojiMatch) advanceTurnLocked(room *Room, gs *emojiState, b Broadcaster) {
	for i := 0; i < len(gs.turnOrder); i++ {
		gs.turnIndex = (gs.turnIndex + 1) % len(gs.turnOrder)
		next := gs.turnOrder[gs.turnIndex]
		if _, ok := room.Players[next]; !ok {
			continue
		}
		gs.currentTurn = next
		b.Broadcast(room.Code, "game:state", map[string]any{
			"phase":           "turn",
			"currentTurn":     next,
			"currentTurnName": g.playerNameLocked(room, next),
		})
		return
	}
	g.roundResultLocked(room, gs, b)
}

// roundResultLocked 廣播回合結算並排程下一回合（需持有房間鎖）
func (g *emojiMatch) roundResultLocked(room *Room, gs *emojiState, b Broadcaster) {
	if gs.phase != "playing" {
		return
	}
	gs.phase = "roundResult"

	results := make([]map[string]any, 0, len(gs.pairsFound))
	for handle, pairs := range gs.pairsFound {
		p := room.Players[handle]
		if p == nil {
			continue
		}
		results = append(results, map[string]any{
			"id":    handle,
			"name":  p.Name,
			"pairs": pairs,
		})
	}
	sortByIntKeyDesc(results, "pairs")

	b.Broadcast(room.Code, "game:state", map[string]any{
		"phase":   "roundResult",
		"round":   gs.round,
		"results": results,
	})

	room.Timers.After(emojiResultHold, func() {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		if room.GameState != gs {
			return
		}
		g.nextRoundLocked(room, gs, b)
	})
}

// boardClearedLocked 牌面是否已全數配對（需持有房間鎖）
func (g *emojiMatch) boardClearedLocked(gs *emojiState) bool {
	for _, done := range gs.revealed {
		if !done {
			return false
		}
	}
	return true
}

// playerNameLocked 查玩家顯示名稱（需持有房間鎖）
func (g *emojiMatch) playerNameLocked(room *Room, handle string) string {
	if p := room.Players[handle]; p != nil {
		return p.Name
	}
	return ""
}

// endGameLocked 進入終態（需持有房間鎖）
func (g *emojiMatch) endGameLocked(room *Room, gs *emojiState, b Broadcaster) {
	if gs.phase == PhaseFinished {
		return
	}
	gs.phase = PhaseFinished
	finishGameLocked(room, b)
}

func (g *emojiMatch) Cleanup(room *Room) {
	room.Mu.Lock()
	timers := room.Timers
	room.Mu.Unlock()
	if timers != nil {
		timers.Stop()
	}
}

// dealEmojiBoard 發牌：取 size/2 種符號各兩張後洗亂
func dealEmojiBoard(size int) []string {
	pool := append([]string(nil), emojiPool...)
	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	board := make([]string, 0, size)
	for _, emoji := range pool[:size/2] {
		board = append(board, emoji, emoji)
	}
	rand.Shuffle(len(board), func(i, j int) {
		board[i], board[j] = board[j], board[i]
	})
	return board
}

// emojiCols 畫面欄數（大牌面排寬一點）
func emojiCols(size int) int {
	if size > 16 {
		return 5
	}
	return 4
}
