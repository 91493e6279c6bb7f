package internal

import (
	"time"
)

// 狂點大賽：限時內拼命點擊，點最多的人拿最高分。
//
// 回合狀態機：countdown（3 秒）→ tapping（8 秒）→ result（4 秒）→ 下一回合
//
// 設計重點：
//   - tapping 期間每 500ms 廣播即時計數（game:tick），僅供畫面顯示，
//     最終結算以回合結束時的計數為準
//   - 即時廣播的 Ticker 於每回合結束時個別停止，不等整組釋放

const (
	tapRounds        = 3
	tapCountdown     = 3 * time.Second
	tapRoundDuration = 8 * time.Second
	tapResultHold    = 4 * time.Second
	tapTickInterval  = 500 * time.Millisecond
)

// tapPointTable 名次積分（第四名以後一律末位分）
var tapPointTable = []int{150, 100, 75}

const tapConsolation = 25

func init() {
	RegisterGame(&tapFrenzy{})
}

// tapState 狂點大賽的回合狀態
type tapState struct {
	round       int
	totalRounds int
	phase       string
	taps        map[string]int
	tick        *GroupTicker
}

func (s *tapState) CurrentPhase() string { return s.phase }
func (s *tapState) CurrentRound() int    { return s.round }

func (s *tapState) Rebind(oldHandle, newHandle string) {
	swapMapKey(s.taps, oldHandle, newHandle)
}

type tapFrenzy struct{}

func (g *tapFrenzy) Info() GameInfo {
	return GameInfo{
		ID:          "tap-frenzy",
		Name:        "狂點大賽",
		Description: "用盡全力點下去！點最多的獲勝。",
		Icon:        "👆",
		MinPlayers:  2,
		MaxPlayers:  20,
		Rounds:      tapRounds,
	}
}

func (g *tapFrenzy) Init(room *Room, b Broadcaster) {
	room.Mu.Lock()
	defer room.Mu.Unlock()

	gs := &tapState{totalRounds: tapRounds}
	room.GameState = gs
	g.nextRoundLocked(room, gs, b)
}

// nextRoundLocked 開始下一回合（需持有房間鎖）
func (g *tapFrenzy) nextRoundLocked(room *Room, gs *tapState, b Broadcaster) {
	gs.round++
	gs.taps = make(map[string]int)
	g.stopTickLocked(gs)

	if gs.round > gs.totalRounds {
		g.endGameLocked(room, gs, b)
		return
	}

	// 所有在房玩家預先入列，零分也會出現在結果裡
	for handle := range room.Players {
		gs.taps[handle] = 0
	}

	gs.phase = "countdown"
	b.Broadcast(room.Code, "game:state", map[string]any{
		"phase":       "countdown",
		"round":       gs.round,
		"totalRounds": gs.totalRounds,
	})

	thisRound := gs.round
	room.Timers.After(tapCountdown, func() {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		if room.GameState != gs || gs.round != thisRound {
			return
		}

		gs.phase = "tapping"
		b.Broadcast(room.Code, "game:state", map[string]any{
			"phase":    "tapping",
			"duration": tapRoundDuration.Milliseconds(),
		})

		// 即時排行：每 500ms 廣播一次當前計數
		gs.tick = room.Timers.Every(tapTickInterval, func(t *GroupTicker) {
			room.Mu.RLock()
			if room.GameState != gs || gs.phase != "tapping" {
				room.Mu.RUnlock()
				t.Stop()
				return
			}
			counts := g.countsLocked(room, gs)
			code := room.Code
			room.Mu.RUnlock()

			b.Broadcast(code, "game:tick", map[string]any{"counts": counts})
		})

		room.Timers.After(tapRoundDuration, func() {
			room.Mu.Lock()
			defer room.Mu.Unlock()
			if room.GameState != gs || gs.round != thisRound {
				return
			}
			g.stopTickLocked(gs)
			g.roundResultLocked(room, gs, b)
		})
	})
}

func (g *tapFrenzy) OnEvent(room *Room, conn Conn, event string, data map[string]any, b Broadcaster) {
	room.Mu.Lock()
	defer room.Mu.Unlock()

	gs, ok := room.GameState.(*tapState)
	if !ok || event != "tap" || gs.phase != "tapping" {
		return
	}
	gs.taps[conn.Handle()]++
}

// countsLocked 當前計數快照（降序，需持有鎖）
func (g *tapFrenzy) countsLocked(room *Room, gs *tapState) []map[string]any {
	counts := make([]map[string]any, 0, len(gs.taps))
	for handle, count := range gs.taps {
		p := room.Players[handle]
		if p == nil {
			continue
		}
		counts = append(counts, map[string]any{
			"id":    handle,
			"name":  p.Name,
			"count": count,
		})
	}
	sortByIntKeyDesc(counts, "count")
	return counts
}

// roundResultLocked 結算名次積分並廣播（需持有房間鎖）
func (g *tapFrenzy) roundResultLocked(room *Room, gs *tapState, b Broadcaster) {
	if gs.phase == "result" {
		return
	}
	gs.phase = "result"

	results := g.countsLocked(room, gs)
	for i, r := range results {
		points := tapConsolation
		if i < len(tapPointTable) {
			points = tapPointTable[i]
		}
		if p := room.Players[r["id"].(string)]; p != nil {
			p.Score += points
		}
		r["points"] = points
	}

	b.Broadcast(room.Code, "game:state", map[string]any{
		"phase":   "result",
		"results": results,
	})

	room.Timers.After(tapResultHold, func() {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		if room.GameState != gs {
			return
		}
		g.nextRoundLocked(room, gs, b)
	})
}

// stopTickLocked 停止即時排行廣播（需持有房間鎖）
func (g *tapFrenzy) stopTickLocked(gs *tapState) {
	if gs.tick != nil {
		gs.tick.Stop()
		gs.tick = nil
	}
}

// endGameLocked 進入終態（需持有房間鎖）
func (g *tapFrenzy) endGameLocked(room *Room, gs *tapState, b Broadcaster) {
	if gs.phase == PhaseFinished {
		return
	}
	gs.phase = PhaseFinished
	finishGameLocked(room, b)
}

func (g *tapFrenzy) Cleanup(room *Room) {
	room.Mu.Lock()
	if gs, ok := room.GameState.(*tapState); ok {
		g.stopTickLocked(gs)
	}
	timers := room.Timers
	room.Mu.Unlock()
	if timers != nil {
		timers.Stop()
	}
}
