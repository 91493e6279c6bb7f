package internal

import (
	"math/rand"
	"time"
)

// 反應競速：畫面在隨機延遲後轉綠，最快按下的人拿下該回合。
//
// 回合狀態機：ready →（隨機 1.5~5 秒）→ go →（首按或 5 秒超時）→ result → 下一回合
//
// 競態設計重點：
//   - 首位有效按下與 5 秒超時可能同時觸發回合結束，
//     以 resultFired 守衛保證結果只廣播一次
//   - 「太早按」的玩家收到私人提示並被記錄，但 GO 之後仍可補按計分
//     （只損失搶先的那一下，沒有額外懲罰）

const (
	reactionRounds     = 5
	reactionGoTimeout  = 5 * time.Second
	reactionResultHold = 1500 * time.Millisecond
	reactionNextDelay  = 3 * time.Second
)

func init() {
	RegisterGame(&reactionRace{})
}

// tapRecord 一次有效按下的記錄
type tapRecord struct {
	Handle string
	Name   string
	Millis int64
}

// reactionState 反應競速的回合狀態
type reactionState struct {
	round       int
	totalRounds int
	phase       string
	goTime      time.Time
	results     []tapRecord
	tapped      map[string]struct{}
	early       map[string]struct{}
	resultFired bool
}

func (s *reactionState) CurrentPhase() string { return s.phase }
func (s *reactionState) CurrentRound() int    { return s.round }

func (s *reactionState) Rebind(oldHandle, newHandle string) {
	swapSetMember(s.tapped, oldHandle, newHandle)
	swapSetMember(s.early, oldHandle, newHandle)
	for i := range s.results {
		swapRef(&s.results[i].Handle, oldHandle, newHandle)
	}
}

type reactionRace struct{}

func (g *reactionRace) Info() GameInfo {
	return GameInfo{
		ID:          "reaction-race",
		Name:        "反應競速",
		Description: "畫面轉綠的瞬間，看誰的手最快！",
		Icon:        "⚡",
		MinPlayers:  2,
		MaxPlayers:  20,
		Rounds:      reactionRounds,
	}
}

func (g *reactionRace) Init(room *Room, b Broadcaster) {
	room.Mu.Lock()
	defer room.Mu.Unlock()

	gs := &reactionState{totalRounds: reactionRounds}
	room.GameState = gs
	g.nextRoundLocked(room, gs, b)
}

// nextRoundLocked 開始下一回合（需持有房間鎖）
func (g *reactionRace) nextRoundLocked(room *Room, gs *reactionState, b Broadcaster) {
	gs.round++
	gs.phase = "ready"
	gs.goTime = time.Time{}
	gs.tapped = make(map[string]struct{})
	gs.early = make(map[string]struct{})
	gs.results = nil
	gs.resultFired = false

	if gs.round > gs.totalRounds {
		g.endGameLocked(room, gs, b)
		return
	}

	b.Broadcast(room.Code, "game:state", map[string]any{
		"phase":       "ready",
		"round":       gs.round,
		"totalRounds": gs.totalRounds,
	})

	// 回合編號快照：舊回合的計時器觸發時比對失敗即失效
	thisRound := gs.round
	armDelay := time.Duration(1500+rand.Intn(3500)) * time.Millisecond

	room.Timers.After(armDelay, func() {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		if room.GameState != gs || gs.round != thisRound {
			return
		}

		gs.phase = "go"
		gs.goTime = time.Now()
		b.Broadcast(room.Code, "game:state", map[string]any{"phase": "go"})

		room.Timers.After(reactionGoTimeout, func() {
			room.Mu.Lock()
			defer room.Mu.Unlock()
			if room.GameState != gs || gs.round != thisRound {
				return
			}
			if gs.phase == "go" && !gs.resultFired {
				g.roundResultLocked(room, gs, b, "")
			}
		})
	})
}

func (g *reactionRace) OnEvent(room *Room, conn Conn, event string, data map[string]any, b Broadcaster) {
	room.Mu.Lock()
	defer room.Mu.Unlock()

	gs, ok := room.GameState.(*reactionState)
	if !ok || event != "tap" {
		return
	}
	handle := conn.Handle()

	switch gs.phase {
	case "ready":
		// 太早按：私下告知，記錄到獨立集合，不佔用正式按下
		conn.Emit("game:state", map[string]any{"phase": "early"})
		gs.early[handle] = struct{}{}

	case "go":
		if _, already := gs.tapped[handle]; already {
			return
		}
		gs.tapped[handle] = struct{}{}

		player := room.Players[handle]
		if player == nil {
			return
		}

		millis := time.Since(gs.goTime).Milliseconds()
		gs.results = append(gs.results, tapRecord{Handle: handle, Name: player.Name, Millis: millis})

		// 首位有效按下得分，短暫展示後結束回合
		if len(gs.results) == 1 && !gs.resultFired {
			player.Score += 100
			if millis < 300 {
				player.Score += 50
			}

			thisRound := gs.round
			room.Timers.After(reactionResultHold, func() {
				room.Mu.Lock()
				defer room.Mu.Unlock()
				if room.GameState != gs || gs.round != thisRound || gs.resultFired {
					return
				}
				g.roundResultLocked(room, gs, b, gs.results[0].Handle)
			})
		}
	}
}

// roundResultLocked 結束回合並廣播結果（需持有房間鎖）
//
// 階段守衛：先查後設 resultFired，超時與首按競態中先到者勝，後到為無操作。
func (g *reactionRace) roundResultLocked(room *Room, gs *reactionState, b Broadcaster, winnerHandle string) {
	if gs.resultFired {
		return
	}
	gs.resultFired = true
	gs.phase = "result"

	var winner map[string]any
	if winnerHandle != "" && len(gs.results) > 0 {
		if p := room.Players[winnerHandle]; p != nil {
			winner = map[string]any{
				"id":   winnerHandle,
				"name": p.Name,
				"time": gs.results[0].Millis,
			}
		}
	}

	top := gs.results
	if len(top) > 5 {
		top = top[:5]
	}
	results := make([]map[string]any, 0, len(top))
	for _, r := range top {
		results = append(results, map[string]any{
			"id":   r.Handle,
			"name": r.Name,
			"time": r.Millis,
		})
	}

	b.Broadcast(room.Code, "game:state", map[string]any{
		"phase":   "result",
		"round":   gs.round,
		"winner":  winner,
		"results": results,
	})

	room.Timers.After(reactionNextDelay, func() {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		if room.GameState != gs {
			return
		}
		g.nextRoundLocked(room, gs, b)
	})
}

// endGameLocked 進入終態（需持有房間鎖）
func (g *reactionRace) endGameLocked(room *Room, gs *reactionState, b Broadcaster) {
	if gs.phase == PhaseFinished {
		return
	}
	gs.phase = PhaseFinished
	finishGameLocked(room, b)
}

func (g *reactionRace) Cleanup(room *Room) {
	room.Mu.Lock()
	timers := room.Timers
	room.Mu.Unlock()
	if timers != nil {
		timers.Stop()
	}
}
