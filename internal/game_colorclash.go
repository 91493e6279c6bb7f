package internal

import (
	"math/rand"
	"sort"
	"time"
)

// 色彩衝突：史楚普效應（Stroop Effect）。
// 畫面顯示一個顏色單字，但字的墨色與字義不同；玩家要按「墨色」而非字義。
// 每回合作答時限遞減，越後面越緊張。
//
// 計分：答對 100 底分 + 速度加成 +（連對次數）連擊加成，答錯連擊歸零。
// 作答當下即計分並私發確認（answered），回合結算只負責公開排名。

const (
	colorRounds     = 10
	colorBaseTime   = 5000 * time.Millisecond
	colorMinTime    = 1500 * time.Millisecond
	colorTimeDecay  = 300 * time.Millisecond
	colorResultHold = 3 * time.Second
	colorOptions    = 4
	colorMaxStreak  = 5
)

var colorPalette = []string{"red", "blue", "green", "yellow", "purple", "orange"}

func init() {
	RegisterGame(&colorClash{})
}

// colorAnswer 一位玩家的作答
type colorAnswer struct {
	Choice string
	Millis int64
}

// colorState 色彩衝突的回合狀態
type colorState struct {
	round         int
	totalRounds   int
	phase         string
	word          string
	inkColor      string
	options       []string
	timeLimit     time.Duration
	questionStart time.Time
	answers       map[string]colorAnswer
	streaks       map[string]int
}

func (s *colorState) CurrentPhase() string { return s.phase }
func (s *colorState) CurrentRound() int    { return s.round }

func (s *colorState) Rebind(oldHandle, newHandle string) {
	swapMapKey(s.answers, oldHandle, newHandle)
	swapMapKey(s.streaks, oldHandle, newHandle)
}

type colorClash struct{}

func (g *colorClash) Info() GameInfo {
	return GameInfo{
		ID:          "color-clash",
		Name:        "色彩衝突",
		Description: "字寫著「紅」卻是藍色的，按墨色，別按字義！",
		Icon:        "🎨",
		MinPlayers:  2,
		MaxPlayers:  20,
		Rounds:      colorRounds,
	}
}

func (g *colorClash) Init(room *Room, b Broadcaster) {
	room.Mu.Lock()
	defer room.Mu.Unlock()

	gs := &colorState{
		totalRounds: colorRounds,
		streaks:     make(map[string]int),
	}
	for handle := range room.Players {
		gs.streaks[handle] = 0
	}
	room.GameState = gs
	g.nextRoundLocked(room, gs, b)
}

// generateQuestion 產生字義與墨色必然不同的題目，選項固定含正解與干擾字
func (g *colorClash) generateQuestion() (word, ink string, options []string) {
	wordIdx := rand.Intn(len(colorPalette))
	inkIdx := wordIdx
	for inkIdx == wordIdx {
		inkIdx = rand.Intn(len(colorPalette))
	}
	word = colorPalette[wordIdx]
	ink = colorPalette[inkIdx]

	optionSet := map[string]struct{}{ink: {}, word: {}}
	for len(optionSet) < colorOptions {
		optionSet[colorPalette[rand.Intn(len(colorPalette))]] = struct{}{}
	}
	options = make([]string, 0, colorOptions)
	for c := range optionSet {
		options = append(options, c)
	}
	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	return word, ink, options
}

// nextRoundLocked 出下一題（需持有房間鎖）
func (g *colorClash) nextRoundLocked(room *Room, gs *colorState, b Broadcaster) {
	gs.round++
	gs.phase = "showing"
	gs.answers = make(map[string]colorAnswer)

	if gs.round > gs.totalRounds {
		g.endGameLocked(room, gs, b)
		return
	}

	gs.word, gs.inkColor, gs.options = g.generateQuestion()

	// 作答時限逐回合縮短，到下限為止
	limit := colorBaseTime - time.Duration(gs.round-1)*colorTimeDecay
	if limit < colorMinTime {
		limit = colorMinTime
	}
	gs.timeLimit = limit
	gs.questionStart = time.Now()

	b.Broadcast(room.Code, "game:state", map[string]any{
		"phase":       "question",
		"round":       gs.round,
		"totalRounds": gs.totalRounds,
		"word":        gs.word,
		"inkColor":    gs.inkColor,
		"options":     gs.options,
		"timeLimit":   limit.Milliseconds(),
	})

	thisRound := gs.round
	room.Timers.After(limit, func() {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		if room.GameState != gs || gs.round != thisRound {
			return
		}
		if gs.phase == "showing" {
			g.resolveRoundLocked(room, gs, b)
		}
	})
}

func (g *colorClash) OnEvent(room *Room, conn Conn, event string, data map[string]any, b Broadcaster) {
	room.Mu.Lock()
	defer room.Mu.Unlock()

	gs, ok := room.GameState.(*colorState)
	if !ok || event != "answer" || gs.phase != "showing" {
		return
	}
	handle := conn.Handle()
	if _, answered := gs.answers[handle]; answered {
		return
	}

	choice, _ := data["choice"].(string)
	if !containsString(gs.options, choice) {
		return
	}

	responseTime := time.Since(gs.questionStart)
	gs.answers[handle] = colorAnswer{Choice: choice, Millis: responseTime.Milliseconds()}

	player := room.Players[handle]
	if player == nil {
		return
	}

	correct := choice == gs.inkColor
	if correct {
		streak := gs.streaks[handle] + 1
		gs.streaks[handle] = streak

		speedBonus := maxInt(0, int((gs.timeLimit-responseTime)/time.Millisecond)/50)
		streakBonus := minInt(streak-1, colorMaxStreak) * 10
		player.Score += 100 + speedBonus + streakBonus
	} else {
		gs.streaks[handle] = 0
	}

	// 私發作答確認：對錯與連擊數只給本人
	conn.Emit("game:state", map[string]any{
		"phase":   "answered",
		"correct": correct,
		"streak":  gs.streaks[handle],
	})

	if len(gs.answers) >= room.activePlayersLocked() {
		g.resolveRoundLocked(room, gs, b)
	}
}

// resolveRoundLocked 公開本回合排名（需持有房間鎖）
//
// 排序：答對優先，其次作答時間升序。
func (g *colorClash) resolveRoundLocked(room *Room, gs *colorState, b Broadcaster) {
	if gs.phase == "result" {
		return
	}
	gs.phase = "result"

	type entry struct {
		name    string
		correct bool
		millis  int64
	}
	entries := make([]entry, 0, len(gs.answers))
	for handle, ans := range gs.answers {
		p := room.Players[handle]
		if p == nil {
			continue
		}
		entries = append(entries, entry{p.Name, ans.Choice == gs.inkColor, ans.Millis})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].correct != entries[j].correct {
			return entries[i].correct
		}
		return entries[i].millis < entries[j].millis
	})
	if len(entries) > 5 {
		entries = entries[:5]
	}

	results := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		results = append(results, map[string]any{
			"name":    e.name,
			"correct": e.correct,
			"time":    e.millis,
		})
	}

	b.Broadcast(room.Code, "game:state", map[string]any{
		"phase":         "result",
		"round":         gs.round,
		"correctAnswer": gs.inkColor,
		"word":          gs.word,
		"results":       results,
	})

	room.Timers.After(colorResultHold, func() {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		if room.GameState != gs {
			return
		}
		g.nextRoundLocked(room, gs, b)
	})
}

// endGameLocked 進入終態（需持有房間鎖）
func (g *colorClash) endGameLocked(room *Room, gs *colorState, b Broadcaster) {
	if gs.phase == PhaseFinished {
		return
	}
	gs.phase = PhaseFinished
	finishGameLocked(room, b)
}

func (g *colorClash) Cleanup(room *Room) {
	room.Mu.Lock()
	timers := room.Timers
	room.Mu.Unlock()
	if timers != nil {
		timers.Stop()
	}
}
