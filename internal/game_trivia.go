package internal

import (
	"math/rand"
	"time"
)

// 益智快答：限時選擇題，答對計分，答得越快加成越高。
//
// 回合狀態機：question →（10 秒超時或全員作答）→ answer →（4 秒）→ 下一題
//
// 競態設計重點：
//   - 超時與「全員作答」可能同時觸發揭曉，以 answerShown 守衛保證只揭曉一次
//   - 提前揭曉時取消該回合的超時計時器（個別取消，不動整組），
//     即便取消不及，觸發後的回合編號比對也會讓舊計時器失效

const (
	triviaRounds      = 7
	triviaTimeLimit   = 10 * time.Second
	triviaAnswerHold  = 4 * time.Second
	triviaSpeedWindow = 10000 // 毫秒，速度加成計算基準
)

func init() {
	RegisterGame(&triviaBlitz{})
}

// triviaQuestion 單一題目
type triviaQuestion struct {
	Text    string
	Options []string
	Answer  int
}

// triviaQuestions 題庫。每局洗牌後取前七題。
var triviaQuestions = []triviaQuestion{
	{"哪顆行星被稱為「紅色星球」？", []string{"金星", "火星", "木星", "土星"}, 1},
	{"六邊形有幾條邊？", []string{"5", "6", "7", "8"}, 1},
	{"金的化學符號是什麼？", []string{"Go", "Gd", "Au", "Ag"}, 2},
	{"哪個海洋面積最大？", []string{"大西洋", "印度洋", "北冰洋", "太平洋"}, 3},
	{"鐵達尼號在哪一年沉沒？", []string{"1905", "1912", "1918", "1923"}, 1},
	{"成人人體有幾塊骨頭？", []string{"186", "206", "226", "256"}, 1},
	{"世界上最小的國家是？", []string{"摩納哥", "梵蒂岡", "馬爾他", "列支敦斯登"}, 1},
	{"原子序為 1 的元素是？", []string{"氦", "氧", "氫", "碳"}, 2},
	{"光速約為每秒多少公里？", []string{"150,000", "200,000", "300,000", "400,000"}, 2},
	{"披薩發源於哪個國家？", []string{"希臘", "法國", "義大利", "西班牙"}, 2},
	{"世界上最長的河流是？", []string{"亞馬遜河", "尼羅河", "長江", "密西西比河"}, 1},
	{"標準吉他有幾條弦？", []string{"4", "5", "6", "7"}, 2},
	{"植物從空氣中吸收什麼氣體？", []string{"氧氣", "氮氣", "二氧化碳", "氦氣"}, 2},
	{"第二次世界大戰在哪一年結束？", []string{"1943", "1944", "1945", "1946"}, 2},
	{"澳洲的首都是？", []string{"雪梨", "墨爾本", "坎培拉", "布里斯本"}, 2},
	{"哪種動物最高？", []string{"大象", "長頸鹿", "馬", "駱駝"}, 1},
	{"HTTP 的全稱是？", []string{"HyperText Transfer Protocol", "High Tech Transfer Program", "HyperText Transmission Port", "Home Tool Transfer Protocol"}, 0},
	{"地球有幾大洲？", []string{"5", "6", "7", "8"}, 2},
	{"哪顆行星的衛星最多？", []string{"木星", "土星", "天王星", "海王星"}, 1},
	{"最堅硬的天然物質是？", []string{"黃金", "鐵", "鑽石", "鉑金"}, 2},
}

// triviaAnswer 一位玩家的作答
type triviaAnswer struct {
	Choice int
	Millis int64
}

// triviaState 益智快答的回合狀態
type triviaState struct {
	questions     []triviaQuestion
	round         int
	totalRounds   int
	phase         string
	questionStart time.Time
	answers       map[string]triviaAnswer
	answerShown   bool
	roundTimer    *GroupTimer
}

func (s *triviaState) CurrentPhase() string { return s.phase }
func (s *triviaState) CurrentRound() int    { return s.round }

func (s *triviaState) Rebind(oldHandle, newHandle string) {
	swapMapKey(s.answers, oldHandle, newHandle)
}

type triviaBlitz struct{}

func (g *triviaBlitz) Info() GameInfo {
	return GameInfo{
		ID:          "trivia-blitz",
		Name:        "益智快答",
		Description: "搶答！答得快又準才能拿高分。",
		Icon:        "🧠",
		MinPlayers:  2,
		MaxPlayers:  20,
		Rounds:      triviaRounds,
	}
}

func (g *triviaBlitz) Init(room *Room, b Broadcaster) {
	room.Mu.Lock()
	defer room.Mu.Unlock()

	shuffled := make([]triviaQuestion, len(triviaQuestions))
	copy(shuffled, triviaQuestions)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	gs := &triviaState{
		questions:   shuffled[:triviaRounds],
		totalRounds: triviaRounds,
	}
	room.GameState = gs
	g.nextQuestionLocked(room, gs, b)
}

// nextQuestionLocked 出下一題（需持有房間鎖）
func (g *triviaBlitz) nextQuestionLocked(room *Room, gs *triviaState, b Broadcaster) {
	gs.round++
	gs.answers = make(map[string]triviaAnswer)
	gs.answerShown = false

	// 上一回合殘留的超時計時器先取消
	if gs.roundTimer != nil {
		gs.roundTimer.Stop()
		gs.roundTimer = nil
	}

	if gs.round > gs.totalRounds {
		g.endGameLocked(room, gs, b)
		return
	}

	q := gs.questions[gs.round-1]
	gs.phase = "question"
	gs.questionStart = time.Now()

	b.Broadcast(room.Code, "game:state", map[string]any{
		"phase":       "question",
		"round":       gs.round,
		"totalRounds": gs.totalRounds,
		"question":    q.Text,
		"options":     q.Options,
		"timeLimit":   int(triviaTimeLimit / time.Second),
	})

	// 回合編號快照：取消不及時，比對失敗即失效
	thisRound := gs.round
	gs.roundTimer = room.Timers.After(triviaTimeLimit, func() {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		if room.GameState != gs || gs.round != thisRound || gs.answerShown {
			return
		}
		g.showAnswerLocked(room, gs, b)
	})
}

func (g *triviaBlitz) OnEvent(room *Room, conn Conn, event string, data map[string]any, b Broadcaster) {
	room.Mu.Lock()
	defer room.Mu.Unlock()

	gs, ok := room.GameState.(*triviaState)
	if !ok || event != "answer" || gs.phase != "question" {
		return
	}
	handle := conn.Handle()
	if _, answered := gs.answers[handle]; answered {
		return
	}
	choice, ok := data["choice"].(float64)
	if !ok {
		return
	}

	gs.answers[handle] = triviaAnswer{
		Choice: int(choice),
		Millis: time.Since(gs.questionStart).Milliseconds(),
	}

	// 全體在線玩家皆已作答就提前揭曉
	if len(gs.answers) >= room.activePlayersLocked() && !gs.answerShown {
		g.showAnswerLocked(room, gs, b)
	}
}

// showAnswerLocked 揭曉答案並結算本題得分（需持有房間鎖）
//
// 階段守衛：先查後設 answerShown，超時與全員作答競態中先到者勝。
func (g *triviaBlitz) showAnswerLocked(room *Room, gs *triviaState, b Broadcaster) {
	if gs.answerShown || gs.phase == PhaseFinished {
		return
	}
	q := gs.questions[gs.round-1]

	gs.answerShown = true
	gs.phase = "answer"

	if gs.roundTimer != nil {
		gs.roundTimer.Stop()
		gs.roundTimer = nil
	}

	results := make([]map[string]any, 0, len(gs.answers))
	for handle, ans := range gs.answers {
		player := room.Players[handle]
		if player == nil {
			continue
		}
		correct := ans.Choice == q.Answer
		points := 0
		if correct {
			points = 100 + maxInt(0, int((triviaSpeedWindow-ans.Millis)/80))
			player.Score += points
		}
		results = append(results, map[string]any{
			"id":      handle,
			"name":    player.Name,
			"correct": correct,
			"points":  points,
			"time":    ans.Millis,
		})
	}
	sortByIntKeyDesc(results, "points")

	b.Broadcast(room.Code, "game:state", map[string]any{
		"phase":        "answer",
		"correctIndex": q.Answer,
		"correctText":  q.Options[q.Answer],
		"results":      results,
	})

	room.Timers.After(triviaAnswerHold, func() {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		if room.GameState != gs {
			return
		}
		g.nextQuestionLocked(room, gs, b)
	})
}

// endGameLocked 進入終態（需持有房間鎖）
func (g *triviaBlitz) endGameLocked(room *Room, gs *triviaState, b Broadcaster) {
	if gs.phase == PhaseFinished {
		return
	}
	gs.phase = PhaseFinished
	if gs.roundTimer != nil {
		gs.roundTimer.Stop()
		gs.roundTimer = nil
	}
	finishGameLocked(room, b)
}

func (g *triviaBlitz) Cleanup(room *Room) {
	room.Mu.Lock()
	timers := room.Timers
	room.Mu.Unlock()
	if timers != nil {
		timers.Stop()
	}
}
