package internal

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"
)

// 系統設計問題：
//   房間人數不足時，如何讓機器人「像玩家一樣」參與遊戲，
//   而遊戲模組完全不必知道對手是真人還是程式？
//
// 核心挑戰：
//   1. 零侵入：機器人走與真人完全相同的 OnEvent 入口，遊戲模組無法分辨
//   2. 跨回合存活：每個機器人一條持續輪詢迴圈，觀察階段變化自行決策，
//      不依賴遊戲模組主動通知
//   3. 延遲決策的競態：排程時的狀態到觸發時可能已過期，
//      觸發前必須重新驗證階段 / 回合 / 是否已作答
//
// 設計方案：
//   ✅ botConn - 空輸出的 Conn 實現，私發確認直接丟棄
//   ✅ 難度參數化 - easy / medium / hard 只影響答對率與延遲分佈
//   ✅ BotTimers 群組 - 機器人計時器獨立成組，回大廳時整組強制釋放

// botNames 機器人名字池
var botNames = []string{
	"RoboChamp", "PixelPal", "ByteBot", "NeonNinja", "TurboTap",
	"GlitchKing", "LazerFox", "CyberPunk", "BotBoss", "MegaByte",
	"ZapMaster", "DataDog", "WiFiWiz", "ClickBot", "SpeedyAI",
	"RoboRex", "BitBlitz", "CodeCat", "QuantumQ", "SteelSam",
}

// Difficulty 機器人難度
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

var difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

var diffEmoji = map[Difficulty]string{
	DifficultyEasy:   "🟢",
	DifficultyMedium: "🟡",
	DifficultyHard:   "🔴",
}

// botCounter 全域機器人流水號
var botCounter atomic.Int64

// NewBot 產生一個機器人玩家與其代號
//
// 名字從池中挑未被占用的；池耗盡時退回流水號命名。
func NewBot(room *Room) (string, *Player) {
	n := botCounter.Add(1)
	handle := newBotHandle(n)

	used := make(map[string]struct{})
	room.Mu.RLock()
	for _, p := range room.Players {
		used[p.Name] = struct{}{}
	}
	room.Mu.RUnlock()

	available := make([]string, 0, len(botNames))
	for _, name := range botNames {
		if _, taken := used[name]; !taken {
			available = append(available, name)
		}
	}
	name := fmt.Sprintf("Bot%d", n)
	if len(available) > 0 {
		name = available[rand.Intn(len(available))]
	}

	diff := difficulties[rand.Intn(len(difficulties))]
	return handle, &Player{
		Name:       name,
		IsBot:      true,
		Difficulty: string(diff),
		DiffEmoji:  diffEmoji[diff],
		JoinedAt:   time.Now(),
	}
}

// botConn 機器人的空輸出連線
type botConn struct {
	handle string
}

func (c *botConn) Handle() string { return c.handle }

func (c *botConn) Emit(event string, data map[string]any) {}

// diffRange 按難度取對應區間並均勻取樣（毫秒）
func diffRange(d Difficulty, easy, med, hard [2]int) time.Duration {
	r := hard
	switch d {
	case DifficultyEasy:
		r = easy
	case DifficultyMedium:
		r = med
	}
	return randMillis(r[0], r[1])
}

// diffChance 按難度擲一次成功判定
func diffChance(d Difficulty, easy, med, hard float64) bool {
	p := hard
	switch d {
	case DifficultyEasy:
		p = easy
	case DifficultyMedium:
		p = med
	}
	return rand.Float64() < p
}

// StartBots 為房間內所有機器人啟動觀察迴圈
//
// 在遊戲 Init 之後呼叫。每個機器人按遊戲類型取得一條輪詢迴圈，
// 迴圈掛在 room.BotTimers 上，回大廳或房間關閉時整組釋放。
func StartBots(room *Room, b Broadcaster) {
	room.Mu.RLock()
	game := room.Game
	var bots []struct {
		handle string
		diff   Difficulty
	}
	for handle, p := range room.Players {
		if p.IsBot {
			bots = append(bots, struct {
				handle string
				diff   Difficulty
			}{handle, Difficulty(p.Difficulty)})
		}
	}
	room.Mu.RUnlock()

	if game == nil || len(bots) == 0 {
		return
	}

	for _, bot := range bots {
		conn := &botConn{handle: bot.handle}
		switch game.Info().ID {
		case "reaction-race":
			startReactionBot(room, game, b, conn, bot.diff)
		case "trivia-blitz":
			startTriviaBot(room, game, b, conn, bot.diff)
		case "tap-frenzy":
			startTapBot(room, game, b, conn, bot.diff)
		case "color-clash":
			startColorClashBot(room, game, b, conn, bot.diff)
		case "emoji-match":
			startEmojiBot(room, game, b, conn, bot.diff)
		}
	}
}

// startReactionBot 反應競速：盯住 go 階段，按難度延遲後出手
func startReactionBot(room *Room, game Game, b Broadcaster, conn *botConn, diff Difficulty) {
	acted := false
	room.BotTimers.Every(100*time.Millisecond, func(t *GroupTicker) {
		room.Mu.RLock()
		gs, ok := room.GameState.(*reactionState)
		if !ok || gs.phase == PhaseFinished {
			room.Mu.RUnlock()
			t.Stop()
			return
		}

		// 新回合重置行動旗標
		if gs.phase == "ready" {
			acted = false
			room.Mu.RUnlock()
			return
		}

		_, tapped := gs.tapped[conn.handle]
		ready := gs.phase == "go" && !acted && !tapped
		room.Mu.RUnlock()
		if !ready {
			return
		}
		acted = true

		delay := diffRange(diff, [2]int{400, 900}, [2]int{220, 500}, [2]int{130, 300})
		room.BotTimers.After(delay, func() {
			// 觸發前重新驗證：回合可能已提前結束
			room.Mu.RLock()
			cur, ok := room.GameState.(*reactionState)
			stale := !ok || cur != gs || cur.phase != "go"
			if !stale {
				_, done := cur.tapped[conn.handle]
				stale = done
			}
			room.Mu.RUnlock()
			if stale {
				return
			}
			game.OnEvent(room, conn, "tap", nil, b)
		})
	})
}

// startTriviaBot 益智快答：每題按答對率決定選項，延遲後作答
func startTriviaBot(room *Room, game Game, b Broadcaster, conn *botConn, diff Difficulty) {
	lastRound := 0
	room.BotTimers.Every(200*time.Millisecond, func(t *GroupTicker) {
		room.Mu.RLock()
		gs, ok := room.GameState.(*triviaState)
		if !ok || gs.phase == PhaseFinished {
			room.Mu.RUnlock()
			t.Stop()
			return
		}
		_, answered := gs.answers[conn.handle]
		if gs.phase != "question" || gs.round == lastRound || answered {
			room.Mu.RUnlock()
			return
		}
		lastRound = gs.round
		q := gs.questions[gs.round-1]
		room.Mu.RUnlock()

		choice := q.Answer
		if !diffChance(diff, 0.4, 0.7, 0.92) {
			choice = randomWrong(q.Answer, len(q.Options))
		}
		delay := diffRange(diff, [2]int{4000, 8000}, [2]int{2000, 5000}, [2]int{800, 2500})

		room.BotTimers.After(delay, func() {
			room.Mu.RLock()
			cur, ok := room.GameState.(*triviaState)
			stale := !ok || cur != gs || cur.phase != "question"
			if !stale {
				_, done := cur.answers[conn.handle]
				stale = done
			}
			room.Mu.RUnlock()
			if stale {
				return
			}
			game.OnEvent(room, conn, "answer", map[string]any{"choice": float64(choice)}, b)
		})
	})
}

// randomWrong 從錯誤選項中隨機挑一個
func randomWrong(correctIdx, total int) int {
	idx := correctIdx
	for idx == correctIdx {
		idx = rand.Intn(total)
	}
	return idx
}

// startTapBot 狂點大賽：tapping 階段按難度決定的頻率連點
func startTapBot(room *Room, game Game, b Broadcaster, conn *botConn, diff Difficulty) {
	lastRound := 0
	room.BotTimers.Every(100*time.Millisecond, func(t *GroupTicker) {
		room.Mu.RLock()
		gs, ok := room.GameState.(*tapState)
		if !ok || gs.phase == PhaseFinished {
			room.Mu.RUnlock()
			t.Stop()
			return
		}
		if gs.phase != "tapping" || gs.round == lastRound {
			room.Mu.RUnlock()
			return
		}
		lastRound = gs.round
		room.Mu.RUnlock()

		// 每秒點擊數換算成間隔，點擊迴圈在階段變化時自行停止
		tps := int(diffRange(diff, [2]int{3, 5}, [2]int{6, 9}, [2]int{10, 15}) / time.Millisecond)
		interval := time.Second / time.Duration(maxInt(1, tps))
		if interval < 50*time.Millisecond {
			interval = 50 * time.Millisecond
		}

		room.BotTimers.Every(interval, func(tap *GroupTicker) {
			room.Mu.RLock()
			cur, ok := room.GameState.(*tapState)
			stopped := !ok || cur != gs || cur.phase != "tapping"
			room.Mu.RUnlock()
			if stopped {
				tap.Stop()
				return
			}
			game.OnEvent(room, conn, "tap", nil, b)
		})
	})
}

// startEmojiBot 翻牌配對：記住出現過的牌，輪到自己時憑記憶或亂翻兩張
//
// 機器人的記憶與行動旗標只在輪詢迴圈這條 goroutine 裡讀寫，
// 延遲回呼僅使用排程當下擷取的位置。
func startEmojiBot(room *Room, game Game, b Broadcaster, conn *botConn, diff Difficulty) {
	memory := make(map[int]string)
	lastRound := 0
	lastPick := -1
	acted := false

	room.BotTimers.Every(300*time.Millisecond, func(t *GroupTicker) {
		room.Mu.RLock()
		gs, ok := room.GameState.(*emojiState)
		if !ok || gs.phase == PhaseFinished {
			room.Mu.RUnlock()
			t.Stop()
			return
		}

		// 新回合：新牌面，記憶作廢
		if gs.round != lastRound {
			lastRound = gs.round
			memory = make(map[int]string)
			lastPick = -1
			acted = false
		}
		if gs.currentTurn != conn.handle {
			acted = false
			room.Mu.RUnlock()
			return
		}
		// 配對成功續翻：上一組已翻開且結果展示結束，才能再行動
		if acted && lastPick >= 0 && lastPick < len(gs.revealed) &&
			gs.revealed[lastPick] && !gs.locked && gs.firstPick < 0 {
			acted = false
		}
		if gs.phase != "playing" || gs.locked || acted {
			room.Mu.RUnlock()
			return
		}
		acted = true

		var unrevealed []int
		for i, done := range gs.revealed {
			if !done {
				unrevealed = append(unrevealed, i)
			}
		}
		if len(unrevealed) < 2 {
			room.Mu.RUnlock()
			return
		}

		// 憑記憶找已知的配對；想不起來（或記性差）就亂翻
		pick1, pick2 := -1, -1
		if diffChance(diff, 0.2, 0.55, 0.85) {
			byEmoji := make(map[string][]int)
			for idx, emoji := range memory {
				if idx < len(gs.revealed) && !gs.revealed[idx] {
					byEmoji[emoji] = append(byEmoji[emoji], idx)
				}
			}
			for _, indices := range byEmoji {
				if len(indices) >= 2 {
					pick1, pick2 = indices[0], indices[1]
					break
				}
			}
		}
		if pick1 < 0 {
			rand.Shuffle(len(unrevealed), func(i, j int) {
				unrevealed[i], unrevealed[j] = unrevealed[j], unrevealed[i]
			})
			pick1, pick2 = unrevealed[0], unrevealed[1]
		}

		// 翻過即記住（牌面整回合不變，排程當下先記）
		memory[pick1] = gs.board[pick1]
		memory[pick2] = gs.board[pick2]
		lastPick = pick1
		room.Mu.RUnlock()

		delay1 := diffRange(diff, [2]int{1200, 2000}, [2]int{700, 1200}, [2]int{400, 700})
		delay2 := diffRange(diff, [2]int{800, 1500}, [2]int{500, 900}, [2]int{300, 600})

		room.BotTimers.After(delay1, func() {
			room.Mu.RLock()
			cur, ok := room.GameState.(*emojiState)
			stale := !ok || cur != gs || cur.phase != "playing" ||
				cur.currentTurn != conn.handle || cur.locked
			room.Mu.RUnlock()
			if stale {
				return
			}
			game.OnEvent(room, conn, "flip", map[string]any{"index": float64(pick1)}, b)

			room.BotTimers.After(delay2, func() {
				room.Mu.RLock()
				cur, ok := room.GameState.(*emojiState)
				stale := !ok || cur != gs || cur.phase != "playing" ||
					cur.currentTurn != conn.handle || cur.firstPick < 0
				room.Mu.RUnlock()
				if stale {
					return
				}
				game.OnEvent(room, conn, "flip", map[string]any{"index": float64(pick2)}, b)
			})
		})
	})
}

// startColorClashBot 色彩衝突：答錯時選字義，重演經典史楚普錯誤
func startColorClashBot(room *Room, game Game, b Broadcaster, conn *botConn, diff Difficulty) {
	lastRound := 0
	room.BotTimers.Every(150*time.Millisecond, func(t *GroupTicker) {
		room.Mu.RLock()
		gs, ok := room.GameState.(*colorState)
		if !ok || gs.phase == PhaseFinished {
			room.Mu.RUnlock()
			t.Stop()
			return
		}
		_, answered := gs.answers[conn.handle]
		if gs.phase != "showing" || gs.round == lastRound || answered {
			room.Mu.RUnlock()
			return
		}
		lastRound = gs.round
		ink, word := gs.inkColor, gs.word
		room.Mu.RUnlock()

		choice := ink
		if !diffChance(diff, 0.5, 0.75, 0.93) {
			choice = word
		}
		delay := diffRange(diff, [2]int{2000, 4000}, [2]int{1000, 2500}, [2]int{400, 1200})

		room.BotTimers.After(delay, func() {
			room.Mu.RLock()
			cur, ok := room.GameState.(*colorState)
			stale := !ok || cur != gs || cur.phase != "showing"
			if !stale {
				_, done := cur.answers[conn.handle]
				stale = done
			}
			room.Mu.RUnlock()
			if stale {
				return
			}
			game.OnEvent(room, conn, "answer", map[string]any{"choice": choice}, b)
		})
	})
}
