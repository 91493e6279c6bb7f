package internal

import (
	"sync"
	"time"
)

// 系統設計問題：
//   遊戲模組與機器人層會產生大量計時器（回合超時、決策延遲、即時排行廣播），
//   房間關閉或遊戲提前結束時必須全部取消，否則舊計時器會在新回合中誤觸發。
//
// 核心挑戰：
//   1. 成組釋放：cleanup 一次取消該房間的所有計時器
//   2. 個別取消：回合提前結束時只取消該回合的超時計時器
//   3. 取消非即時：已排入佇列的回呼可能仍會執行，
//      因此所有回呼都必須在持鎖後重新驗證回合編號與階段守衛
//
// 設計方案：
//   ✅ TimerGroup - 作用域資源，遊戲 init 取得、cleanup 釋放
//   ✅ time.AfterFunc / time.Ticker - 標準庫排程原語
//   ✅ Stop 冪等 - 重複釋放安全

// TimerGroup 房間作用域的計時器群組
type TimerGroup struct {
	mu      sync.Mutex
	stopped bool
	timers  []*GroupTimer
	tickers []*GroupTicker
}

// GroupTimer 群組內的一次性計時器
type GroupTimer struct {
	timer *time.Timer
}

// Stop 取消計時器（個別取消）
//
// 注意：回呼可能已在執行中，呼叫端不得假設取消即時生效。
func (t *GroupTimer) Stop() {
	if t != nil && t.timer != nil {
		t.timer.Stop()
	}
}

// GroupTicker 群組內的週期計時器
type GroupTicker struct {
	stopOnce sync.Once
	done     chan struct{}
}

// Stop 停止週期計時器
func (t *GroupTicker) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() {
		close(t.done)
	})
}

// NewTimerGroup 創建計時器群組
func NewTimerGroup() *TimerGroup {
	return &TimerGroup{}
}

// After 排程一次性回呼
//
// 群組已停止時直接丟棄（視為「回合已結束」的無操作）。
func (g *TimerGroup) After(d time.Duration, fn func()) *GroupTimer {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return &GroupTimer{}
	}

	gt := &GroupTimer{}
	gt.timer = time.AfterFunc(d, func() {
		if g.isStopped() {
			return
		}
		fn()
	})
	g.timers = append(g.timers, gt)
	return gt
}

// Every 排程週期回呼（獨立 goroutine + ticker）
func (g *TimerGroup) Every(d time.Duration, fn func(t *GroupTicker)) *GroupTicker {
	g.mu.Lock()
	defer g.mu.Unlock()

	gt := &GroupTicker{done: make(chan struct{})}
	if g.stopped {
		gt.Stop()
		return gt
	}
	g.tickers = append(g.tickers, gt)

	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if g.isStopped() {
					return
				}
				fn(gt)
			case <-gt.done:
				return
			}
		}
	}()
	return gt
}

// Stop 取消群組內所有計時器（冪等）
func (g *TimerGroup) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	timers := g.timers
	tickers := g.tickers
	g.timers = nil
	g.tickers = nil
	g.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	for _, t := range tickers {
		t.Stop()
	}
}

// isStopped 檢查群組是否已停止
func (g *TimerGroup) isStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}
