package internal_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/koopa0/minigames/internal"
)

// TestTimerGroup_After 測試一次性計時器觸發
func TestTimerGroup_After(t *testing.T) {
	g := internal.NewTimerGroup()
	defer g.Stop()

	var fired atomic.Int32
	g.After(20*time.Millisecond, func() {
		fired.Add(1)
	})

	assert.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

// TestTimerGroup_StopCancelsPending 測試群組停止取消未觸發的計時器
func TestTimerGroup_StopCancelsPending(t *testing.T) {
	g := internal.NewTimerGroup()

	var fired atomic.Int32
	g.After(30*time.Millisecond, func() {
		fired.Add(1)
	})
	g.Every(10*time.Millisecond, func(*internal.GroupTicker) {
		fired.Add(1)
	})

	g.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

// TestTimerGroup_IndividualStop 測試個別取消不影響同組其他計時器
func TestTimerGroup_IndividualStop(t *testing.T) {
	g := internal.NewTimerGroup()
	defer g.Stop()

	var a, b atomic.Int32
	ta := g.After(30*time.Millisecond, func() { a.Add(1) })
	g.After(30*time.Millisecond, func() { b.Add(1) })

	ta.Stop()

	assert.Eventually(t, func() bool {
		return b.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, a.Load())
}

// TestTimerGroup_Every 測試週期計時器
func TestTimerGroup_Every(t *testing.T) {
	g := internal.NewTimerGroup()
	defer g.Stop()

	var ticks atomic.Int32
	ticker := g.Every(10*time.Millisecond, func(*internal.GroupTicker) {
		ticks.Add(1)
	})

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	// 個別停止後不再觸發
	ticker.Stop()
	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, ticks.Load(), settled+1) // 停止瞬間可能有一次已在途
}

// TestTimerGroup_EverySelfStop 測試回呼內自我停止
func TestTimerGroup_EverySelfStop(t *testing.T) {
	g := internal.NewTimerGroup()
	defer g.Stop()

	var ticks atomic.Int32
	g.Every(10*time.Millisecond, func(tk *internal.GroupTicker) {
		if ticks.Add(1) >= 2 {
			tk.Stop()
		}
	})

	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, ticks.Load(), int32(3))
}

// TestTimerGroup_StopIdempotent 測試重複停止安全
func TestTimerGroup_StopIdempotent(t *testing.T) {
	g := internal.NewTimerGroup()
	g.After(time.Hour, func() {})
	ticker := g.Every(time.Hour, func(*internal.GroupTicker) {})

	g.Stop()
	g.Stop()
	ticker.Stop()

	// 停止後的排程直接丟棄
	var fired atomic.Int32
	g.After(time.Millisecond, func() { fired.Add(1) })
	g.Every(time.Millisecond, func(*internal.GroupTicker) { fired.Add(1) })

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, fired.Load())
}
