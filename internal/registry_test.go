package internal_test

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/minigames/internal"
)

// recordedEvent 一次廣播記錄
type recordedEvent struct {
	Code  string
	Event string
	Data  map[string]any
}

// fakeNotifier 記錄所有廣播的假出口
type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeNotifier) Broadcast(code, event string, data map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Code: code, Event: event, Data: data})
}

func (f *fakeNotifier) eventsByType(event string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, e := range f.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestRegistry(t *testing.T, cfg internal.Config) (*internal.Registry, *fakeNotifier) {
	t.Helper()
	reg := internal.NewRegistry(testLogger(), cfg)
	t.Cleanup(reg.Stop)

	notifier := &fakeNotifier{}
	reg.SetNotifier(notifier)
	return reg, notifier
}

// TestRegistry_Create 測試創建房間
func TestRegistry_Create(t *testing.T) {
	tests := []struct {
		name     string
		player   string
		validate func(t *testing.T, room *internal.Room, err error)
	}{
		{
			name:   "valid name",
			player: "小明",
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.NoError(t, err)
				require.NotNil(t, room)
				assert.Len(t, room.Code, 4)
				// 代碼不含易混淆字元
				for _, c := range room.Code {
					assert.NotContains(t, "IO01", string(c))
				}
			},
		},
		{
			name:   "empty name rejected",
			player: "   ",
			validate: func(t *testing.T, room *internal.Room, err error) {
				assert.ErrorIs(t, err, internal.ErrInvalidName)
				assert.Nil(t, room)
			},
		},
		{
			name:   "name too long rejected",
			player: "這個名字實在是太長了完全超過二十個字元的上限",
			validate: func(t *testing.T, room *internal.Room, err error) {
				assert.ErrorIs(t, err, internal.ErrInvalidName)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newTestRegistry(t, internal.DefaultConfig())
			room, err := reg.Create("h1", tt.player)
			tt.validate(t, room, err)
		})
	}
}

// TestRegistry_CreateUniqueCodes 測試房間代碼不重複
func TestRegistry_CreateUniqueCodes(t *testing.T) {
	reg, _ := newTestRegistry(t, internal.DefaultConfig())

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		room, err := reg.Create(newHandleForTest(i), "玩家")
		require.NoError(t, err)
		assert.False(t, seen[room.Code], "代碼 %s 重複", room.Code)
		seen[room.Code] = true
	}
}

func newHandleForTest(i int) string {
	return string(rune('a'+i%26)) + string(rune('0'+i/26))
}

// TestRegistry_Join 測試加入房間
func TestRegistry_Join(t *testing.T) {
	reg, _ := newTestRegistry(t, internal.DefaultConfig())

	room, err := reg.Create("h1", "小明")
	require.NoError(t, err)

	t.Run("join with lowercase code", func(t *testing.T) {
		joined, err := reg.Join("h2", " "+lower(room.Code)+" ", "小華")
		require.NoError(t, err)
		assert.Equal(t, room.Code, joined.Code)
		assert.Equal(t, 2, joined.PlayerCount())
	})

	t.Run("room not found", func(t *testing.T) {
		_, err := reg.Join("h3", "ZZZZ", "小美")
		assert.ErrorIs(t, err, internal.ErrRoomNotFound)
	})

	t.Run("malformed code", func(t *testing.T) {
		_, err := reg.Join("h3", "AB", "小美")
		assert.ErrorIs(t, err, internal.ErrInvalidCode)
	})

	t.Run("reverse index", func(t *testing.T) {
		assert.Equal(t, room, reg.RoomByHandle("h1"))
		assert.Equal(t, room, reg.RoomByHandle("h2"))
		assert.Nil(t, reg.RoomByHandle("stranger"))
	})
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// TestRegistry_DisconnectAndRejoin 測試斷線後重連還原
//
// 斷線 → 寬限期開始 → 同名重連 → 身份還原到新代號、寬限取消。
func TestRegistry_DisconnectAndRejoin(t *testing.T) {
	reg, _ := newTestRegistry(t, internal.Config{
		GracePeriod: time.Minute, // 測試中不會到期
		RoomTTL:     time.Hour,
	})

	room, err := reg.Create("h1", "小明")
	require.NoError(t, err)
	_, err = reg.Join("h2", room.Code, "小華")
	require.NoError(t, err)

	room.Mu.Lock()
	room.Players["h1"].Score = 300
	room.Mu.Unlock()

	_, graceStarted := reg.Disconnect("h1")
	require.True(t, graceStarted)
	assert.True(t, reg.HasGrace("h1"))

	rejoined, restored, err := reg.Rejoin("h1-new", room.Code, "小明")
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, room, rejoined)
	assert.False(t, reg.HasGrace("h1"))

	// 身份還原：分數保留、房主轉移、舊代號索引清除
	room.Mu.RLock()
	p := room.Players["h1-new"]
	_, oldExists := room.Players["h1"]
	room.Mu.RUnlock()
	require.NotNil(t, p)
	assert.Equal(t, 300, p.Score)
	assert.True(t, p.IsHost)
	assert.False(t, oldExists)
	assert.Nil(t, reg.RoomByHandle("h1"))
	assert.Equal(t, room, reg.RoomByHandle("h1-new"))
}

// TestRegistry_RejoinFallback 測試無可還原身份時的退回行為
func TestRegistry_RejoinFallback(t *testing.T) {
	reg, _ := newTestRegistry(t, internal.DefaultConfig())

	room, err := reg.Create("h1", "小明")
	require.NoError(t, err)

	t.Run("lobby falls back to fresh join", func(t *testing.T) {
		joined, restored, err := reg.Rejoin("h2", room.Code, "新人")
		require.NoError(t, err)
		assert.False(t, restored)
		assert.Equal(t, 2, joined.PlayerCount())
	})

	t.Run("playing room rejects new players", func(t *testing.T) {
		game, ok := internal.LookupGame("reaction-race")
		require.True(t, ok)
		room.BeginGame(game)
		defer room.EndToLobby()

		_, _, err := reg.Rejoin("h3", room.Code, "闖入者")
		assert.ErrorIs(t, err, internal.ErrGameInProgress)
	})
}

// TestRegistry_GraceExpiry 測試寬限到期的最終移除
func TestRegistry_GraceExpiry(t *testing.T) {
	reg, notifier := newTestRegistry(t, internal.Config{
		GracePeriod: 50 * time.Millisecond,
		RoomTTL:     time.Hour,
	})

	room, err := reg.Create("h1", "小明")
	require.NoError(t, err)
	_, err = reg.Join("h2", room.Code, "小華")
	require.NoError(t, err)

	_, graceStarted := reg.Disconnect("h2")
	require.True(t, graceStarted)

	// 等待寬限到期
	assert.Eventually(t, func() bool {
		return room.PlayerCount() == 1
	}, time.Second, 10*time.Millisecond)

	assert.False(t, reg.HasGrace("h2"))
	assert.Nil(t, reg.RoomByHandle("h2"))

	left := notifier.eventsByType("room:playerLeft")
	require.NotEmpty(t, left)
	assert.Equal(t, room.Code, left[0].Code)
}

// TestRegistry_GraceExpiryEndsGame 測試最後一位人類寬限到期後強制結束遊戲
func TestRegistry_GraceExpiryEndsGame(t *testing.T) {
	reg, notifier := newTestRegistry(t, internal.Config{
		GracePeriod: 50 * time.Millisecond,
		RoomTTL:     time.Hour,
	})

	room, err := reg.Create("h1", "小明")
	require.NoError(t, err)
	_, err = reg.Join("h2", room.Code, "小華")
	require.NoError(t, err)
	botHandle, bot := internal.NewBot(room)
	require.NoError(t, room.AddBot(botHandle, bot))
	reg.IndexBot(botHandle, room.Code)

	game, ok := internal.LookupGame("tap-frenzy")
	require.True(t, ok)
	room.BeginGame(game)

	// 兩位人類先後斷線，機器人不該自己玩下去
	reg.Disconnect("h1")
	reg.Disconnect("h2")

	assert.Eventually(t, func() bool {
		return room.CurrentState() == internal.StateLobby
	}, time.Second, 10*time.Millisecond)

	lobby := notifier.eventsByType("room:lobby")
	require.NotEmpty(t, lobby)
	assert.Contains(t, lobby[0].Data["message"], "人數不足")
}

// TestRegistry_RejoinCancelsGraceTimer 測試重連與寬限到期的競態
func TestRegistry_RejoinCancelsGraceTimer(t *testing.T) {
	reg, notifier := newTestRegistry(t, internal.Config{
		GracePeriod: 80 * time.Millisecond,
		RoomTTL:     time.Hour,
	})

	room, err := reg.Create("h1", "小明")
	require.NoError(t, err)
	_, err = reg.Join("h2", room.Code, "小華")
	require.NoError(t, err)

	reg.Disconnect("h2")

	// 寬限期內重連
	_, restored, err := reg.Rejoin("h2-new", room.Code, "小華")
	require.NoError(t, err)
	require.True(t, restored)

	// 原本的到期時間過後，玩家仍然在房內
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, room.PlayerCount())
	assert.Empty(t, notifier.eventsByType("room:playerLeft"))
}

// TestRegistry_DisconnectDuringScoring 測試斷線處理與遊戲計分的並發
//
// 遊戲計時器持房間鎖改寫分數的同時處理斷線，
// 斷線側只能使用持鎖期間複製的玩家快照。
func TestRegistry_DisconnectDuringScoring(t *testing.T) {
	reg, _ := newTestRegistry(t, internal.Config{
		GracePeriod: time.Minute,
		RoomTTL:     time.Hour,
	})

	room, err := reg.Create("h1", "小明")
	require.NoError(t, err)
	_, err = reg.Join("h2", room.Code, "小華")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			room.Mu.Lock()
			if p := room.Players["h2"]; p != nil {
				p.Score += 10
			}
			room.Mu.Unlock()
		}
	}()

	_, graceStarted := reg.Disconnect("h2")
	require.True(t, graceStarted)
	<-done

	assert.True(t, reg.HasGrace("h2"))
	room.Mu.RLock()
	assert.Equal(t, 20000, room.Players["h2"].Score)
	room.Mu.RUnlock()
}

// TestRegistry_RejoinAfterGraceFinalized 測試還原與最終移除的競態
//
// 舊代號在重連處理前已被寬限到期移除時，不得回報已還原：
// 大廳退回一般加入，遊戲進行中拒絕且不留任何索引殘骸。
func TestRegistry_RejoinAfterGraceFinalized(t *testing.T) {
	reg, _ := newTestRegistry(t, internal.Config{
		GracePeriod: time.Minute,
		RoomTTL:     time.Hour,
	})

	room, err := reg.Create("h1", "小明")
	require.NoError(t, err)

	t.Run("lobby falls back to fresh join", func(t *testing.T) {
		_, err := reg.Join("h2", room.Code, "小華")
		require.NoError(t, err)
		reg.Disconnect("h2")
		// 寬限到期已完成移除
		require.NotNil(t, reg.FinalizeLeave("h2", room.Code))

		joined, restored, err := reg.Rejoin("h2-new", room.Code, "小華")
		require.NoError(t, err)
		assert.False(t, restored)
		assert.Equal(t, room, joined)
		assert.Equal(t, room, reg.RoomByHandle("h2-new"))
	})

	t.Run("playing room rejects and leaves no index", func(t *testing.T) {
		_, err := reg.Join("h3", room.Code, "小美")
		require.NoError(t, err)

		game, ok := internal.LookupGame("reaction-race")
		require.True(t, ok)
		room.BeginGame(game)
		defer room.EndToLobby()

		reg.Disconnect("h3")
		require.NotNil(t, reg.FinalizeLeave("h3", room.Code))

		_, _, err = reg.Rejoin("h3-new", room.Code, "小美")
		assert.ErrorIs(t, err, internal.ErrGameInProgress)
		assert.Nil(t, reg.RoomByHandle("h3-new"))
	})
}

// TestRegistry_Leave 測試顯式離開
func TestRegistry_Leave(t *testing.T) {
	reg, _ := newTestRegistry(t, internal.DefaultConfig())

	room, err := reg.Create("h1", "小明")
	require.NoError(t, err)
	_, err = reg.Join("h2", room.Code, "小華")
	require.NoError(t, err)

	left, res := reg.Leave("h1")
	require.NotNil(t, res)
	assert.Equal(t, room, left)
	assert.Equal(t, "h2", res.NewHost)
	assert.Nil(t, reg.RoomByHandle("h1"))

	// 最後一人離開，房間銷毀
	_, res = reg.Leave("h2")
	require.NotNil(t, res)
	assert.True(t, res.Closed)
	assert.Nil(t, reg.RoomByCode(room.Code))
}

// TestRegistry_FinalizeLeaveIdempotent 測試最終移除的冪等性
func TestRegistry_FinalizeLeaveIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t, internal.Config{
		GracePeriod: time.Minute,
		RoomTTL:     time.Hour,
	})

	room, err := reg.Create("h1", "小明")
	require.NoError(t, err)
	_, err = reg.Join("h2", room.Code, "小華")
	require.NoError(t, err)

	// 未斷線的玩家不能被最終移除
	assert.Nil(t, reg.FinalizeLeave("h2", room.Code))

	reg.Disconnect("h2")
	res := reg.FinalizeLeave("h2", room.Code)
	require.NotNil(t, res)
	assert.Equal(t, "小華", res.Removed.Name)

	// 重複呼叫為無操作
	assert.Nil(t, reg.FinalizeLeave("h2", room.Code))
}

// TestRegistry_Cleanup 測試過期房間回收
func TestRegistry_Cleanup(t *testing.T) {
	reg, _ := newTestRegistry(t, internal.Config{
		GracePeriod: time.Minute,
		RoomTTL:     time.Nanosecond, // 立即過期
	})

	room, err := reg.Create("h1", "小明")
	require.NoError(t, err)

	reg.Cleanup()
	assert.Nil(t, reg.RoomByCode(room.Code))
	assert.Nil(t, reg.RoomByHandle("h1"))
}

// TestRegistry_Stats 測試統計資訊
func TestRegistry_Stats(t *testing.T) {
	reg, _ := newTestRegistry(t, internal.DefaultConfig())

	room, err := reg.Create("h1", "小明")
	require.NoError(t, err)
	_, err = reg.Join("h2", room.Code, "小華")
	require.NoError(t, err)

	stats := reg.Stats()
	assert.Equal(t, 1, stats["total_rooms"])
	assert.Equal(t, 2, stats["total_players"])
}
