package internal_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/minigames/internal"
)

// TestNewRoom 測試創建新房間
func TestNewRoom(t *testing.T) {
	room := internal.NewRoom("ABCD", "handle-1", "小明")

	require.NotNil(t, room)
	assert.Equal(t, "ABCD", room.Code)
	assert.Equal(t, "handle-1", room.Host)
	assert.Equal(t, internal.StateLobby, room.State)
	assert.Equal(t, 1, room.PlayerCount())

	room.Mu.RLock()
	host := room.Players["handle-1"]
	room.Mu.RUnlock()

	require.NotNil(t, host)
	assert.True(t, host.IsHost)
	assert.Equal(t, "小明", host.Name)
}

// TestRoom_AddPlayer 測試加入玩家
func TestRoom_AddPlayer(t *testing.T) {
	tests := []struct {
		name      string
		setupRoom func() *internal.Room
		handle    string
		player    string
		validate  func(t *testing.T, room *internal.Room, err error)
	}{
		{
			name: "second player joins",
			setupRoom: func() *internal.Room {
				return internal.NewRoom("ABCD", "h1", "小明")
			},
			handle: "h2",
			player: "小華",
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.NoError(t, err)
				assert.Equal(t, 2, room.PlayerCount())

				room.Mu.RLock()
				p := room.Players["h2"]
				room.Mu.RUnlock()
				require.NotNil(t, p)
				assert.False(t, p.IsHost)
			},
		},
		{
			name: "duplicate name rejected",
			setupRoom: func() *internal.Room {
				return internal.NewRoom("ABCD", "h1", "小明")
			},
			handle: "h2",
			player: "小明",
			validate: func(t *testing.T, room *internal.Room, err error) {
				assert.ErrorIs(t, err, internal.ErrNameTaken)
				assert.Equal(t, 1, room.PlayerCount())
			},
		},
		{
			name: "disconnected player's name is not taken",
			setupRoom: func() *internal.Room {
				room := internal.NewRoom("ABCD", "h1", "小明")
				require.NoError(t, room.AddPlayer("h2", "小華"))
				_, ok := room.MarkDisconnected("h2")
				require.True(t, ok)
				return room
			},
			handle: "h3",
			player: "小華",
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.NoError(t, err)
				assert.Equal(t, 3, room.PlayerCount())
			},
		},
		{
			name: "room full",
			setupRoom: func() *internal.Room {
				room := internal.NewRoom("ABCD", "h0", "房主")
				for i := 1; i < internal.MaxRoomPlayers; i++ {
					require.NoError(t, room.AddPlayer(
						fmt.Sprintf("h%d", i),
						fmt.Sprintf("玩家%d", i)))
				}
				return room
			},
			handle: "h-extra",
			player: "晚到的人",
			validate: func(t *testing.T, room *internal.Room, err error) {
				assert.ErrorIs(t, err, internal.ErrRoomFull)
				assert.Equal(t, internal.MaxRoomPlayers, room.PlayerCount())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := tt.setupRoom()
			err := room.AddPlayer(tt.handle, tt.player)
			tt.validate(t, room, err)
		})
	}
}

// TestRoom_AddBot 測試加入機器人
func TestRoom_AddBot(t *testing.T) {
	room := internal.NewRoom("ABCD", "h1", "小明")

	botHandle, bot := internal.NewBot(room)
	require.NoError(t, room.AddBot(botHandle, bot))
	assert.Equal(t, 2, room.PlayerCount())

	room.Mu.RLock()
	p := room.Players[botHandle]
	room.Mu.RUnlock()
	require.NotNil(t, p)
	assert.True(t, p.IsBot)
	assert.NotEmpty(t, p.Difficulty)
	assert.NotEmpty(t, p.DiffEmoji)

	// 遊戲進行中不能加機器人
	game, ok := internal.LookupGame("reaction-race")
	require.True(t, ok)
	room.BeginGame(game)

	h2, b2 := internal.NewBot(room)
	assert.ErrorIs(t, room.AddBot(h2, b2), internal.ErrLobbyOnly)
	room.Destroy()
}

// TestRoom_RemoveBot 測試移除機器人
func TestRoom_RemoveBot(t *testing.T) {
	room := internal.NewRoom("ABCD", "h1", "小明")
	botHandle, bot := internal.NewBot(room)
	require.NoError(t, room.AddBot(botHandle, bot))

	// 不能用移除機器人的路徑移除人類
	assert.ErrorIs(t, room.RemoveBot("h1"), internal.ErrBotNotFound)
	assert.ErrorIs(t, room.RemoveBot("no-such-bot"), internal.ErrBotNotFound)

	require.NoError(t, room.RemoveBot(botHandle))
	assert.Equal(t, 1, room.PlayerCount())
}

// TestRoom_RemoveAndPromote 測試移除玩家與房主晉升
func TestRoom_RemoveAndPromote(t *testing.T) {
	tests := []struct {
		name      string
		setupRoom func(t *testing.T) *internal.Room
		remove    string
		validate  func(t *testing.T, room *internal.Room, res *internal.LeaveResult)
	}{
		{
			name: "host leaves, earliest human promoted",
			setupRoom: func(t *testing.T) *internal.Room {
				room := internal.NewRoom("ABCD", "h1", "小明")
				require.NoError(t, room.AddPlayer("h2", "小華"))
				require.NoError(t, room.AddPlayer("h3", "小美"))
				return room
			},
			remove: "h1",
			validate: func(t *testing.T, room *internal.Room, res *internal.LeaveResult) {
				require.NotNil(t, res)
				assert.Equal(t, "h2", res.NewHost)
				assert.False(t, res.Closed)
				assert.Equal(t, "h2", room.Host)

				room.Mu.RLock()
				defer room.Mu.RUnlock()
				assert.True(t, room.Players["h2"].IsHost)
			},
		},
		{
			name: "bots are skipped in promotion",
			setupRoom: func(t *testing.T) *internal.Room {
				room := internal.NewRoom("ABCD", "h1", "小明")
				botHandle, bot := internal.NewBot(room)
				require.NoError(t, room.AddBot(botHandle, bot))
				require.NoError(t, room.AddPlayer("h2", "小華"))
				return room
			},
			remove: "h1",
			validate: func(t *testing.T, room *internal.Room, res *internal.LeaveResult) {
				require.NotNil(t, res)
				assert.Equal(t, "h2", res.NewHost)
			},
		},
		{
			name: "last human leaves, room closes even with bots",
			setupRoom: func(t *testing.T) *internal.Room {
				room := internal.NewRoom("ABCD", "h1", "小明")
				botHandle, bot := internal.NewBot(room)
				require.NoError(t, room.AddBot(botHandle, bot))
				return room
			},
			remove: "h1",
			validate: func(t *testing.T, room *internal.Room, res *internal.LeaveResult) {
				require.NotNil(t, res)
				assert.True(t, res.Closed)
			},
		},
		{
			name: "non-host leaves, host unchanged",
			setupRoom: func(t *testing.T) *internal.Room {
				room := internal.NewRoom("ABCD", "h1", "小明")
				require.NoError(t, room.AddPlayer("h2", "小華"))
				return room
			},
			remove: "h2",
			validate: func(t *testing.T, room *internal.Room, res *internal.LeaveResult) {
				require.NotNil(t, res)
				assert.Empty(t, res.NewHost)
				assert.False(t, res.Closed)
				assert.Equal(t, "h1", room.Host)
			},
		},
		{
			name: "unknown handle is a no-op",
			setupRoom: func(t *testing.T) *internal.Room {
				return internal.NewRoom("ABCD", "h1", "小明")
			},
			remove: "nobody",
			validate: func(t *testing.T, room *internal.Room, res *internal.LeaveResult) {
				assert.Nil(t, res)
				assert.Equal(t, 1, room.PlayerCount())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := tt.setupRoom(t)
			res := room.RemoveAndPromote(tt.remove)
			tt.validate(t, room, res)
		})
	}
}

// rebindRecorder 記錄 Rebind 呼叫的假遊戲狀態
type rebindRecorder struct {
	oldHandle string
	newHandle string
}

func (r *rebindRecorder) CurrentPhase() string { return "question" }
func (r *rebindRecorder) CurrentRound() int    { return 1 }
func (r *rebindRecorder) Rebind(oldHandle, newHandle string) {
	r.oldHandle = oldHandle
	r.newHandle = newHandle
}

// TestRoom_RestorePlayer 測試重連還原
//
// 還原必須：換鍵、清斷線旗標、保留分數、轉移房主身份、
// 並把換鍵傳播到遊戲狀態。
func TestRoom_RestorePlayer(t *testing.T) {
	room := internal.NewRoom("ABCD", "h1", "小明")
	require.NoError(t, room.AddPlayer("h2", "小華"))

	room.Mu.Lock()
	room.Players["h1"].Score = 250
	room.Mu.Unlock()

	recorder := &rebindRecorder{}
	room.Mu.Lock()
	room.GameState = recorder
	room.Mu.Unlock()

	_, ok := room.MarkDisconnected("h1")
	require.True(t, ok)

	restored := room.RestorePlayer("h1", "h1-new")
	require.NotNil(t, restored)

	assert.Equal(t, "小明", restored.Name)
	assert.Equal(t, 250, restored.Score)
	assert.False(t, restored.Disconnected)
	assert.True(t, restored.IsHost)
	assert.Equal(t, "h1-new", room.Host)

	// 舊代號在所有結構中消失
	room.Mu.RLock()
	_, oldExists := room.Players["h1"]
	_, newExists := room.Players["h1-new"]
	room.Mu.RUnlock()
	assert.False(t, oldExists)
	assert.True(t, newExists)

	// 換鍵傳播到遊戲狀態
	assert.Equal(t, "h1", recorder.oldHandle)
	assert.Equal(t, "h1-new", recorder.newHandle)
}

// TestRoom_RestoreDisconnected 測試尋找加還原的單次持鎖複合操作
func TestRoom_RestoreDisconnected(t *testing.T) {
	room := internal.NewRoom("ABCD", "h1", "小明")
	require.NoError(t, room.AddPlayer("h2", "小華"))

	// 沒有斷線中的同名玩家：不還原
	_, ok := room.RestoreDisconnected("小華", "h2-new")
	assert.False(t, ok)

	_, marked := room.MarkDisconnected("h2")
	require.True(t, marked)

	oldHandle, ok := room.RestoreDisconnected("小華", "h2-new")
	require.True(t, ok)
	assert.Equal(t, "h2", oldHandle)

	room.Mu.RLock()
	p := room.Players["h2-new"]
	_, oldExists := room.Players["h2"]
	room.Mu.RUnlock()
	require.NotNil(t, p)
	assert.False(t, p.Disconnected)
	assert.False(t, oldExists)

	// 玩家已被最終移除：還原落空
	res := room.RemoveAndPromote("h2-new")
	require.NotNil(t, res)
	_, ok = room.RestoreDisconnected("小華", "h2-again")
	assert.False(t, ok)
}

// TestRoom_MarkDisconnected 測試斷線標記
func TestRoom_MarkDisconnected(t *testing.T) {
	room := internal.NewRoom("ABCD", "h1", "小明")
	botHandle, bot := internal.NewBot(room)
	require.NoError(t, room.AddBot(botHandle, bot))

	// 機器人不斷線
	_, graceStarted := room.MarkDisconnected(botHandle)
	assert.False(t, graceStarted)

	p, graceStarted := room.MarkDisconnected("h1")
	require.True(t, graceStarted)
	assert.True(t, p.Disconnected)

	// 不存在的代號
	_, graceStarted = room.MarkDisconnected("nobody")
	assert.False(t, graceStarted)
}

// TestRoom_FindDisconnected 測試斷線玩家查找（大小寫不敏感）
func TestRoom_FindDisconnected(t *testing.T) {
	room := internal.NewRoom("ABCD", "h1", "Alice")
	require.NoError(t, room.AddPlayer("h2", "Bob"))

	// 連線中的玩家不算
	_, found := room.FindDisconnected("Alice")
	assert.False(t, found)

	_, ok := room.MarkDisconnected("h1")
	require.True(t, ok)

	handle, found := room.FindDisconnected("ALICE")
	assert.True(t, found)
	assert.Equal(t, "h1", handle)
}

// TestRoom_SerializePlayers 測試玩家列表依加入順序序列化
func TestRoom_SerializePlayers(t *testing.T) {
	room := internal.NewRoom("ABCD", "h1", "小明")
	require.NoError(t, room.AddPlayer("h2", "小華"))
	require.NoError(t, room.AddPlayer("h3", "小美"))

	players := room.SerializePlayers()
	require.Len(t, players, 3)
	assert.Equal(t, "小明", players[0]["name"])
	assert.Equal(t, "小華", players[1]["name"])
	assert.Equal(t, "小美", players[2]["name"])
	assert.Equal(t, true, players[0]["isHost"])
	assert.Equal(t, "h2", players[1]["id"])
}

// TestRoom_BeginGameAndEndToLobby 測試遊戲狀態轉換
func TestRoom_BeginGameAndEndToLobby(t *testing.T) {
	room := internal.NewRoom("ABCD", "h1", "小明")
	require.NoError(t, room.AddPlayer("h2", "小華"))

	room.Mu.Lock()
	room.Players["h1"].Score = 999
	room.Mu.Unlock()

	game, ok := internal.LookupGame("tap-frenzy")
	require.True(t, ok)
	room.BeginGame(game)

	assert.Equal(t, internal.StatePlaying, room.CurrentState())

	room.Mu.RLock()
	assert.Zero(t, room.Players["h1"].Score) // 開局重置分數
	assert.NotNil(t, room.Timers)
	assert.NotNil(t, room.BotTimers)
	room.Mu.RUnlock()

	room.EndToLobby()
	assert.Equal(t, internal.StateLobby, room.CurrentState())

	room.Mu.RLock()
	assert.Nil(t, room.Game)
	assert.Nil(t, room.GameState)
	room.Mu.RUnlock()
}

// TestRoom_BeginGameReplacesTimerGroups 測試連續開局不殘留舊計時器
func TestRoom_BeginGameReplacesTimerGroups(t *testing.T) {
	room := internal.NewRoom("ABCD", "h1", "小明")
	require.NoError(t, room.AddPlayer("h2", "小華"))
	t.Cleanup(room.Destroy)

	game, ok := internal.LookupGame("tap-frenzy")
	require.True(t, ok)
	room.BeginGame(game)

	var stale atomic.Int32
	room.Timers.After(30*time.Millisecond, func() { stale.Add(1) })
	room.BotTimers.After(30*time.Millisecond, func() { stale.Add(1) })

	// 再次開局：上一局排程的回呼全數作廢
	room.BeginGame(game)

	var fresh atomic.Int32
	room.Timers.After(30*time.Millisecond, func() { fresh.Add(1) })

	assert.Eventually(t, func() bool {
		return fresh.Load() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, stale.Load())
}

// TestRoom_IsExpired 測試房間過期判定
func TestRoom_IsExpired(t *testing.T) {
	room := internal.NewRoom("ABCD", "h1", "小明")
	assert.False(t, room.IsExpired(time.Hour))
	assert.True(t, room.IsExpired(time.Nanosecond))
}
