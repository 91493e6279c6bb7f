package internal

// 錯誤分類設計：
//   生命週期操作（創建、加入、重連）的錯誤必須以結構化形式回傳給呼叫端，
//   不允許跨越派發層拋出 panic。每個錯誤攜帶一個穩定的 wire code，
//   客戶端依 code 判斷行為，訊息僅供顯示。
//
//   遊戲內事件（錯誤階段、重複作答、未知選項）不屬於這個分類：
//   它們是正常的競態，直接靜默丟棄，不回傳錯誤。

// Error 帶有 wire code 的領域錯誤
type Error struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

// Error 實現 error 介面
func (e *Error) Error() string {
	return e.Message
}

// 錯誤分類：
//   - InvalidInput：格式錯誤的名稱 / 代碼 / 負載
//   - NotFound：房間或機器人不存在
//   - Conflict：名稱重複、房間已滿、遊戲進行中
//   - Unauthorized：非房主執行房主操作
var (
	// InvalidInput
	ErrInvalidName = &Error{Code: "invalid_name", Message: "名稱無效"}
	ErrInvalidCode = &Error{Code: "invalid_code", Message: "房間代碼無效"}

	// NotFound
	ErrRoomNotFound = &Error{Code: "room_not_found", Message: "房間不存在"}
	ErrNotInRoom    = &Error{Code: "not_in_room", Message: "玩家不在任何房間內"}
	ErrBotNotFound  = &Error{Code: "bot_not_found", Message: "機器人不存在"}
	ErrUnknownGame  = &Error{Code: "unknown_game", Message: "未知的遊戲"}

	// Conflict
	ErrNameTaken      = &Error{Code: "name_taken", Message: "名稱已被使用"}
	ErrRoomFull       = &Error{Code: "room_full", Message: "房間已滿"}
	ErrGameInProgress = &Error{Code: "game_in_progress", Message: "遊戲進行中，無法加入"}
	ErrNeedPlayers    = &Error{Code: "need_players", Message: "至少需要 2 名玩家"}
	ErrLobbyOnly      = &Error{Code: "lobby_only", Message: "只能在大廳執行此操作"}

	// Unauthorized
	ErrNotHost = &Error{Code: "not_host", Message: "只有房主可以執行此操作"}
)

// errorPayload 將錯誤轉為 ack 負載
func errorPayload(err error) map[string]any {
	if de, ok := err.(*Error); ok {
		return map[string]any{"error": de.Message, "code": de.Code}
	}
	return map[string]any{"error": err.Error(), "code": "internal"}
}
