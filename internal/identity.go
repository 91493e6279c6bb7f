package internal

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 系統設計問題：
//   如何產生玩家可以口頭傳遞的短房間代碼，又不與現有房間衝突？
//
// 設計方案：
//   ✅ 4 字元代碼 - 足夠口頭分享（32^4 ≈ 100 萬組合）
//   ✅ 去除易混淆字元 - 不含 I、O、0、1（手機上難以分辨）
//   ✅ 拒絕取樣 - 與現存房間碰撞時直接重試
//   ✅ UUID 連線代號 - 每條連線一個，重連後必然換新

// codeAlphabet 房間代碼字母表（排除 I、O、0、1）
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// codeLength 房間代碼長度
const codeLength = 4

// newHandle 產生連線代號
//
// 連線代號是玩家在所有資料結構中的鍵。它與連線同生共死：
// 重連後必定拿到新代號，因此重連必須透過身份重映射（見 registry.go）。
func newHandle() string {
	return uuid.NewString()
}

// randomCode 產生一組候選房間代碼（不檢查碰撞）
func randomCode() string {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		// 隨機讀取失敗時退回時間戳
		ts := time.Now().UnixNano()
		for i := range b {
			b[i] = codeAlphabet[int(ts>>uint(i*5))&31]
		}
		return string(b)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// validCode 檢查代碼格式（長度與字母表）
func validCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		found := false
		for j := 0; j < len(codeAlphabet); j++ {
			if code[i] == codeAlphabet[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// newBotHandle 產生機器人代號
//
// 帶 bot- 前綴以便除錯時一眼分辨，計數器保證同房間內不重複。
func newBotHandle(counter int64) string {
	return fmt.Sprintf("bot-%d-%d", counter, time.Now().UnixNano())
}
