// Package minigames 提供了一個房間制的多人派對小遊戲服務器。
//
// 實現了一個支援多房間、多玩家的即時遊戲平台，包含以下核心功能：
//
// # 房間與會話管理
//
// 提供完整的房間生命週期管理：
//   - 4 字元口頭分享代碼（去除易混淆字元）
//   - 斷線 30 秒重連寬限期，身份、分數與回合進度完整還原
//   - 房主斷線後依加入順序晉升最早的人類玩家
//   - 空房間與超過 2 小時的房間自動銷毀
//
// # 通用遊戲協議
//
// 多種回合制小遊戲共用一套協議：
//   - Game 介面（Init / OnEvent / Cleanup），派發層對遊戲完全無知
//   - 回合結束轉換以階段守衛保證冪等（超時與全員作答競態安全）
//   - GameState 的 Rebind 能力支援重連時的全面換鍵
//
// # 機器人模擬
//
// 房間人數不足時可加入機器人：
//   - 三檔難度（easy / medium / hard）只影響答對率與反應延遲
//   - 機器人走與真人完全相同的事件入口，遊戲模組無法分辨
//
// # WebSocket 通訊
//
// 實現了即時雙向通訊機制：
//   - 支援心跳檢測（Ping/Pong，54s/60s）
//   - 請求/回執（seq + ack）與房間廣播
//   - 非阻塞投遞，慢客戶端不拖累房間
package minigames
