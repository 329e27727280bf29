package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds the operator-facing strings of the gateway.
type Messages struct {
	// System
	Starting         string
	ConfigLoaded     string
	ServerListening  string
	ShuttingDown     string
	ShutdownComplete string
	ConfigLoadFailed string
	APIServerError   string
	PublisherEnabled string
	AuthEnabled      string
	AuthDisabled     string

	// Request rejections, keyed by reason
	MarketClosed     string
	DuplicateOrderID string
	OrderNotFound    string
	UnknownResponse  string
	InvalidOrder     string
	Internal         string

	// API
	InvalidRequestBody string
	Unauthorized       string
	RateLimited        string
}

var (
	mu          sync.RWMutex
	currentLang = LangEN
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	Starting:         "Starting order gateway...",
	ConfigLoaded:     "Config loaded (addr: %s, window: %s-%s %s)",
	ServerListening:  "Server listening on %s",
	ShuttingDown:     "Shutting down gracefully...",
	ShutdownComplete: "Shutdown complete",
	ConfigLoadFailed: "Failed to load config: %v",
	APIServerError:   "API server error: %v",
	PublisherEnabled: "Publishing events to kafka topic %s",
	AuthEnabled:      "JWT auth enabled for order entry",
	AuthDisabled:     "JWT auth disabled (JWT_SECRET empty)",

	MarketClosed:     "market is closed",
	DuplicateOrderID: "order id is already in use",
	OrderNotFound:    "order is not pending",
	UnknownResponse:  "response does not match any in-flight order",
	InvalidOrder:     "order is invalid",
	Internal:         "internal error",

	InvalidRequestBody: "invalid request body",
	Unauthorized:       "unauthorized",
	RateLimited:        "too many requests",
}

// Chinese messages
var messagesZH = Messages{
	Starting:         "委託閘道啟動中...",
	ConfigLoaded:     "設定已載入（位址：%s，交易時段：%s-%s %s）",
	ServerListening:  "伺服器監聽於 %s",
	ShuttingDown:     "正在優雅關閉...",
	ShutdownComplete: "已完成關閉",
	ConfigLoadFailed: "載入設定失敗：%v",
	APIServerError:   "API 伺服器錯誤：%v",
	PublisherEnabled: "事件將發佈至 kafka 主題 %s",
	AuthEnabled:      "下單介面已啟用 JWT 驗證",
	AuthDisabled:     "未啟用 JWT 驗證（JWT_SECRET 為空）",

	MarketClosed:     "非交易時段",
	DuplicateOrderID: "委託編號重複",
	OrderNotFound:    "查無待送委託",
	UnknownResponse:  "回報無對應的在途委託",
	InvalidOrder:     "委託內容無效",
	Internal:         "內部錯誤",

	InvalidRequestBody: "請求內容格式錯誤",
	Unauthorized:       "未授權",
	RateLimited:        "請求過於頻繁",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		currentLang = LangEN
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
