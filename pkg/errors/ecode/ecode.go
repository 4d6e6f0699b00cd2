package ecode

// 业务错误码，0表示成功
const (
	Success = 0

	// 通用
	InternalErr    = 10001
	InvalidParams  = 10002
	RequireAuthErr = 10003

	// 交易相关
	InsufficientBalance = 20001
	NoPriceAvailable    = 20002
	OrderNotFound       = 20003
)

var messages = map[int]string{
	Success:             "ok",
	InternalErr:         "internal error",
	InvalidParams:       "invalid request parameters",
	RequireAuthErr:      "authorization required",
	InsufficientBalance: "insufficient balance",
	NoPriceAvailable:    "no price available for asset",
	OrderNotFound:       "order not found",
}

// Message 返回错误码对应的默认文案
func Message(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[InternalErr]
}
