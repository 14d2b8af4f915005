package server

import "errors"

// 错误分类：调用方据此决定拒绝加入、忽略消息等行为
// Malformed 一律就地恢复（记日志后丢弃），绝不让一个坏包拖垮整个房间
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrCapacity      = errors.New("capacity reached")
	ErrMalformed     = errors.New("malformed payload")
)

// errorCode 错误分类到线上错误码的映射（回执给客户端用）
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyExists):
		return "already-exists"
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "not-found"
	}
}
