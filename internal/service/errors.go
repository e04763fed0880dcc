package service

import "errors"

var (
	// ErrNotFound 请求的电影在关系库或向量索引中不存在
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument 请求参数非法（分页越界、未知分级等）
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAlreadyEmbedded 同一次运行中已经生成过向量
	ErrAlreadyEmbedded = errors.New("already embedded in this run")
)
