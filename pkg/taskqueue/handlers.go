package taskqueue

import (
	"context"
	"fmt"
)

// HandlerFunc 把普通函数适配为Handler
type HandlerFunc struct {
	Types []TaskType
	Fn    func(ctx context.Context, task *Task) error
}

// ProcessTask 调用Fn
func (h HandlerFunc) ProcessTask(ctx context.Context, task *Task) error {
	if h.Fn == nil {
		return fmt.Errorf("no handler function for task %s", task.ID)
	}
	return h.Fn(ctx, task)
}

// GetTaskTypes 返回支持的任务类型
func (h HandlerFunc) GetTaskTypes() []TaskType {
	return h.Types
}

// RegisterAll 按处理器声明的任务类型注册到工作者
func RegisterAll(w Worker, handlers ...Handler) {
	for _, h := range handlers {
		for _, t := range h.GetTaskTypes() {
			w.RegisterHandler(t, h)
		}
	}
}

// DecodeConvert 解析转换任务载荷
func DecodeConvert(task *Task) (*ConvertPayload, error) {
	if task.Type != TaskConvert {
		return nil, fmt.Errorf("%w: unexpected task type %s", ErrInvalidPayload, task.Type)
	}
	var payload ConvertPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.ConversionID == "" || payload.FileID == "" {
		return nil, fmt.Errorf("%w: conversion_id and file_id are required", ErrInvalidPayload)
	}
	return &payload, nil
}

// DecodeCleanup 解析清理任务载荷
func DecodeCleanup(task *Task) (*CleanupPayload, error) {
	if task.Type != TaskCleanup {
		return nil, fmt.Errorf("%w: unexpected task type %s", ErrInvalidPayload, task.Type)
	}
	var payload CleanupPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &payload, nil
}
