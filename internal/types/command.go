package types

import (
	"time"

	"github.com/google/uuid"
)

// CommandKind 是远程控制指令类型。
type CommandKind string

const (
	CommandStart       CommandKind = "START"
	CommandStop        CommandKind = "STOP"
	CommandCloseAll    CommandKind = "CLOSE_ALL"
	CommandCloseTicket CommandKind = "CLOSE_TICKET"
	CommandStatus      CommandKind = "STATUS_QUERY"
)

// Command 携带关联 ID，完成事件通过同一 ID 回报。
type Command struct {
	ID       string      `json:"id"`
	Kind     CommandKind `json:"kind"`
	Source   string      `json:"source"`
	Ticket   string      `json:"ticket,omitempty"`
	Symbol   string      `json:"symbol,omitempty"`
	IssuedAt time.Time   `json:"issued_at"`
}

// NewCommand 生成带新关联 ID 的指令。
func NewCommand(kind CommandKind, source string) Command {
	return Command{
		ID:       uuid.NewString(),
		Kind:     kind,
		Source:   source,
		IssuedAt: time.Now(),
	}
}

// Protected 表示队列满时不可被丢弃的指令。
func (c Command) Protected() bool {
	return c.Kind == CommandCloseAll
}
