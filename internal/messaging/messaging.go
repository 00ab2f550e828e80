package messaging

import (
	"context"
	"time"

	"datafactory/pkg/models"
)

const (
	GenerateQueue   = "generate_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type Publisher interface {
	PublishGenerateTask(ctx context.Context, payload models.TaskMessage) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
