package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"floodbuddy/internal/models"
)

const (
	TaskReportCreated = "report.created"
	TaskExport        = "export"
	TaskPruneSessions = "sessions.prune"
)

// ReportCreatedPayload is the report.created task body.
type ReportCreatedPayload struct {
	Report models.Report `json:"report"`
}

// Task is the envelope written to the task stream. Payload is task-specific JSON.
type Task struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewTask(taskType string, payload any) (Task, error) {
	if payload == nil {
		return Task{Type: taskType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", taskType, err)
	}
	return Task{Type: taskType, Payload: raw}, nil
}

// DecodeTask reads the envelope back out of a stream entry.
func DecodeTask(msg redis.XMessage) (Task, error) {
	taskType, _ := msg.Values["type"].(string)
	if taskType == "" {
		return Task{}, fmt.Errorf("message %s has no type", msg.ID)
	}
	task := Task{Type: taskType}
	if raw, ok := msg.Values["payload"].(string); ok && raw != "" {
		task.Payload = json.RawMessage(raw)
	}
	return task, nil
}

type Producer struct {
	client *redis.Client
	stream string
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{client: client, stream: stream}
}

func (p *Producer) Enqueue(ctx context.Context, task Task) error {
	if p == nil || p.client == nil {
		return nil
	}
	values := map[string]any{"type": task.Type}
	if len(task.Payload) > 0 {
		values["payload"] = string(task.Payload)
	}
	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Result()
	return err
}
