package event

import (
	"sync"

	"github.com/google/uuid"
)

// EventType 定义事件类型
type EventType string

const (
	EventTaskUpdated    EventType = "task_updated"
	EventLibraryChanged EventType = "library_changed"
)

// Event 代表一个系统事件
type Event struct {
	Type    EventType
	Payload interface{}
}

// Handler 处理事件的函数签名
type Handler func(event Event)

// Bus 事件总线接口。事件只用于观察，不承担任何控制逻辑。
type Bus interface {
	Subscribe(topic EventType, handler Handler) string // 返回 Subscription ID
	Unsubscribe(topic EventType, subID string)
	Publish(topic EventType, payload interface{})
}

type handlerWrapper struct {
	id      string
	handler Handler
}

// InMemoryBus 简单的内存事件总线实现
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerWrapper
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[EventType][]handlerWrapper),
	}
}

func (b *InMemoryBus) Subscribe(topic EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.handlers[topic] = append(b.handlers[topic], handlerWrapper{id: id, handler: handler})
	return id
}

func (b *InMemoryBus) Unsubscribe(topic EventType, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wrappers := b.handlers[topic]
	for i, w := range wrappers {
		if w.id == subID {
			// 复制一份，避免影响正在发布中的切片
			next := make([]handlerWrapper, 0, len(wrappers)-1)
			next = append(next, wrappers[:i]...)
			next = append(next, wrappers[i+1:]...)
			b.handlers[topic] = next
			break
		}
	}
}

// Publish 同步调用所有 Handler；Handler 必须是非阻塞的
func (b *InMemoryBus) Publish(topic EventType, payload interface{}) {
	b.mu.RLock()
	wrappers := b.handlers[topic]
	b.mu.RUnlock()

	evt := Event{Type: topic, Payload: payload}
	for _, w := range wrappers {
		w.handler(evt)
	}
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Subscribe(EventType, Handler) string { return "" }
func (Nop) Unsubscribe(EventType, string)       {}
func (Nop) Publish(EventType, interface{})      {}
