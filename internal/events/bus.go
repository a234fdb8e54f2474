package events

import "sync"

// Topic names a broadcast channel monitor clients can subscribe to over the
// websocket relay.
type Topic string

const (
	TopicDMXFrameSent  Topic = "DMX_FRAME_SENT"
	TopicBandLevels    Topic = "BAND_LEVELS_UPDATED"
	TopicKick          Topic = "KICK_DETECTED"
	TopicSustainedEdge Topic = "SUSTAINED_EDGE"
	TopicFadeProgress  Topic = "FADE_PROGRESS"
	TopicEngineState   Topic = "ENGINE_STATE_CHANGED"
)

// Subscriber is one monitor client's channel on a topic.
type Subscriber struct {
	id      int
	Topic   Topic
	Channel chan interface{}
}

// Bus fans out observability snapshots to monitor subscribers. Unlike
// Queue, Bus drops the newest message rather than the oldest: a full
// subscriber channel simply misses a send, since monitor clients only ever
// need the latest state, not a faithful history.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]*Subscriber
	nextID      int
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[Topic][]*Subscriber)}
}

// Subscribe opens a new buffered channel on topic.
func (b *Bus) Subscribe(topic Topic, bufferSize int) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscriber{id: b.nextID, Topic: topic, Channel: make(chan interface{}, bufferSize)}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	return sub
}

// Unsubscribe closes sub's channel and removes it from its topic.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[sub.Topic]
	for i, s := range subs {
		if s.id == sub.id {
			close(s.Channel)
			b.subscribers[sub.Topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish sends message to every subscriber of topic, non-blocking.
func (b *Bus) Publish(topic Topic, message interface{}) {
	b.mu.RLock()
	subs := b.subscribers[topic]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.Channel <- message:
		default:
		}
	}
}

// SubscriberCount reports how many clients are currently subscribed to
// topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
