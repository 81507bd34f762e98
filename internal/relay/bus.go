// Package relay carries live signaling traffic between meeting peers over
// Redis pub/sub. Each peer subscribes to its own channel; a publish that
// reaches no subscriber tells the caller the receiver is offline, which is
// the cue to fall back to the durable pending-signal queue.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Envelope is one signaling message in flight between two peers.
type Envelope struct {
	MeetingID      string          `json:"meetingId"`
	SenderPeerID   string          `json:"senderPeerId"`
	ReceiverPeerID string          `json:"receiverPeerId,omitempty"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	SentAt         time.Time       `json:"sentAt"`
}

type Bus struct {
	client *redis.Client
}

func New(redisURL string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

func NewWithClient(client *redis.Client) *Bus {
	return &Bus{client: client}
}

func signalChannel(meetingID, peerID string) string {
	return "signal:" + meetingID + ":" + peerID
}

func chatChannel(meetingID string) string {
	return "chat:" + meetingID
}

// PublishSignal delivers an envelope to the receiver's channel and reports
// how many subscribers saw it. Zero means the receiver holds no live
// subscription right now.
func (b *Bus) PublishSignal(ctx context.Context, env Envelope) (int64, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("marshal signal envelope: %w", err)
	}
	count, err := b.client.Publish(ctx, signalChannel(env.MeetingID, env.ReceiverPeerID), data).Result()
	if err != nil {
		return 0, fmt.Errorf("publish signal: %w", err)
	}
	return count, nil
}

// PublishChat fans a chat payload out to everyone subscribed to the meeting.
// Chat is broadcast, so subscriber count is informational only.
func (b *Bus) PublishChat(ctx context.Context, meetingID string, payload json.RawMessage) error {
	if err := b.client.Publish(ctx, chatChannel(meetingID), []byte(payload)).Err(); err != nil {
		return fmt.Errorf("publish chat: %w", err)
	}
	return nil
}

// SubscribeSignals opens the peer's signal channel. The returned channel
// closes when ctx is cancelled; envelopes that fail to decode are dropped.
func (b *Bus) SubscribeSignals(ctx context.Context, meetingID, peerID string) (<-chan Envelope, error) {
	sub := b.client.Subscribe(ctx, signalChannel(meetingID, peerID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe signals: %w", err)
	}

	out := make(chan Envelope)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// SubscribeChat opens the meeting's broadcast chat channel.
func (b *Bus) SubscribeChat(ctx context.Context, meetingID string) (<-chan json.RawMessage, error) {
	sub := b.client.Subscribe(ctx, chatChannel(meetingID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe chat: %w", err)
	}

	out := make(chan json.RawMessage)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- json.RawMessage(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	return b.client.Close()
}

func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
