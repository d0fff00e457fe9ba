package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/golang/glog"
	"github.com/google/uuid"
)

// RoomChannel is the redis channel shared by all instances
const RoomChannel = "slidecollab:rooms"

// roomEvent is one fan-out message crossing instances
type roomEvent struct {
	Instance string `json:"instance"`
	Room     string `json:"room"`
	Message  []byte `json:"message"`
}

func (e roomEvent) MarshalBinary() (data []byte, err error) {
	return json.Marshal(e)
}

func (e *roomEvent) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, e)
}

// RedisBackplane relays room fan-out through redis pub/sub. Messages carry
// the publishing instance id so an instance never delivers its own twice.
type RedisBackplane struct {
	client     *redis.Client
	channel    string
	instanceID string
}

// NewRedisBackplane connects to the redis server at url
// (redis://[:password@]host:port/db)
func NewRedisBackplane(url string) (*RedisBackplane, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisBackplaneWithClient(redis.NewClient(options)), nil
}

// NewRedisBackplaneWithClient uses an existing client
func NewRedisBackplaneWithClient(client *redis.Client) *RedisBackplane {
	return &RedisBackplane{
		client:     client,
		channel:    RoomChannel,
		instanceID: uuid.NewString(),
	}
}

// Ping checks the redis connection
func (b *RedisBackplane) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish sends message to the other instances' members of room
func (b *RedisBackplane) Publish(ctx context.Context, room string, message []byte) error {
	return b.client.Publish(ctx, b.channel, roomEvent{
		Instance: b.instanceID,
		Room:     room,
		Message:  message,
	}).Err()
}

// Run subscribes to the room channel and hands foreign messages to deliver
func (b *RedisBackplane) Run(ctx context.Context, deliver func(room string, message []byte)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	glog.Infof("Room backplane subscribed to %s as %s", b.channel, b.instanceID)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("room channel closed")
			}
			var event roomEvent
			if err := event.UnmarshalBinary([]byte(msg.Payload)); err != nil {
				glog.Infof("Invalid backplane message: %v", err)
				continue
			}
			if event.Instance == b.instanceID {
				continue
			}
			glog.V(2).Infof("Backplane message for room %s from %s", event.Room, event.Instance)
			deliver(event.Room, event.Message)
		}
	}
}

// Close closes the redis client
func (b *RedisBackplane) Close() error {
	return b.client.Close()
}
