package iam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Reloader rebuilds the permission projection.
type Reloader interface {
	Reload(ctx context.Context, source string) error
}

type reloadMessage struct {
	Origin string `json:"origin"`
}

// ReloadBroadcaster fans permission reloads out to every replica over a
// Redis pub/sub channel. Each replica ignores its own announcements.
type ReloadBroadcaster struct {
	client   *redis.Client
	channel  string
	instance string
	target   Reloader
}

// NewReloadBroadcaster connects to redisURL (redis://host:port/db).
func NewReloadBroadcaster(redisURL, channel string, target Reloader) (*ReloadBroadcaster, error) {
	if redisURL == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &ReloadBroadcaster{
		client:   redis.NewClient(opts),
		channel:  channel,
		instance: uuid.NewString(),
		target:   target,
	}, nil
}

// Publish announces a reload that already happened on this replica.
func (b *ReloadBroadcaster) Publish(ctx context.Context) error {
	payload, err := json.Marshal(reloadMessage{Origin: b.instance})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish permission reload: %w", err)
	}
	return nil
}

// Run subscribes and reloads on every announcement from another replica
// until ctx is cancelled.
func (b *ReloadBroadcaster) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	log.Printf("INFO: listening for permission reloads on %s", b.channel)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handle(ctx, msg.Payload)
		}
	}
}

func (b *ReloadBroadcaster) handle(ctx context.Context, payload string) {
	var msg reloadMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Printf("WARNING: ignoring malformed reload message: %v", err)
		return
	}
	if msg.Origin == b.instance {
		return
	}
	if err := b.target.Reload(ctx, "broadcast"); err != nil {
		log.Printf("ERROR: permission reload from broadcast failed: %v", err)
	}
}

// Close releases the Redis connection.
func (b *ReloadBroadcaster) Close() error {
	return b.client.Close()
}
