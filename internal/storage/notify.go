package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/firstcontact-eis/coordinator/internal/model"
)

// LISTEN/NOTIFY channel names.
const (
	// ChannelRecommendations carries recommendation lifecycle notifications
	// to other coordinator replicas and dashboards.
	ChannelRecommendations = "coordinator_recommendations"
	// ChannelCaseChanges carries case-record change events from database
	// triggers, feeding the change-feed sensor.
	ChannelCaseChanges = "coordinator_case_changes"
)

// Listen starts listening on the given channel using the dedicated notify
// connection.
func (db *DB) Listen(ctx context.Context, channel string) error {
	if db.notifyConn == nil {
		return fmt.Errorf("storage: notify connection not configured")
	}
	_, err := db.notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	if err != nil {
		return fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on any listened
// channel, returning the channel name and payload.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	if db.notifyConn == nil {
		return "", "", fmt.Errorf("storage: notify connection not configured")
	}
	notification, err := db.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return notification.Channel, notification.Payload, nil
}

// Notify sends a notification on the given channel.
func (db *DB) Notify(ctx context.Context, channel, payload string) error {
	_, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}

// CaseChangeFeed turns the case-change channel into a blocking event stream
// for the change-feed sensor. Call Listen(ChannelCaseChanges) before reading.
// Payloads must be JSON-encoded model.Event records emitted by database
// triggers on the case tables.
type CaseChangeFeed struct {
	db *DB
}

// NewCaseChangeFeed subscribes the notify connection to the case-change
// channel and returns the feed.
func NewCaseChangeFeed(ctx context.Context, db *DB) (*CaseChangeFeed, error) {
	if err := db.Listen(ctx, ChannelCaseChanges); err != nil {
		return nil, err
	}
	return &CaseChangeFeed{db: db}, nil
}

// WaitForEvent blocks until the next case-change notification and decodes it.
// Malformed payloads are skipped with a warning rather than tearing the feed
// down, since one bad trigger write must not stop change detection.
func (f *CaseChangeFeed) WaitForEvent(ctx context.Context) (model.Event, error) {
	for {
		channel, payload, err := f.db.WaitForNotification(ctx)
		if err != nil {
			return model.Event{}, err
		}
		if channel != ChannelCaseChanges {
			continue
		}
		var event model.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			f.db.logger.Warn("storage: malformed case-change payload skipped", "error", err)
			continue
		}
		return event, nil
	}
}
