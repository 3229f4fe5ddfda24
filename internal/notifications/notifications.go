// Package notifications reacts to newly created notification documents
// by fanning them out as push messages to the owning user's devices.
package notifications

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lcerda/pushledger/internal/docstore"
	"github.com/lcerda/pushledger/internal/gateway"
	"github.com/lcerda/pushledger/internal/ledger"
	"github.com/lcerda/pushledger/internal/observability"
	"github.com/lcerda/pushledger/internal/trigger"
)

// Collection holds user-facing notification documents.
const Collection = "notifications"

// Notification is the document payload this package reacts to.
type Notification struct {
	UserID   string
	Title    string
	Body     string
	Metadata map[string]string
	Seen     bool
}

// Pusher delivers one message to all of a user's registered devices.
type Pusher interface {
	SendPush(ctx context.Context, userID string, msg gateway.Message) error
}

// OnCreateHandler returns the trigger handler that pushes a freshly
// created notification.
func OnCreateHandler(pusher Pusher) trigger.Handler {
	return func(ctx context.Context, logger *observability.StepLogger, event trigger.Event, data map[string]any) error {
		notification, err := fromData(data)
		if err != nil {
			return fmt.Errorf("notification %s: %w", event.Ref.ID, err)
		}

		logger.ChangeStep("send-push-notification")
		logger.Info("sending push notification",
			zap.String("eventName", "send-push-notification"),
			zap.String("userId", notification.UserID),
		)
		return pusher.SendPush(ctx, notification.UserID, gateway.Message{
			Title: notification.Title,
			Body:  notification.Body,
			Data:  notification.Metadata,
		})
	}
}

// NewDispatcher binds the notifications collection to its create
// handler.
func NewDispatcher(store docstore.Store, led *ledger.Ledger, pusher Pusher, maxRetries int, logger *zap.Logger) (*trigger.Dispatcher, error) {
	if pusher == nil {
		return nil, fmt.Errorf("pusher is required")
	}

	return trigger.NewDispatcher(Collection, store, led, OnCreateHandler(pusher), trigger.Options{
		ExtraData:  map[string]any{"seen": false},
		MaxRetries: maxRetries,
	}, logger)
}

func fromData(data map[string]any) (Notification, error) {
	userID, _ := data["userId"].(string)
	if userID == "" {
		return Notification{}, fmt.Errorf("document has no userId")
	}

	title, _ := data["title"].(string)
	body, _ := data["body"].(string)
	seen, _ := data["seen"].(bool)

	var metadata map[string]string
	if raw, ok := data["metadata"].(map[string]any); ok {
		metadata = make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				metadata[k] = s
			} else {
				metadata[k] = fmt.Sprintf("%v", v)
			}
		}
	}

	return Notification{
		UserID:   userID,
		Title:    title,
		Body:     body,
		Metadata: metadata,
		Seen:     seen,
	}, nil
}
