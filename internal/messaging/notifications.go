// internal/messaging/notifications.go

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	firebase "firebase.google.com/go/v4"
	fcm "firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// PushPayload is what a device shows for a new message
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Icon  string `json:"icon,omitempty"`
}

// PushService delivers a payload to every registered device of the given users
type PushService interface {
	Send(ctx context.Context, userIDs []int64, payload *PushPayload) error
}

// fcmSender is the part of the FCM client we use
type fcmSender interface {
	Send(ctx context.Context, message *fcm.Message) (string, error)
}

type pushService struct {
	client fcmSender
	repo   Repository
}

// NewPushService creates a push service backed by Firebase Cloud Messaging
func NewPushService(ctx context.Context, credentialsPath string, repo Repository) (PushService, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &pushService{client: client, repo: repo}, nil
}

// Send tries every token and prunes the ones FCM no longer knows
func (s *pushService) Send(ctx context.Context, userIDs []int64, payload *PushPayload) error {
	tokens, err := s.repo.GetPushTokens(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("failed to get push tokens: %w", err)
	}

	var errs []error
	for _, token := range tokens {
		_, err := s.client.Send(ctx, buildFCMMessage(token, payload))
		if err == nil {
			pushDeliveriesTotal.WithLabelValues("sent").Inc()
			continue
		}

		if fcm.IsRegistrationTokenNotRegistered(err) {
			log.Printf("🔒 Push token of user %d is no longer registered, deleting", token.UserID)
			if delErr := s.repo.DeletePushToken(ctx, token.Token); delErr != nil {
				errs = append(errs, delErr)
			}
			pushDeliveriesTotal.WithLabelValues("pruned").Inc()
			continue
		}

		pushDeliveriesTotal.WithLabelValues("failed").Inc()
		errs = append(errs, fmt.Errorf("user %d: %w", token.UserID, err))
	}

	return errors.Join(errs...)
}

func buildFCMMessage(token *PushToken, payload *PushPayload) *fcm.Message {
	message := &fcm.Message{
		Token: token.Token,
		Notification: &fcm.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Data: map[string]string{
			"url":     payload.URL,
			"user_id": strconv.FormatInt(token.UserID, 10),
		},
	}

	// Platform-specific configuration
	switch token.Platform {
	case "ios":
		message.APNS = &fcm.APNSConfig{
			Payload: &fcm.APNSPayload{
				Aps: &fcm.Aps{Sound: "default"},
			},
		}
	case "android":
		message.Android = &fcm.AndroidConfig{
			Priority: "high",
			Notification: &fcm.AndroidNotification{
				Icon:     payload.Icon,
				Priority: fcm.PriorityHigh,
			},
		}
	case "web":
		message.Webpush = &fcm.WebpushConfig{
			Notification: &fcm.WebpushNotification{
				Title: payload.Title,
				Body:  payload.Body,
				Icon:  payload.Icon,
			},
			FCMOptions: &fcm.WebpushFCMOptions{Link: payload.URL},
		}
	}

	return message
}

// mockPushService logs instead of delivering, used when FCM is not configured
type mockPushService struct{}

func NewMockPushService() PushService {
	return &mockPushService{}
}

func (m *mockPushService) Send(ctx context.Context, userIDs []int64, payload *PushPayload) error {
	log.Printf("Mock: push to %d users: %s - %s (%s)", len(userIDs), payload.Title, payload.Body, payload.URL)
	return nil
}
