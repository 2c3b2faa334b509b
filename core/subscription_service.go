package core

import (
	"context"
	"fmt"
	"log/slog"
)

// SubscriptionService subscribes users to bands and fans out new-album
// notifications.
type SubscriptionService struct {
	subs     SubscriptionRepository
	notifier Notifier
	log      *slog.Logger
}

func NewSubscriptionService(subs SubscriptionRepository, notifier Notifier, logger *slog.Logger) *SubscriptionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionService{subs: subs, notifier: notifier, log: logger}
}

// Subscribe records that userEmail wants to hear about new albums of bandID.
// Repeated calls store repeated subscriptions.
func (s *SubscriptionService) Subscribe(ctx context.Context, q Querier, userEmail string, bandID int64) (Subscription, error) {
	if bandID <= 0 {
		return Subscription{}, Validation("band_id must be a positive integer")
	}
	s.log.DebugContext(ctx, "subscribing user to band", "email", userEmail, "band_id", bandID)
	return s.subs.Create(ctx, q, userEmail, bandID)
}

// NotifySubscribers sends one notification per subscription of bandID and
// returns how many were sent. The first failed send aborts and is returned.
func (s *SubscriptionService) NotifySubscribers(ctx context.Context, q Querier, bandID, albumID int64) (int, error) {
	subs, err := s.subs.ListByBand(ctx, q, bandID)
	if err != nil {
		return 0, err
	}
	text := fmt.Sprintf("New album %d from %d", albumID, bandID)
	for i, sub := range subs {
		s.log.DebugContext(ctx, "notifying subscriber", "email", sub.UserEmail, "album_id", albumID, "band_id", bandID)
		if err := s.notifier.Send(ctx, Notification{To: sub.UserEmail, Subject: text, Body: text}); err != nil {
			return i, err
		}
	}
	return len(subs), nil
}
