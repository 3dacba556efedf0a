package service

import (
	"context"
	"fmt"

	"regnxt-workbook-be/internal/pkg/logger"
	"regnxt-workbook-be/internal/websocket"
	"regnxt-workbook-be/pkg/events"
	pktNats "regnxt-workbook-be/pkg/nats" // Renamed to avoid collision
	"regnxt-workbook-be/pkg/store"

	"github.com/google/uuid"
)

// NotificationService turns save events of other editors into conflict notices
// for sessions that still hold pending changes on the same workbook.
type NotificationService struct {
	sessions   SessionStore
	subscriber *pktNats.Subscriber
	delivery   SessionNotifier
	logger     logger.ILogger
}

func NewNotificationService(sessions SessionStore, sub *pktNats.Subscriber, delivery SessionNotifier, log logger.ILogger) *NotificationService {
	return &NotificationService{
		sessions:   sessions,
		subscriber: sub,
		delivery:   delivery,
		logger:     log,
	}
}

// Start begins listening to the event bus. Every instance needs every save
// event, so the durable consumer is named per instance.
func (s *NotificationService) Start() {
	durable := "workbook-conflicts-" + uuid.NewString()
	subject := pktNats.SubjectPrefix + events.TypeWorkbookDataSaved

	if err := s.subscriber.Subscribe(subject, durable, s.handleEvent); err != nil {
		s.logger.Error("NotificationService", "Failed to start notification subscriber", map[string]interface{}{"error": err.Error()})
		return
	}
	s.logger.Info("NotificationService", "Notification service started, listening to "+subject, nil)
}

func (s *NotificationService) handleEvent(ctx context.Context, event events.Event) error {
	if event.EventType() != events.TypeWorkbookDataSaved {
		return nil
	}

	saved, err := events.DecodeWorkbookDataSaved(event.Payload())
	if err != nil {
		// Redelivery cannot fix a bad payload.
		s.logger.Warn("NotificationService", "Dropping malformed save event", map[string]interface{}{"error": err.Error()})
		return nil
	}

	flagged := 0
	for _, sess := range s.sessions.FindByWorkbook(saved.WorkbookID) {
		if sess.ID == saved.SessionID {
			continue
		}
		info := store.ConflictInfo{
			SessionID: saved.SessionID,
			UserID:    saved.UserID,
			CellCount: saved.CellCount,
			SavedAt:   saved.SavedAt,
		}
		if !sess.MarkConflict(info) {
			continue
		}
		flagged++
		if s.delivery != nil {
			s.delivery.Notify(websocket.SessionEvent{Type: EventConflict, SessionID: sess.ID, Data: info})
		}
	}

	if flagged > 0 {
		s.logger.Info("NotificationService", fmt.Sprintf("Flagged %d sessions after save on workbook %d", flagged, saved.WorkbookID), map[string]interface{}{
			"workbook_id": saved.WorkbookID,
			"saved_by":    saved.SessionID,
		})
	}
	return nil
}
