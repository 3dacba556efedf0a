package service

import (
	"context"
	"encoding/json"

	"regnxt-workbook-be/internal/dto"
	"regnxt-workbook-be/internal/entity"
	"regnxt-workbook-be/internal/pkg/logger"
	"regnxt-workbook-be/internal/repository/unitofwork"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService writes save-audit messages to the database.
type consumerService struct {
	pubSub     *gochannel.GoChannel
	topicName  string
	uowFactory unitofwork.RepositoryFactory
	logger     logger.ILogger
}

func NewConsumerService(
	pubSub *gochannel.GoChannel,
	topicName string,
	uowFactory unitofwork.RepositoryFactory,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		pubSub:     pubSub,
		topicName:  topicName,
		uowFactory: uowFactory,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(msg *message.Message) {
	// The publishing request has usually finished by now.
	ctx := context.Background()

	var payload dto.SaveAuditMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Error("AUDIT", "Failed to unmarshal audit message", map[string]interface{}{"error": err.Error()})
		msg.Ack() // will never decode
		return
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		cs.logger.Error("AUDIT", "Failed to begin transaction", map[string]interface{}{"error": err.Error()})
		msg.Nack()
		return
	}
	defer uow.Rollback()

	audit := &entity.SaveAudit{
		Id:         uuid.New(),
		WorkbookId: payload.WorkbookId,
		SessionId:  payload.SessionId,
		UserId:     payload.UserId,
		Reason:     payload.Reason,
		Cells:      payload.Cells,
		SavedAt:    payload.SavedAt,
	}
	if err := uow.SaveAuditRepository().Create(ctx, audit); err != nil {
		cs.logger.Error("AUDIT", "Failed to store save audit", map[string]interface{}{
			"workbook_id": payload.WorkbookId,
			"session_id":  payload.SessionId,
			"error":       err.Error(),
		})
		msg.Nack()
		return
	}

	if err := uow.Commit(); err != nil {
		cs.logger.Error("AUDIT", "Failed to commit save audit", map[string]interface{}{"error": err.Error()})
		msg.Nack()
		return
	}

	cs.logger.Info("AUDIT", "Save audit stored", map[string]interface{}{
		"workbook_id": payload.WorkbookId,
		"session_id":  payload.SessionId,
		"cells":       len(payload.Cells),
	})
	msg.Ack()
}
