// Package mqtt подписывается на фид обновлений объектов и передает
// валидные записи в пакетный писатель.
package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/geostay/proximity-backend/internal/models"
)

// Parser разбирает JSON-сообщения фида обновлений
type Parser struct {
	logger *logrus.Entry
}

// NewParser создает новый parser
func NewParser(logger *logrus.Entry) *Parser {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Parser{logger: logger}
}

// Parse разбирает сообщение фида. Неподдерживаемые операции
// пропускаются без ошибки, битый JSON и невалидные объекты дают ошибку.
func (p *Parser) Parse(topic string, payload []byte) (*models.PropertyUpdate, error) {
	var update models.PropertyUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, fmt.Errorf("malformed update payload: %w", err)
	}

	switch update.Operation {
	case models.OperationAdd, models.OperationUpdate:
	default:
		p.logger.WithFields(logrus.Fields{
			"topic":     topic,
			"operation": update.Operation,
		}).Debug("Skipping unsupported feed operation")
		return nil, nil
	}

	if err := update.Property.Validate(); err != nil {
		return nil, fmt.Errorf("invalid property in %s update: %w", update.Operation, err)
	}
	return &update, nil
}
