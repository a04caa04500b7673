package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/missbott/backend/internal/storage/models"
)

func (c *Client) ListActiveServices(ctx context.Context) ([]models.Service, error) {
	services := []models.Service{}
	err := c.db.SelectContext(ctx, &services, `
		SELECT id, name, slug, description, active, sort_order
		FROM services
		WHERE active = 1
		ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return services, nil
}

func (c *Client) GetService(ctx context.Context, id int64) (*models.Service, error) {
	var s models.Service
	err := c.db.GetContext(ctx, &s, `
		SELECT id, name, slug, description, active, sort_order FROM services WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return &s, nil
}

func (c *Client) CreateService(ctx context.Context, s *models.Service) error {
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO services (name, slug, description, active, sort_order)
		VALUES (?, ?, ?, ?, ?)`,
		s.Name, s.Slug, s.Description, s.Active, s.SortOrder,
	)
	if err != nil {
		return fmt.Errorf("failed to insert service: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read service id: %w", err)
	}
	s.ID = id
	return nil
}

func (c *Client) CreateContactMessage(ctx context.Context, m *models.ContactMessage) error {
	m.SentAt = time.Now().UTC()

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO contact_messages (name, email, message, sent_at) VALUES (?, ?, ?, ?)`,
		m.Name, m.Email, m.Message, m.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert contact message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read contact message id: %w", err)
	}
	m.ID = id
	return nil
}
