package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/consultrelay/libs/db"
)

// Delivery records the outcome of a single dispatch attempt, for
// observability only. Delivery itself stays best-effort.
type Delivery struct {
	UserID    string
	EventKind string
	Channel   string // "ws" or "push"
	Target    string // connection id or push provider id
	Status    string // "sent", "failed" or "skipped"
	Detail    string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, d Delivery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deliveries (id, user_id, event_kind, channel, target, status, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), d.UserID, d.EventKind, d.Channel, d.Target, d.Status, d.Detail)
	return err
}
