package repository

import (
    "database/sql"
    "time"

    "github.com/nthuku/mailpacer-backend/internal/model"
)

type SendEventRepositoryInterface interface {
    // Append upserts the outcome for a recipient item. A stored sent event
    // is never downgraded: conflicting writes against it are no-ops.
    Append(ev *model.SendEvent) error
    GetByItemID(itemID int) (*model.SendEvent, error)
    // CountSentSince counts successful sends across all campaigns at or
    // after the given instant. Used for the global daily quota.
    CountSentSince(t time.Time) (int, error)
}

type SendEventRepository struct {
    DB *sql.DB
}

func (r *SendEventRepository) Append(ev *model.SendEvent) error {
    ev.CreatedAt = time.Now()
    query := `
        INSERT INTO send_events (recipient_item_id, status, message_id, thread_id, permalink, error_text, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (recipient_item_id) DO UPDATE
        SET status=EXCLUDED.status, message_id=EXCLUDED.message_id,
            thread_id=EXCLUDED.thread_id, permalink=EXCLUDED.permalink,
            error_text=EXCLUDED.error_text
        WHERE send_events.status <> 'sent'
    `
    _, err := r.DB.Exec(query, ev.RecipientItemID, ev.Status, ev.MessageID, ev.ThreadID, ev.Permalink, ev.ErrorText, ev.CreatedAt)
    return err
}

func (r *SendEventRepository) GetByItemID(itemID int) (*model.SendEvent, error) {
    query := `
        SELECT id, recipient_item_id, status, message_id, thread_id, permalink, error_text, created_at
        FROM send_events WHERE recipient_item_id=$1
    `
    var ev model.SendEvent
    err := r.DB.QueryRow(query, itemID).Scan(
        &ev.ID, &ev.RecipientItemID, &ev.Status, &ev.MessageID,
        &ev.ThreadID, &ev.Permalink, &ev.ErrorText, &ev.CreatedAt,
    )
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, nil
        }
        return nil, err
    }
    return &ev, nil
}

func (r *SendEventRepository) CountSentSince(t time.Time) (int, error) {
    query := `SELECT COUNT(*) FROM send_events WHERE status=$1 AND created_at >= $2`
    var count int
    if err := r.DB.QueryRow(query, model.EventStatusSent, t).Scan(&count); err != nil {
        return 0, err
    }
    return count, nil
}

var _ SendEventRepositoryInterface = (*SendEventRepository)(nil)
