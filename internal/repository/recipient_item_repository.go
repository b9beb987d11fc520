package repository

import (
    "database/sql"
    "fmt"

    "github.com/lib/pq"

    apperrors "github.com/nthuku/mailpacer-backend/internal/errors"
    "github.com/nthuku/mailpacer-backend/internal/model"
)

type RecipientItemRepositoryInterface interface {
    // Materialize bulk-inserts all items in one transaction. A duplicate
    // recipient address within the campaign fails the whole batch.
    Materialize(campaignID int, items []*model.RecipientItem) error
    GetByID(id int) (*model.RecipientItem, error)

    // ClaimNextPending atomically flips the oldest pending item to sending
    // and returns it. Returns (nil, nil) when no pending item exists. Two
    // concurrent callers can never receive the same item.
    ClaimNextPending(campaignID int) (*model.RecipientItem, error)

    // MarkSent/MarkFailed only apply while the item is still in flight
    // (sending, or pending to tolerate replays); a terminal state is never
    // overwritten by a stale retry.
    MarkSent(id int) error
    MarkFailed(id int, lastError string) error

    CountByState(campaignID int, states []string) (int, error)
    CountsByState(campaignID int) (map[string]int, error)

    // SetExcluded toggles pending <-> excluded; reports whether the toggle
    // applied (false once the item has left those states).
    SetExcluded(id int, excluded bool) (bool, error)

    ListByCampaign(campaignID, offset, limit int, state string) ([]*model.RecipientItem, int, error)
}

type RecipientItemRepository struct {
    DB *sql.DB
}

const itemColumns = `id, campaign_id, recipient, subject, body, state, included_manually, excluded_manually, last_error, created_at, updated_at`

func scanItem(row interface{ Scan(...interface{}) error }) (*model.RecipientItem, error) {
    var it model.RecipientItem
    err := row.Scan(
        &it.ID, &it.CampaignID, &it.Recipient, &it.Subject, &it.Body,
        &it.State, &it.IncludedManually, &it.ExcludedManually, &it.LastError,
        &it.CreatedAt, &it.UpdatedAt,
    )
    if err != nil {
        return nil, err
    }
    return &it, nil
}

func (r *RecipientItemRepository) Materialize(campaignID int, items []*model.RecipientItem) error {
    tx, err := r.DB.Begin()
    if err != nil {
        return err
    }
    defer tx.Rollback()

    stmt, err := tx.Prepare(`
        INSERT INTO recipient_items (campaign_id, recipient, subject, body, state, included_manually, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
        RETURNING id, created_at, updated_at
    `)
    if err != nil {
        return err
    }
    defer stmt.Close()

    for _, it := range items {
        it.CampaignID = campaignID
        if it.State == "" {
            it.State = model.ItemStatePending
        }
        err := stmt.QueryRow(campaignID, it.Recipient, it.Subject, it.Body, it.State, it.IncludedManually).
            Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
        if err != nil {
            return fmt.Errorf("insert recipient %s: %w", it.Recipient, err)
        }
    }

    return tx.Commit()
}

func (r *RecipientItemRepository) GetByID(id int) (*model.RecipientItem, error) {
    query := `SELECT ` + itemColumns + ` FROM recipient_items WHERE id=$1`
    it, err := scanItem(r.DB.QueryRow(query, id))
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, apperrors.NewRecipientNotFound(id)
        }
        return nil, err
    }
    return it, nil
}

// ClaimNextPending is a single atomic conditional update. FOR UPDATE SKIP
// LOCKED keeps concurrent ticks from blocking on, or double-claiming, the
// same row; ORDER BY id preserves materialization order.
func (r *RecipientItemRepository) ClaimNextPending(campaignID int) (*model.RecipientItem, error) {
    query := `
        UPDATE recipient_items SET state=$1, updated_at=NOW()
        WHERE id = (
            SELECT id FROM recipient_items
            WHERE campaign_id=$2 AND state=$3
            ORDER BY id
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + itemColumns
    it, err := scanItem(r.DB.QueryRow(query, model.ItemStateSending, campaignID, model.ItemStatePending))
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, nil
        }
        return nil, err
    }
    return it, nil
}

func (r *RecipientItemRepository) MarkSent(id int) error {
    query := `UPDATE recipient_items SET state=$1, last_error='', updated_at=NOW()
              WHERE id=$2 AND state = ANY($3)`
    _, err := r.DB.Exec(query, model.ItemStateSent, id, pq.Array([]string{model.ItemStateSending, model.ItemStatePending}))
    return err
}

func (r *RecipientItemRepository) MarkFailed(id int, lastError string) error {
    query := `UPDATE recipient_items SET state=$1, last_error=$2, updated_at=NOW()
              WHERE id=$3 AND state = ANY($4)`
    _, err := r.DB.Exec(query, model.ItemStateFailed, lastError, id, pq.Array([]string{model.ItemStateSending, model.ItemStatePending}))
    return err
}

func (r *RecipientItemRepository) CountByState(campaignID int, states []string) (int, error) {
    query := `SELECT COUNT(*) FROM recipient_items WHERE campaign_id=$1 AND state = ANY($2)`
    var count int
    if err := r.DB.QueryRow(query, campaignID, pq.Array(states)).Scan(&count); err != nil {
        return 0, err
    }
    return count, nil
}

func (r *RecipientItemRepository) CountsByState(campaignID int) (map[string]int, error) {
    query := `SELECT state, COUNT(*) FROM recipient_items WHERE campaign_id=$1 GROUP BY state`
    rows, err := r.DB.Query(query, campaignID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    stats := map[string]int{
        model.ItemStatePending:  0,
        model.ItemStateSending:  0,
        model.ItemStateSent:     0,
        model.ItemStateFailed:   0,
        model.ItemStateExcluded: 0,
    }
    for rows.Next() {
        var state string
        var count int
        if err := rows.Scan(&state, &count); err != nil {
            return nil, err
        }
        stats[state] = count
    }
    return stats, rows.Err()
}

func (r *RecipientItemRepository) SetExcluded(id int, excluded bool) (bool, error) {
    var query string
    if excluded {
        query = `UPDATE recipient_items SET state=$1, excluded_manually=TRUE, updated_at=NOW()
                 WHERE id=$2 AND state=$3`
    } else {
        query = `UPDATE recipient_items SET state=$1, excluded_manually=FALSE, included_manually=TRUE, updated_at=NOW()
                 WHERE id=$2 AND state=$3`
    }

    to, from := model.ItemStateExcluded, model.ItemStatePending
    if !excluded {
        to, from = model.ItemStatePending, model.ItemStateExcluded
    }

    res, err := r.DB.Exec(query, to, id, from)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n == 1, nil
}

func (r *RecipientItemRepository) ListByCampaign(campaignID, offset, limit int, state string) ([]*model.RecipientItem, int, error) {
    items := []*model.RecipientItem{}
    query := `SELECT ` + itemColumns + ` FROM recipient_items WHERE campaign_id=$1`
    args := []interface{}{campaignID}
    argPos := 2

    if state != "" {
        query += fmt.Sprintf(" AND state=$%d", argPos)
        args = append(args, state)
        argPos++
    }

    query += fmt.Sprintf(" ORDER BY id LIMIT $%d OFFSET $%d", argPos, argPos+1)
    args = append(args, limit, offset)

    rows, err := r.DB.Query(query, args...)
    if err != nil {
        return nil, 0, err
    }
    defer rows.Close()

    for rows.Next() {
        it, err := scanItem(rows)
        if err != nil {
            return nil, 0, err
        }
        items = append(items, it)
    }

    countQuery := `SELECT COUNT(*) FROM recipient_items WHERE campaign_id=$1`
    argsCount := []interface{}{campaignID}
    if state != "" {
        countQuery += " AND state=$2"
        argsCount = append(argsCount, state)
    }

    var total int
    if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
        return nil, 0, err
    }

    return items, total, nil
}

var _ RecipientItemRepositoryInterface = (*RecipientItemRepository)(nil)
