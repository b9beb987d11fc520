package repository

import (
    "database/sql"
    "fmt"
    "time"

    "github.com/lib/pq"

    apperrors "github.com/nthuku/mailpacer-backend/internal/errors"
    "github.com/nthuku/mailpacer-backend/internal/model"
)

type CampaignRepositoryInterface interface {
    Create(c *model.Campaign) error
    GetByID(id int) (*model.Campaign, error)
    ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error)
    // UpdateStatusIf flips the status only when the current status is one of
    // from; reports whether the update applied.
    UpdateStatusIf(campaignID int, from []string, to string) (bool, error)

    // AcquireGlobalLock conditionally takes the system-wide send lock for
    // this campaign. Returns false when any campaign already holds it.
    AcquireGlobalLock(campaignID int) (bool, error)
    ReleaseGlobalLock(campaignID int) error
}

type CampaignRepository struct {
    DB *sql.DB
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
    c.CreatedAt = time.Now()
    if c.Status == "" {
        c.Status = model.CampaignStatusDraft
    }
    query := `
        INSERT INTO campaigns (name, status, subject_template, body_template, sender_alias, active_lock, created_at)
        VALUES ($1, $2, $3, $4, $5, FALSE, $6)
        RETURNING id
    `
    return r.DB.QueryRow(query, c.Name, c.Status, c.SubjectTemplate, c.BodyTemplate, c.SenderAlias, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
    query := `
        SELECT id, name, status, subject_template, body_template, sender_alias, active_lock, created_at, updated_at
        FROM campaigns WHERE id=$1
    `
    var c model.Campaign
    err := r.DB.QueryRow(query, id).Scan(
        &c.ID, &c.Name, &c.Status, &c.SubjectTemplate, &c.BodyTemplate,
        &c.SenderAlias, &c.ActiveLock, &c.CreatedAt, &c.UpdatedAt,
    )
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, apperrors.NewCampaignNotFound(id)
        }
        return nil, err
    }
    return &c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
    campaigns := []*model.Campaign{}
    query := `SELECT id, name, status, subject_template, body_template, sender_alias, active_lock, created_at, updated_at FROM campaigns WHERE 1=1`
    args := []interface{}{}
    argPos := 1

    if status != "" {
        query += fmt.Sprintf(" AND status=$%d", argPos)
        args = append(args, status)
        argPos++
    }

    query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
    args = append(args, limit, offset)

    rows, err := r.DB.Query(query, args...)
    if err != nil {
        return nil, 0, err
    }
    defer rows.Close()

    for rows.Next() {
        c := &model.Campaign{}
        if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.SubjectTemplate, &c.BodyTemplate, &c.SenderAlias, &c.ActiveLock, &c.CreatedAt, &c.UpdatedAt); err != nil {
            return nil, 0, err
        }
        campaigns = append(campaigns, c)
    }

    countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
    argsCount := []interface{}{}
    if status != "" {
        countQuery += " AND status=$1"
        argsCount = append(argsCount, status)
    }

    var total int
    if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
        return nil, 0, err
    }

    return campaigns, total, nil
}

func (r *CampaignRepository) UpdateStatusIf(campaignID int, from []string, to string) (bool, error) {
    query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status = ANY($3)`
    res, err := r.DB.Exec(query, to, campaignID, pq.Array(from))
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n == 1, nil
}

// AcquireGlobalLock relies on the partial unique index on
// campaigns(active_lock) WHERE active_lock: two concurrent acquisitions can
// never both commit, the loser gets a unique violation and reports false.
func (r *CampaignRepository) AcquireGlobalLock(campaignID int) (bool, error) {
    query := `UPDATE campaigns SET active_lock=TRUE, updated_at=NOW() WHERE id=$1 AND active_lock=FALSE
              AND NOT EXISTS (SELECT 1 FROM campaigns WHERE active_lock=TRUE)`
    res, err := r.DB.Exec(query, campaignID)
    if err != nil {
        if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
            return false, nil
        }
        return false, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n == 1, nil
}

func (r *CampaignRepository) ReleaseGlobalLock(campaignID int) error {
    query := `UPDATE campaigns SET active_lock=FALSE, updated_at=NOW() WHERE id=$1 AND active_lock=TRUE`
    _, err := r.DB.Exec(query, campaignID)
    return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
