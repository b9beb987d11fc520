package repository

import (
    "database/sql"
    "time"

    "github.com/lib/pq"

    apperrors "github.com/nthuku/mailpacer-backend/internal/errors"
    "github.com/nthuku/mailpacer-backend/internal/model"
)

type SendRunRepositoryInterface interface {
    Create(run *model.SendRun) error
    GetByID(id int) (*model.SendRun, error)
    // GetActiveByCampaign returns the campaign's running or paused run, or
    // (nil, nil) when none is open.
    GetActiveByCampaign(campaignID int) (*model.SendRun, error)
    UpdateStatusIf(runID int, from []string, to string) (bool, error)
    // Close terminally marks the run completed or cancelled and stamps the
    // end time.
    Close(runID int, status string) error
    SetNextTickAt(runID int, at *time.Time) error
}

type SendRunRepository struct {
    DB *sql.DB
}

const runColumns = `id, campaign_id, status, started_at, ended_at, next_tick_at`

func (r *SendRunRepository) Create(run *model.SendRun) error {
    run.StartedAt = time.Now()
    if run.Status == "" {
        run.Status = model.RunStatusRunning
    }
    query := `
        INSERT INTO send_runs (campaign_id, status, started_at)
        VALUES ($1, $2, $3)
        RETURNING id
    `
    return r.DB.QueryRow(query, run.CampaignID, run.Status, run.StartedAt).Scan(&run.ID)
}

func (r *SendRunRepository) GetByID(id int) (*model.SendRun, error) {
    query := `SELECT ` + runColumns + ` FROM send_runs WHERE id=$1`
    var run model.SendRun
    err := r.DB.QueryRow(query, id).Scan(
        &run.ID, &run.CampaignID, &run.Status, &run.StartedAt, &run.EndedAt, &run.NextTickAt,
    )
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, apperrors.NewRunNotFound(id)
        }
        return nil, err
    }
    return &run, nil
}

func (r *SendRunRepository) GetActiveByCampaign(campaignID int) (*model.SendRun, error) {
    query := `SELECT ` + runColumns + ` FROM send_runs
              WHERE campaign_id=$1 AND status = ANY($2)
              ORDER BY id DESC LIMIT 1`
    var run model.SendRun
    err := r.DB.QueryRow(query, campaignID, pq.Array([]string{model.RunStatusRunning, model.RunStatusPaused})).Scan(
        &run.ID, &run.CampaignID, &run.Status, &run.StartedAt, &run.EndedAt, &run.NextTickAt,
    )
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, nil
        }
        return nil, err
    }
    return &run, nil
}

func (r *SendRunRepository) UpdateStatusIf(runID int, from []string, to string) (bool, error) {
    query := `UPDATE send_runs SET status=$1 WHERE id=$2 AND status = ANY($3)`
    res, err := r.DB.Exec(query, to, runID, pq.Array(from))
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n == 1, nil
}

func (r *SendRunRepository) Close(runID int, status string) error {
    query := `UPDATE send_runs SET status=$1, ended_at=NOW(), next_tick_at=NULL
              WHERE id=$2 AND status = ANY($3)`
    _, err := r.DB.Exec(query, status, runID, pq.Array([]string{model.RunStatusRunning, model.RunStatusPaused}))
    return err
}

func (r *SendRunRepository) SetNextTickAt(runID int, at *time.Time) error {
    query := `UPDATE send_runs SET next_tick_at=$1 WHERE id=$2`
    _, err := r.DB.Exec(query, at, runID)
    return err
}

var _ SendRunRepositoryInterface = (*SendRunRepository)(nil)
