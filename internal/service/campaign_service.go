// internal/service/campaign_service.go
package service

import (
    "fmt"

    "github.com/rs/zerolog"

    apperrors "github.com/nthuku/mailpacer-backend/internal/errors"
    "github.com/nthuku/mailpacer-backend/internal/model"
    "github.com/nthuku/mailpacer-backend/internal/repository"
    "github.com/nthuku/mailpacer-backend/internal/scheduler"
    "github.com/nthuku/mailpacer-backend/internal/template"
)

// Campaign state-transition table. Every operator-facing lifecycle change
// goes through requireTransition so disallowed transitions are rejected in
// one place instead of at each call site.
var campaignTransitions = map[string][]string{
    "materialize": {model.CampaignStatusDraft, model.CampaignStatusReady},
    "start":       {model.CampaignStatusReady},
    "pause":       {model.CampaignStatusSending},
    "resume":      {model.CampaignStatusPaused},
    "cancel":      {model.CampaignStatusSending, model.CampaignStatusPaused},
    "complete":    {model.CampaignStatusSending},
}

type CampaignService struct {
    CampaignRepo repository.CampaignRepositoryInterface
    ItemRepo     repository.RecipientItemRepositoryInterface
    RunRepo      repository.SendRunRepositoryInterface
    EventRepo    repository.SendEventRepositoryInterface
    SettingsRepo repository.SettingsRepositoryInterface
    Scheduler    scheduler.TickScheduler
    Renderer     template.Renderer
    Log          zerolog.Logger
}

// RecipientInput is one recipient handed to materialization, with the
// fields the template renderer substitutes.
type RecipientInput struct {
    Address string            `json:"address"`
    Fields  map[string]string `json:"fields"`
}

type MaterializeResult struct {
    CampaignID int `json:"campaign_id"`
    Inserted   int `json:"inserted"`
    Deduped    int `json:"deduped"`
    Skipped    int `json:"skipped"`
}

type CampaignDetails struct {
    *model.Campaign
    Stats map[string]int `json:"stats"`
    Run   *model.SendRun `json:"run,omitempty"`
}

func (s *CampaignService) CreateCampaign(name, subjectTemplate, bodyTemplate, senderAlias string) (*model.Campaign, error) {
    c := &model.Campaign{
        Name:            name,
        Status:          model.CampaignStatusDraft,
        SubjectTemplate: subjectTemplate,
        BodyTemplate:    bodyTemplate,
        SenderAlias:     senderAlias,
    }
    if err := s.CampaignRepo.Create(c); err != nil {
        return nil, err
    }
    return c, nil
}

func requireTransition(op, status string) error {
    for _, from := range campaignTransitions[op] {
        if status == from {
            return nil
        }
    }
    return apperrors.NewInvalidTransition(op, status)
}

// MaterializeRecipients renders and bulk-inserts the campaign's recipient
// set. Duplicate addresses are dropped before insertion; a recipient whose
// render fails is skipped and logged, not fatal to the batch. On success a
// draft campaign becomes ready.
func (s *CampaignService) MaterializeRecipients(campaignID int, recipients []RecipientInput) (*MaterializeResult, error) {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return nil, err
    }
    if err := requireTransition("materialize", campaign.Status); err != nil {
        return nil, err
    }

    result := &MaterializeResult{CampaignID: campaignID}
    seen := map[string]bool{}
    items := []*model.RecipientItem{}

    for _, rec := range recipients {
        if seen[rec.Address] {
            result.Deduped++
            continue
        }
        seen[rec.Address] = true

        subject, body, err := s.Renderer.Render(campaign.SubjectTemplate, campaign.BodyTemplate, rec.Fields)
        if err != nil {
            s.Log.Warn().Err(err).Str("recipient", rec.Address).Int("campaign_id", campaignID).
                Msg("render failed, recipient excluded from batch")
            result.Skipped++
            continue
        }

        items = append(items, &model.RecipientItem{
            Recipient: rec.Address,
            Subject:   subject,
            Body:      body,
            State:     model.ItemStatePending,
        })
    }

    if len(items) > 0 {
        if err := s.ItemRepo.Materialize(campaignID, items); err != nil {
            return nil, err
        }
        result.Inserted = len(items)
    }

    if campaign.Status == model.CampaignStatusDraft {
        if _, err := s.CampaignRepo.UpdateStatusIf(campaignID, []string{model.CampaignStatusDraft}, model.CampaignStatusReady); err != nil {
            return nil, err
        }
    }

    return result, nil
}

// Start acquires the global lock, opens a running send run, flips the
// campaign to sending and schedules an immediate tick. Any failure after
// lock acquisition releases the lock before surfacing the error.
func (s *CampaignService) Start(campaignID int) (*model.SendRun, error) {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return nil, err
    }
    if err := requireTransition("start", campaign.Status); err != nil {
        return nil, err
    }

    pending, err := s.ItemRepo.CountByState(campaignID, []string{model.ItemStatePending})
    if err != nil {
        return nil, err
    }
    if pending == 0 {
        return nil, apperrors.NewNoPendingRecipients(campaignID)
    }

    acquired, err := s.CampaignRepo.AcquireGlobalLock(campaignID)
    if err != nil {
        return nil, err
    }
    if !acquired {
        return nil, apperrors.NewLockHeld()
    }

    run := &model.SendRun{CampaignID: campaignID, Status: model.RunStatusRunning}
    if err := s.RunRepo.Create(run); err != nil {
        s.releaseAfterFailedStart(campaignID, nil, err)
        return nil, err
    }

    ok, err := s.CampaignRepo.UpdateStatusIf(campaignID, []string{model.CampaignStatusReady}, model.CampaignStatusSending)
    if err != nil {
        s.releaseAfterFailedStart(campaignID, run, err)
        return nil, err
    }
    if !ok {
        s.releaseAfterFailedStart(campaignID, run, nil)
        return nil, apperrors.NewInvalidTransition("start", campaign.Status)
    }

    if err := s.Scheduler.ScheduleAfter(campaignID, run.ID, 0); err != nil {
        if _, rbErr := s.CampaignRepo.UpdateStatusIf(campaignID, []string{model.CampaignStatusSending}, model.CampaignStatusReady); rbErr != nil {
            s.Log.Error().Err(rbErr).Int("campaign_id", campaignID).Msg("rollback to ready failed")
        }
        s.releaseAfterFailedStart(campaignID, run, err)
        return nil, fmt.Errorf("schedule first tick: %w", err)
    }

    s.Log.Info().Int("campaign_id", campaignID).Int("run_id", run.ID).Msg("campaign started")
    return run, nil
}

// releaseAfterFailedStart undoes a partial start: no orphaned locks, no
// dangling running runs.
func (s *CampaignService) releaseAfterFailedStart(campaignID int, run *model.SendRun, cause error) {
    if run != nil {
        if err := s.RunRepo.Close(run.ID, model.RunStatusCancelled); err != nil {
            s.Log.Error().Err(err).Int("run_id", run.ID).Msg("close run after failed start")
        }
    }
    if err := s.CampaignRepo.ReleaseGlobalLock(campaignID); err != nil {
        s.Log.Error().Err(err).Int("campaign_id", campaignID).Msg("release lock after failed start")
    }
    if cause != nil {
        s.Log.Warn().Err(cause).Int("campaign_id", campaignID).Msg("campaign start rolled back")
    }
}

// Pause marks the campaign and its active run paused. An already-scheduled
// tick is not cancelled; the tick processor skips it on arrival. The global
// lock stays with the campaign.
func (s *CampaignService) Pause(campaignID int) error {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return err
    }
    if err := requireTransition("pause", campaign.Status); err != nil {
        return err
    }

    ok, err := s.CampaignRepo.UpdateStatusIf(campaignID, []string{model.CampaignStatusSending}, model.CampaignStatusPaused)
    if err != nil {
        return err
    }
    if !ok {
        return apperrors.NewInvalidTransition("pause", campaign.Status)
    }

    run, err := s.RunRepo.GetActiveByCampaign(campaignID)
    if err != nil {
        return err
    }
    if run != nil {
        if _, err := s.RunRepo.UpdateStatusIf(run.ID, []string{model.RunStatusRunning}, model.RunStatusPaused); err != nil {
            return err
        }
    }

    s.Log.Info().Int("campaign_id", campaignID).Msg("campaign paused")
    return nil
}

// Resume flips a paused campaign back to sending and schedules an immediate
// tick. The lock was never released on pause.
func (s *CampaignService) Resume(campaignID int) error {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return err
    }
    if err := requireTransition("resume", campaign.Status); err != nil {
        return err
    }

    run, err := s.RunRepo.GetActiveByCampaign(campaignID)
    if err != nil {
        return err
    }
    if run == nil {
        return apperrors.NewRunNotFound(0)
    }

    ok, err := s.CampaignRepo.UpdateStatusIf(campaignID, []string{model.CampaignStatusPaused}, model.CampaignStatusSending)
    if err != nil {
        return err
    }
    if !ok {
        return apperrors.NewInvalidTransition("resume", campaign.Status)
    }
    if _, err := s.RunRepo.UpdateStatusIf(run.ID, []string{model.RunStatusPaused}, model.RunStatusRunning); err != nil {
        return err
    }

    if err := s.Scheduler.ScheduleAfter(campaignID, run.ID, 0); err != nil {
        return fmt.Errorf("schedule resume tick: %w", err)
    }

    s.Log.Info().Int("campaign_id", campaignID).Int("run_id", run.ID).Msg("campaign resumed")
    return nil
}

// Cancel terminally closes the campaign and its run and releases the global
// lock. A tick already in flight is skipped by its own status check.
func (s *CampaignService) Cancel(campaignID int) error {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return err
    }
    if err := requireTransition("cancel", campaign.Status); err != nil {
        return err
    }

    ok, err := s.CampaignRepo.UpdateStatusIf(campaignID,
        []string{model.CampaignStatusSending, model.CampaignStatusPaused}, model.CampaignStatusCancelled)
    if err != nil {
        return err
    }
    if !ok {
        return apperrors.NewInvalidTransition("cancel", campaign.Status)
    }

    run, err := s.RunRepo.GetActiveByCampaign(campaignID)
    if err != nil {
        return err
    }
    if run != nil {
        if err := s.RunRepo.Close(run.ID, model.RunStatusCancelled); err != nil {
            return err
        }
    }

    if err := s.CampaignRepo.ReleaseGlobalLock(campaignID); err != nil {
        return err
    }

    s.Log.Info().Int("campaign_id", campaignID).Msg("campaign cancelled")
    return nil
}

// Complete closes the run and campaign and releases the lock. Called by the
// tick processor once no pending or in-flight recipients remain; not an
// operator-facing operation.
func (s *CampaignService) Complete(campaignID, runID int) error {
    ok, err := s.CampaignRepo.UpdateStatusIf(campaignID,
        []string{model.CampaignStatusSending}, model.CampaignStatusCompleted)
    if err != nil {
        return err
    }
    if !ok {
        // Lost a race with pause/cancel; leave their outcome in place.
        return nil
    }

    if err := s.RunRepo.Close(runID, model.RunStatusCompleted); err != nil {
        return err
    }
    if err := s.CampaignRepo.ReleaseGlobalLock(campaignID); err != nil {
        return err
    }

    s.Log.Info().Int("campaign_id", campaignID).Int("run_id", runID).Msg("campaign completed")
    return nil
}

// ExcludeRecipient and IncludeRecipient toggle an item between pending and
// excluded. The toggle is rejected once the item has left those states.
func (s *CampaignService) ExcludeRecipient(itemID int) error {
    return s.toggleRecipient(itemID, true)
}

func (s *CampaignService) IncludeRecipient(itemID int) error {
    return s.toggleRecipient(itemID, false)
}

func (s *CampaignService) toggleRecipient(itemID int, excluded bool) error {
    item, err := s.ItemRepo.GetByID(itemID)
    if err != nil {
        return err
    }

    ok, err := s.ItemRepo.SetExcluded(itemID, excluded)
    if err != nil {
        return err
    }
    if !ok {
        op := "include"
        if excluded {
            op = "exclude"
        }
        return apperrors.NewInvalidTransition(op+" recipient", item.State)
    }
    return nil
}

// RenderPreview renders the campaign template against ad-hoc fields without
// touching the ledger.
func (s *CampaignService) RenderPreview(campaignID int, fields map[string]string, overrideBody *string) (subject, body string, err error) {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return "", "", err
    }

    bodyTemplate := campaign.BodyTemplate
    if overrideBody != nil && *overrideBody != "" {
        bodyTemplate = *overrideBody
    }

    return s.Renderer.Render(campaign.SubjectTemplate, bodyTemplate, fields)
}

func (s *CampaignService) ListCampaigns(page, pageSize int, status string) ([]*model.Campaign, map[string]int, error) {
    if page < 1 {
        page = 1
    }
    if pageSize < 1 {
        pageSize = 20
    }
    if pageSize > 100 {
        pageSize = 100
    }
    offset := (page - 1) * pageSize

    campaigns, total, err := s.CampaignRepo.ListCampaigns(offset, pageSize, status)
    if err != nil {
        return nil, nil, err
    }

    totalPages := (total + pageSize - 1) / pageSize
    pagination := map[string]int{
        "page":        page,
        "page_size":   pageSize,
        "total_count": total,
        "total_pages": totalPages,
    }

    return campaigns, pagination, nil
}

// ListRecipients pages through a campaign's ledger for progress display.
func (s *CampaignService) ListRecipients(campaignID, page, pageSize int, state string) ([]*model.RecipientItem, map[string]int, error) {
    if page < 1 {
        page = 1
    }
    if pageSize < 1 {
        pageSize = 50
    }
    if pageSize > 500 {
        pageSize = 500
    }
    offset := (page - 1) * pageSize

    items, total, err := s.ItemRepo.ListByCampaign(campaignID, offset, pageSize, state)
    if err != nil {
        return nil, nil, err
    }

    totalPages := (total + pageSize - 1) / pageSize
    pagination := map[string]int{
        "page":        page,
        "page_size":   pageSize,
        "total_count": total,
        "total_pages": totalPages,
    }
    return items, pagination, nil
}

// GetCampaignDetails returns the campaign with its per-state recipient
// counts and its open run, if any.
func (s *CampaignService) GetCampaignDetails(campaignID int) (*CampaignDetails, error) {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return nil, err
    }

    stats, err := s.ItemRepo.CountsByState(campaignID)
    if err != nil {
        return nil, err
    }
    total := 0
    for _, n := range stats {
        total += n
    }
    stats["total"] = total

    run, err := s.RunRepo.GetActiveByCampaign(campaignID)
    if err != nil {
        return nil, err
    }

    return &CampaignDetails{Campaign: campaign, Stats: stats, Run: run}, nil
}
