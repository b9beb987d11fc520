// internal/service/tick_service.go
package service

import (
    "time"

    "github.com/rs/zerolog"

    "github.com/nthuku/mailpacer-backend/internal/model"
    "github.com/nthuku/mailpacer-backend/internal/pacing"
    "github.com/nthuku/mailpacer-backend/internal/repository"
    "github.com/nthuku/mailpacer-backend/internal/scheduler"
    "github.com/nthuku/mailpacer-backend/internal/transport"
)

// TickOutcome is what one tick invocation did. Transport failures are not
// tick failures: the outcome is still "sent" because a tick happened; the
// per-item state carries the error.
type TickOutcome string

const (
    TickSkipped   TickOutcome = "skipped"
    TickScheduled TickOutcome = "scheduled"
    TickCompleted TickOutcome = "completed"
    TickSent      TickOutcome = "sent"
)

// claimRetryDelay is the short reschedule used when a tick loses a claim
// race or finds a claim still in flight from a crashed tick.
const claimRetryDelay = 15 * time.Second

// TickService is the orchestration step for a single externally delivered
// tick. Every step is a hard gate; the whole sequence is safe to re-invoke
// for the same logical tick.
type TickService struct {
    CampaignRepo repository.CampaignRepositoryInterface
    ItemRepo     repository.RecipientItemRepositoryInterface
    RunRepo      repository.SendRunRepositoryInterface
    EventRepo    repository.SendEventRepositoryInterface
    SettingsRepo repository.SettingsRepositoryInterface
    Transport    transport.Transport
    Scheduler    scheduler.TickScheduler
    Lifecycle    *CampaignService
    Log          zerolog.Logger

    // Now is injectable for tests; defaults to time.Now.
    Now func() time.Time
}

func (s *TickService) now() time.Time {
    if s.Now != nil {
        return s.Now()
    }
    return time.Now()
}

func (s *TickService) ProcessTick(campaignID, sendRunID int) (TickOutcome, error) {
    log := s.Log.With().Int("campaign_id", campaignID).Int("run_id", sendRunID).Logger()

    // Gates 1-2: a tick arriving after pause or cancel is a no-op.
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return TickSkipped, err
    }
    if campaign.Status != model.CampaignStatusSending {
        log.Debug().Str("status", campaign.Status).Msg("tick skipped, campaign not sending")
        return TickSkipped, nil
    }

    run, err := s.RunRepo.GetByID(sendRunID)
    if err != nil {
        return TickSkipped, err
    }
    if run.Status != model.RunStatusRunning {
        log.Debug().Str("run_status", run.Status).Msg("tick skipped, run not running")
        return TickSkipped, nil
    }

    // Gates 3-4: completion needs zero pending AND zero in-flight; an
    // in-flight claim from a crashed or concurrent tick only warrants a
    // short retry, never a claim or a completion.
    pending, err := s.ItemRepo.CountByState(campaignID, []string{model.ItemStatePending})
    if err != nil {
        return TickSkipped, err
    }
    inflight, err := s.ItemRepo.CountByState(campaignID, []string{model.ItemStateSending})
    if err != nil {
        return TickSkipped, err
    }

    if pending == 0 && inflight == 0 {
        if err := s.Lifecycle.Complete(campaignID, sendRunID); err != nil {
            return TickSkipped, err
        }
        return TickCompleted, nil
    }
    if pending == 0 {
        log.Info().Int("inflight", inflight).Msg("claims in flight, retrying shortly")
        return s.reschedule(campaignID, sendRunID, s.now().Add(claimRetryDelay))
    }

    settings, err := s.SettingsRepo.Get()
    if err != nil {
        return TickSkipped, err
    }
    // A missing sending identity is operator-recoverable: pause instead of
    // erroring the tick.
    if settings.SenderAddress == "" {
        log.Warn().Msg("no sending identity configured, pausing campaign")
        if err := s.Lifecycle.Pause(campaignID); err != nil {
            return TickSkipped, err
        }
        return TickSkipped, nil
    }

    // Gate 5: pacing.
    now := s.now()
    sentToday, err := s.sentToday(settings.Pacing, now)
    if err != nil {
        return TickSkipped, err
    }
    decision, err := pacing.Decide(settings.Pacing, pending, sentToday, now)
    if err != nil {
        return TickSkipped, err
    }
    if decision.Kind != pacing.Immediate {
        log.Info().Str("reason", decision.Kind.String()).Time("not_before", decision.NotBefore).
            Msg("sending deferred")
        return s.reschedule(campaignID, sendRunID, decision.NotBefore)
    }

    // Gate 6: the atomic claim. Losing the race to a concurrent tick is
    // normal, not an error.
    item, err := s.ItemRepo.ClaimNextPending(campaignID)
    if err != nil {
        return TickSkipped, err
    }
    if item == nil {
        log.Info().Msg("claim lost to a concurrent tick, retrying shortly")
        return s.reschedule(campaignID, sendRunID, now.Add(claimRetryDelay))
    }

    // Gate 7: deliver and record. One failed recipient never halts the run.
    alias := campaign.SenderAlias
    if alias == "" {
        alias = settings.SenderAlias
    }

    result, sendErr := s.Transport.Send(item.Recipient, item.Subject, item.Body, alias)
    if sendErr != nil {
        log.Warn().Err(sendErr).Str("recipient", item.Recipient).Msg("transport send failed")
        if err := s.ItemRepo.MarkFailed(item.ID, sendErr.Error()); err != nil {
            return TickSkipped, err
        }
        if err := s.EventRepo.Append(&model.SendEvent{
            RecipientItemID: item.ID,
            Status:          model.EventStatusFailed,
            ErrorText:       sendErr.Error(),
        }); err != nil {
            return TickSkipped, err
        }
        minDelay := time.Duration(settings.Pacing.MinDelaySeconds) * time.Second
        if _, err := s.reschedule(campaignID, sendRunID, now.Add(minDelay)); err != nil {
            return TickSkipped, err
        }
        return TickSent, nil
    }

    if err := s.ItemRepo.MarkSent(item.ID); err != nil {
        return TickSkipped, err
    }
    ev := &model.SendEvent{
        RecipientItemID: item.ID,
        Status:          model.EventStatusSent,
    }
    if result != nil {
        ev.MessageID = result.MessageID
        ev.ThreadID = result.ThreadID
        ev.Permalink = result.Permalink
    }
    if err := s.EventRepo.Append(ev); err != nil {
        return TickSkipped, err
    }

    log.Info().Str("recipient", item.Recipient).Msg("recipient sent")
    if _, err := s.reschedule(campaignID, sendRunID, now.Add(decision.Delay)); err != nil {
        return TickSkipped, err
    }
    return TickSent, nil
}

// reschedule persists the advisory next-tick time and asks the external
// scheduler for a callback.
func (s *TickService) reschedule(campaignID, sendRunID int, at time.Time) (TickOutcome, error) {
    if err := s.RunRepo.SetNextTickAt(sendRunID, &at); err != nil {
        return TickSkipped, err
    }
    if err := s.Scheduler.ScheduleAt(campaignID, sendRunID, at); err != nil {
        return TickSkipped, err
    }
    return TickScheduled, nil
}

// sentToday counts successful sends since local midnight in the configured
// timezone. The quota is global across campaigns and resets at midnight, it
// is not a sliding 24h window.
func (s *TickService) sentToday(cfg model.PacingConfig, now time.Time) (int, error) {
    loc := time.UTC
    if cfg.Timezone != "" {
        var err error
        loc, err = time.LoadLocation(cfg.Timezone)
        if err != nil {
            return 0, err
        }
    }
    local := now.In(loc)
    y, m, d := local.Date()
    midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
    return s.EventRepo.CountSentSince(midnight)
}
