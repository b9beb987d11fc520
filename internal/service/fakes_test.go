package service_test

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/nthuku/mailpacer-backend/internal/errors"
	"github.com/nthuku/mailpacer-backend/internal/model"
	"github.com/nthuku/mailpacer-backend/internal/service"
	"github.com/nthuku/mailpacer-backend/internal/template"
	"github.com/nthuku/mailpacer-backend/internal/transport"
)

// fakeState is an in-memory stand-in for the Postgres schema, shared by the
// fake repositories so cross-aggregate invariants (the lock, run/ledger
// consistency) behave like the real store.
type fakeState struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
	items     map[int]*model.RecipientItem
	runs      map[int]*model.SendRun
	events    map[int]*model.SendEvent // keyed by recipient item id
	settings  model.Settings
	nextID    int
}

func newFakeState() *fakeState {
	return &fakeState{
		campaigns: map[int]*model.Campaign{},
		items:     map[int]*model.RecipientItem{},
		runs:      map[int]*model.SendRun{},
		events:    map[int]*model.SendEvent{},
	}
}

func (st *fakeState) id() int {
	st.nextID++
	return st.nextID
}

// --- campaign repo ---

type fakeCampaignRepo struct{ st *fakeState }

func (r *fakeCampaignRepo) Create(c *model.Campaign) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c.ID = r.st.id()
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	cp := *c
	r.st.campaigns[c.ID] = &cp
	return nil
}

func (r *fakeCampaignRepo) GetByID(id int) (*model.Campaign, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, ok := r.st.campaigns[id]
	if !ok {
		return nil, apperrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCampaignRepo) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.st.campaigns {
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *fakeCampaignRepo) UpdateStatusIf(campaignID int, from []string, to string) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, ok := r.st.campaigns[campaignID]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeCampaignRepo) AcquireGlobalLock(campaignID int) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, c := range r.st.campaigns {
		if c.ActiveLock {
			return false, nil
		}
	}
	c, ok := r.st.campaigns[campaignID]
	if !ok {
		return false, nil
	}
	c.ActiveLock = true
	return true, nil
}

func (r *fakeCampaignRepo) ReleaseGlobalLock(campaignID int) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if c, ok := r.st.campaigns[campaignID]; ok {
		c.ActiveLock = false
	}
	return nil
}

// --- recipient item repo ---

type fakeItemRepo struct{ st *fakeState }

func (r *fakeItemRepo) Materialize(campaignID int, items []*model.RecipientItem) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, it := range items {
		for _, existing := range r.st.items {
			if existing.CampaignID == campaignID && existing.Recipient == it.Recipient {
				return fmt.Errorf("duplicate recipient %s in campaign %d", it.Recipient, campaignID)
			}
		}
		it.ID = r.st.id()
		it.CampaignID = campaignID
		it.CreatedAt = time.Now()
		it.UpdatedAt = it.CreatedAt
		if it.State == "" {
			it.State = model.ItemStatePending
		}
		cp := *it
		r.st.items[it.ID] = &cp
	}
	return nil
}

func (r *fakeItemRepo) GetByID(id int) (*model.RecipientItem, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	it, ok := r.st.items[id]
	if !ok {
		return nil, apperrors.NewRecipientNotFound(id)
	}
	cp := *it
	return &cp, nil
}

func (r *fakeItemRepo) ClaimNextPending(campaignID int) (*model.RecipientItem, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var oldest *model.RecipientItem
	for _, it := range r.st.items {
		if it.CampaignID != campaignID || it.State != model.ItemStatePending {
			continue
		}
		if oldest == nil || it.ID < oldest.ID {
			oldest = it
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.State = model.ItemStateSending
	oldest.UpdatedAt = time.Now()
	cp := *oldest
	return &cp, nil
}

func (r *fakeItemRepo) MarkSent(id int) error {
	return r.mark(id, model.ItemStateSent, "")
}

func (r *fakeItemRepo) MarkFailed(id int, lastError string) error {
	return r.mark(id, model.ItemStateFailed, lastError)
}

func (r *fakeItemRepo) mark(id int, state, lastError string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	it, ok := r.st.items[id]
	if !ok {
		return nil
	}
	if it.State != model.ItemStateSending && it.State != model.ItemStatePending {
		return nil
	}
	it.State = state
	it.LastError = lastError
	it.UpdatedAt = time.Now()
	return nil
}

func (r *fakeItemRepo) CountByState(campaignID int, states []string) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	count := 0
	for _, it := range r.st.items {
		if it.CampaignID != campaignID {
			continue
		}
		for _, s := range states {
			if it.State == s {
				count++
				break
			}
		}
	}
	return count, nil
}

func (r *fakeItemRepo) CountsByState(campaignID int) (map[string]int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	stats := map[string]int{
		model.ItemStatePending:  0,
		model.ItemStateSending:  0,
		model.ItemStateSent:     0,
		model.ItemStateFailed:   0,
		model.ItemStateExcluded: 0,
	}
	for _, it := range r.st.items {
		if it.CampaignID == campaignID {
			stats[it.State]++
		}
	}
	return stats, nil
}

func (r *fakeItemRepo) SetExcluded(id int, excluded bool) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	it, ok := r.st.items[id]
	if !ok {
		return false, nil
	}
	if excluded {
		if it.State != model.ItemStatePending {
			return false, nil
		}
		it.State = model.ItemStateExcluded
		it.ExcludedManually = true
		return true, nil
	}
	if it.State != model.ItemStateExcluded {
		return false, nil
	}
	it.State = model.ItemStatePending
	it.ExcludedManually = false
	it.IncludedManually = true
	return true, nil
}

func (r *fakeItemRepo) ListByCampaign(campaignID, offset, limit int, state string) ([]*model.RecipientItem, int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := []*model.RecipientItem{}
	for _, it := range r.st.items {
		if it.CampaignID != campaignID {
			continue
		}
		if state != "" && it.State != state {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

// --- send run repo ---

type fakeRunRepo struct{ st *fakeState }

func (r *fakeRunRepo) Create(run *model.SendRun) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	run.ID = r.st.id()
	run.StartedAt = time.Now()
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
	cp := *run
	r.st.runs[run.ID] = &cp
	return nil
}

func (r *fakeRunRepo) GetByID(id int) (*model.SendRun, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	run, ok := r.st.runs[id]
	if !ok {
		return nil, apperrors.NewRunNotFound(id)
	}
	cp := *run
	return &cp, nil
}

func (r *fakeRunRepo) GetActiveByCampaign(campaignID int) (*model.SendRun, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var latest *model.SendRun
	for _, run := range r.st.runs {
		if run.CampaignID != campaignID {
			continue
		}
		if run.Status != model.RunStatusRunning && run.Status != model.RunStatusPaused {
			continue
		}
		if latest == nil || run.ID > latest.ID {
			latest = run
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeRunRepo) UpdateStatusIf(runID int, from []string, to string) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	run, ok := r.st.runs[runID]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if run.Status == f {
			run.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRunRepo) Close(runID int, status string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	run, ok := r.st.runs[runID]
	if !ok {
		return nil
	}
	if run.Status != model.RunStatusRunning && run.Status != model.RunStatusPaused {
		return nil
	}
	now := time.Now()
	run.Status = status
	run.EndedAt = &now
	run.NextTickAt = nil
	return nil
}

func (r *fakeRunRepo) SetNextTickAt(runID int, at *time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if run, ok := r.st.runs[runID]; ok {
		run.NextTickAt = at
	}
	return nil
}

// --- send event repo ---

type fakeEventRepo struct{ st *fakeState }

func (r *fakeEventRepo) Append(ev *model.SendEvent) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	existing, ok := r.st.events[ev.RecipientItemID]
	if ok && existing.Status == model.EventStatusSent {
		// Never downgrade a recorded success.
		return nil
	}
	cp := *ev
	if ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.ID = r.st.id()
	}
	r.st.events[ev.RecipientItemID] = &cp
	return nil
}

func (r *fakeEventRepo) GetByItemID(itemID int) (*model.SendEvent, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	ev, ok := r.st.events[itemID]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (r *fakeEventRepo) CountSentSince(t time.Time) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	count := 0
	for _, ev := range r.st.events {
		if ev.Status == model.EventStatusSent && !ev.CreatedAt.Before(t) {
			count++
		}
	}
	return count, nil
}

// --- settings repo ---

type fakeSettingsRepo struct{ st *fakeState }

func (r *fakeSettingsRepo) Get() (*model.Settings, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cp := r.st.settings
	return &cp, nil
}

func (r *fakeSettingsRepo) Update(s *model.Settings) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.settings = *s
	return nil
}

// --- scheduler ---

type schedCall struct {
	CampaignID int
	SendRunID  int
	Delay      time.Duration
	At         time.Time
	Timed      bool // true for ScheduleAt
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []schedCall
}

func (s *fakeScheduler) ScheduleAfter(campaignID, sendRunID int, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, schedCall{CampaignID: campaignID, SendRunID: sendRunID, Delay: delay})
	return nil
}

func (s *fakeScheduler) ScheduleAt(campaignID, sendRunID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, schedCall{CampaignID: campaignID, SendRunID: sendRunID, At: at, Timed: true})
	return nil
}

func (s *fakeScheduler) last() (schedCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return schedCall{}, false
	}
	return s.calls[len(s.calls)-1], true
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// --- transport ---

type fakeTransport struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]error
}

func (t *fakeTransport) Send(to, subject, body, senderAlias string) (*transport.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.failFor[to]; ok {
		return nil, err
	}
	t.sent = append(t.sent, to)
	return &transport.SendResult{MessageID: fmt.Sprintf("msg-%d", len(t.sent))}, nil
}

func (t *fakeTransport) recipients() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.sent...)
}

// --- fixture ---

type fixture struct {
	st        *fakeState
	campaigns *fakeCampaignRepo
	items     *fakeItemRepo
	runs      *fakeRunRepo
	events    *fakeEventRepo
	settings  *fakeSettingsRepo
	sched     *fakeScheduler
	transport *fakeTransport
	lifecycle *service.CampaignService
	ticks     *service.TickService
}

func newFixture() *fixture {
	st := newFakeState()
	st.settings = model.Settings{
		SenderAddress: "sender@example.com",
		SenderAlias:   "Example",
		Pacing: model.PacingConfig{
			DailyQuota:      100,
			MinDelaySeconds: 30,
		},
	}

	f := &fixture{
		st:        st,
		campaigns: &fakeCampaignRepo{st: st},
		items:     &fakeItemRepo{st: st},
		runs:      &fakeRunRepo{st: st},
		events:    &fakeEventRepo{st: st},
		settings:  &fakeSettingsRepo{st: st},
		sched:     &fakeScheduler{},
		transport: &fakeTransport{failFor: map[string]error{}},
	}

	f.lifecycle = &service.CampaignService{
		CampaignRepo: f.campaigns,
		ItemRepo:     f.items,
		RunRepo:      f.runs,
		EventRepo:    f.events,
		SettingsRepo: f.settings,
		Scheduler:    f.sched,
		Renderer:     template.PlaceholderRenderer{},
		Log:          zerolog.Nop(),
	}
	f.ticks = &service.TickService{
		CampaignRepo: f.campaigns,
		ItemRepo:     f.items,
		RunRepo:      f.runs,
		EventRepo:    f.events,
		SettingsRepo: f.settings,
		Transport:    f.transport,
		Scheduler:    f.sched,
		Lifecycle:    f.lifecycle,
		Log:          zerolog.Nop(),
	}
	return f
}

// seedCampaign creates a ready campaign with the given recipients already
// materialized.
func (f *fixture) seedCampaign(recipients ...string) *model.Campaign {
	c, err := f.lifecycle.CreateCampaign("test", "Hi {first_name}", "Hello {first_name}", "")
	if err != nil {
		panic(err)
	}
	inputs := make([]service.RecipientInput, len(recipients))
	for i, addr := range recipients {
		inputs[i] = service.RecipientInput{Address: addr, Fields: map[string]string{"first_name": "Alice"}}
	}
	if _, err := f.lifecycle.MaterializeRecipients(c.ID, inputs); err != nil {
		panic(err)
	}
	return c
}

// startCampaign seeds and starts, returning the campaign and its run.
func (f *fixture) startCampaign(recipients ...string) (*model.Campaign, *model.SendRun) {
	c := f.seedCampaign(recipients...)
	run, err := f.lifecycle.Start(c.ID)
	if err != nil {
		panic(err)
	}
	return c, run
}
