package repositories

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store for development and tests.
// Every operation and every InTx callback runs under one mutex, so conditional
// updates keep the same all-or-nothing semantics as the Postgres store.
type MemoryStore struct {
	state *memoryState
	inTx  bool
}

type statsKey struct {
	userID   int
	currency models.Currency
}

type memoryState struct {
	mu           sync.Mutex
	tournaments  map[uuid.UUID]*models.Tournament
	entries      map[uuid.UUID]*models.Entry
	instructions map[uuid.UUID]*models.PaymentInstruction
	jobs         map[uuid.UUID]*models.Job
	stats        map[statsKey]*models.PlayerStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{
		tournaments:  make(map[uuid.UUID]*models.Tournament),
		entries:      make(map[uuid.UUID]*models.Entry),
		instructions: make(map[uuid.UUID]*models.PaymentInstruction),
		jobs:         make(map[uuid.UUID]*models.Job),
		stats:        make(map[statsKey]*models.PlayerStats),
	}}
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.state.mu.Lock()
	return s.state.mu.Unlock
}

func (s *MemoryStore) Tournaments() TournamentRepository {
	return &memoryTournamentRepository{s: s}
}

func (s *MemoryStore) Entries() EntryRepository {
	return &memoryEntryRepository{s: s}
}

func (s *MemoryStore) Instructions() InstructionRepository {
	return &memoryInstructionRepository{s: s}
}

func (s *MemoryStore) Jobs() JobRepository {
	return &memoryJobRepository{s: s}
}

func (s *MemoryStore) Stats() StatsRepository {
	return &memoryStatsRepository{s: s}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	snap := s.state.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.state.restore(snap)
			panic(p)
		}
		if err != nil {
			s.state.restore(snap)
		}
	}()

	return fn(&MemoryStore{state: s.state, inTx: true})
}

func (st *memoryState) snapshot() *memoryState {
	snap := &memoryState{
		tournaments:  make(map[uuid.UUID]*models.Tournament, len(st.tournaments)),
		entries:      make(map[uuid.UUID]*models.Entry, len(st.entries)),
		instructions: make(map[uuid.UUID]*models.PaymentInstruction, len(st.instructions)),
		jobs:         make(map[uuid.UUID]*models.Job, len(st.jobs)),
		stats:        make(map[statsKey]*models.PlayerStats, len(st.stats)),
	}
	for k, v := range st.tournaments {
		snap.tournaments[k] = v.Clone()
	}
	for k, v := range st.entries {
		snap.entries[k] = v.Clone()
	}
	for k, v := range st.instructions {
		c := *v
		snap.instructions[k] = &c
	}
	for k, v := range st.jobs {
		c := *v
		snap.jobs[k] = &c
	}
	for k, v := range st.stats {
		c := *v
		snap.stats[k] = &c
	}
	return snap
}

func (st *memoryState) restore(snap *memoryState) {
	st.tournaments = snap.tournaments
	st.entries = snap.entries
	st.instructions = snap.instructions
	st.jobs = snap.jobs
	st.stats = snap.stats
}

type memoryTournamentRepository struct {
	s *MemoryStore
}

func (r *memoryTournamentRepository) Create(ctx context.Context, t *models.Tournament) error {
	defer r.s.lock()()
	if t.CurrentPlayers < 0 || t.CurrentPlayers > t.MaxPlayers {
		return ErrCapacityViolation
	}
	r.s.state.tournaments[t.ID] = t.Clone()
	return nil
}

func (r *memoryTournamentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	defer r.s.lock()()
	t, ok := r.s.state.tournaments[id]
	if !ok {
		return nil, ErrTournamentNotFound
	}
	return t.Clone(), nil
}

func (r *memoryTournamentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	return r.GetByID(ctx, id)
}

// GetForShare: InTx уже держит общий мьютекс.
func (r *memoryTournamentRepository) GetForShare(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	return r.GetByID(ctx, id)
}

func (r *memoryTournamentRepository) List(ctx context.Context, f ListTournamentsFilter) ([]models.Tournament, error) {
	defer r.s.lock()()

	out := make([]models.Tournament, 0)
	for _, t := range r.s.state.tournaments {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
			continue
		}
		if f.Mode != nil && t.Mode != *f.Mode {
			continue
		}
		if f.GameID != nil && t.GameID != *f.GameID {
			continue
		}
		if f.Currency != nil && t.Currency != *f.Currency {
			continue
		}
		if f.MinEntryFee != nil && t.EntryFee.LessThan(*f.MinEntryFee) {
			continue
		}
		if f.MaxEntryFee != nil && t.EntryFee.GreaterThan(*f.MaxEntryFee) {
			continue
		}
		out = append(out, *t.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		c := compareTournaments(&out[i], &out[j], f.SortBy)
		if c == 0 {
			return out[i].ID.String() < out[j].ID.String()
		}
		if f.SortDesc {
			return c > 0
		}
		return c < 0
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.Tournament{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func compareTournaments(a, b *models.Tournament, sortBy string) int {
	switch sortBy {
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "entry_fee":
		return a.EntryFee.Cmp(b.EntryFee)
	case "prize_pool":
		return a.PrizePool.Cmp(b.PrizePool)
	default:
		return a.ScheduledStart.Compare(b.ScheduledStart)
	}
}

func (r *memoryTournamentRepository) IncrementPlayers(ctx context.Context, id uuid.UUID) (bool, error) {
	defer r.s.lock()()
	t, ok := r.s.state.tournaments[id]
	if !ok || t.Status != models.StatusOpen || t.CurrentPlayers >= t.MaxPlayers {
		return false, nil
	}
	c := t.Clone()
	c.CurrentPlayers++
	c.UpdatedAt = time.Now()
	r.s.state.tournaments[id] = c
	return true, nil
}

func (r *memoryTournamentRepository) DecrementPlayers(ctx context.Context, id uuid.UUID) (bool, error) {
	defer r.s.lock()()
	t, ok := r.s.state.tournaments[id]
	if !ok || t.Status != models.StatusOpen || t.CurrentPlayers <= 0 {
		return false, nil
	}
	c := t.Clone()
	c.CurrentPlayers--
	c.UpdatedAt = time.Now()
	r.s.state.tournaments[id] = c
	return true, nil
}

func (r *memoryTournamentRepository) ReleaseSlots(ctx context.Context, id uuid.UUID, n int) error {
	if n <= 0 {
		return nil
	}
	defer r.s.lock()()
	t, ok := r.s.state.tournaments[id]
	if !ok || t.CurrentPlayers < n {
		return ErrCapacityViolation
	}
	c := t.Clone()
	c.CurrentPlayers -= n
	c.UpdatedAt = time.Now()
	r.s.state.tournaments[id] = c
	return nil
}

func (r *memoryTournamentRepository) TransitionStatus(ctx context.Context, id uuid.UUID, change StatusChange) (bool, error) {
	defer r.s.lock()()
	t, ok := r.s.state.tournaments[id]
	if !ok || !slices.Contains(change.From, t.Status) {
		return false, nil
	}
	c := t.Clone()
	c.Status = change.To
	at := change.At
	switch change.To {
	case models.StatusInProgress:
		c.ActualStart = &at
	case models.StatusCompleted, models.StatusCancelled:
		c.ActualEnd = &at
	}
	if change.Reason != nil {
		reason := *change.Reason
		c.CancelReason = &reason
	}
	if change.PlatformFeeAmount != nil {
		fee := *change.PlatformFeeAmount
		c.PlatformFeeAmount = &fee
	}
	c.UpdatedAt = at
	r.s.state.tournaments[id] = c
	return true, nil
}

func (r *memoryTournamentRepository) ListOverdue(ctx context.Context, now time.Time) ([]models.OverdueTournament, error) {
	defer r.s.lock()()

	hasJob := func(id uuid.UUID, typ models.JobType) bool {
		for _, j := range r.s.state.jobs {
			if j.TournamentID == id && j.Type == typ &&
				(j.Status == models.JobPending || j.Status == models.JobRunning || j.Status == models.JobDead) {
				return true
			}
		}
		return false
	}

	var overdue []models.OverdueTournament
	for _, t := range r.s.state.tournaments {
		switch t.Status {
		case models.StatusScheduled, models.StatusOpen:
			if !t.ScheduledStart.After(now) && !hasJob(t.ID, models.JobStartTournament) {
				overdue = append(overdue, models.OverdueTournament{TournamentID: t.ID, JobType: models.JobStartTournament})
			}
		case models.StatusInProgress:
			deadline, err := t.EndDeadline()
			if err == nil && !deadline.After(now) && !hasJob(t.ID, models.JobEndTournament) {
				overdue = append(overdue, models.OverdueTournament{TournamentID: t.ID, JobType: models.JobEndTournament})
			}
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].TournamentID.String() < overdue[j].TournamentID.String() })
	return overdue, nil
}

type memoryEntryRepository struct {
	s *MemoryStore
}

func (r *memoryEntryRepository) Create(ctx context.Context, e *models.Entry) error {
	defer r.s.lock()()
	if _, ok := r.s.state.tournaments[e.TournamentID]; !ok {
		return ErrTournamentNotFound
	}
	for _, existing := range r.s.state.entries {
		if existing.TournamentID == e.TournamentID && existing.UserID == e.UserID {
			return ErrEntryConflict
		}
	}
	r.s.state.entries[e.ID] = e.Clone()
	return nil
}

func (r *memoryEntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Entry, error) {
	defer r.s.lock()()
	e, ok := r.s.state.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e.Clone(), nil
}

func (r *memoryEntryRepository) GetByTournamentAndUser(ctx context.Context, tournamentID uuid.UUID, userID int) (*models.Entry, error) {
	defer r.s.lock()()
	for _, e := range r.s.state.entries {
		if e.TournamentID == tournamentID && e.UserID == userID {
			return e.Clone(), nil
		}
	}
	return nil, ErrEntryNotFound
}

func (r *memoryEntryRepository) ListByTournament(ctx context.Context, tournamentID uuid.UUID, statuses []models.EntryStatus) ([]models.Entry, error) {
	defer r.s.lock()()
	out := make([]models.Entry, 0)
	for _, e := range r.s.state.entries {
		if e.TournamentID != tournamentID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, e.Status) {
			continue
		}
		out = append(out, *e.Clone())
	}
	sortEntries(out)
	return out, nil
}

func (r *memoryEntryRepository) ListByUser(ctx context.Context, userID int) ([]models.Entry, error) {
	defer r.s.lock()()
	out := make([]models.Entry, 0)
	for _, e := range r.s.state.entries {
		if e.UserID == userID {
			out = append(out, *e.Clone())
		}
	}
	sortEntries(out)
	slices.Reverse(out)
	return out, nil
}

func applyEntryChange(e *models.Entry, change EntryChange) *models.Entry {
	c := e.Clone()
	c.Status = change.To
	at := change.At
	if change.Reason != nil {
		reason := *change.Reason
		c.StatusReason = &reason
	}
	if change.TxHash != nil && c.EntryTxHash == nil {
		hash := *change.TxHash
		c.EntryTxHash = &hash
	}
	switch change.To {
	case models.EntryPlaying:
		c.StartedAt = &at
	case models.EntryCompleted:
		if c.CompletedAt == nil {
			c.CompletedAt = &at
		}
	}
	return c
}

func (r *memoryEntryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, change EntryChange) (bool, error) {
	defer r.s.lock()()
	e, ok := r.s.state.entries[id]
	if !ok || !slices.Contains(change.From, e.Status) {
		return false, nil
	}
	r.s.state.entries[id] = applyEntryChange(e, change)
	return true, nil
}

func (r *memoryEntryRepository) DeletePending(ctx context.Context, id uuid.UUID) (bool, error) {
	defer r.s.lock()()
	e, ok := r.s.state.entries[id]
	if !ok || e.Status != models.EntryPending || e.EntryTxHash != nil {
		return false, nil
	}
	delete(r.s.state.entries, id)
	return true, nil
}

func (r *memoryEntryRepository) TransitionAll(ctx context.Context, tournamentID uuid.UUID, change EntryChange) ([]models.Entry, error) {
	defer r.s.lock()()
	changed := make([]models.Entry, 0)
	for id, e := range r.s.state.entries {
		if e.TournamentID != tournamentID || !slices.Contains(change.From, e.Status) {
			continue
		}
		updated := applyEntryChange(e, change)
		r.s.state.entries[id] = updated
		changed = append(changed, *updated.Clone())
	}
	sortEntries(changed)
	return changed, nil
}

func (r *memoryEntryRepository) RecordScore(ctx context.Context, id uuid.UUID, u ScoreUpdate) (bool, error) {
	defer r.s.lock()()
	e, ok := r.s.state.entries[id]
	if !ok || e.Status != models.EntryPlaying || e.RoundsPlayed != u.ExpectedRounds {
		return false, nil
	}
	t, ok := r.s.state.tournaments[e.TournamentID]
	if !ok || t.Status != models.StatusInProgress || e.RoundsPlayed >= t.RoundsCount {
		return false, nil
	}

	c := e.Clone()
	score := u.Score
	submittedAt := u.SubmittedAt
	at := u.At
	c.Score = &score
	c.SubmittedAt = &submittedAt
	c.RoundsPlayed++
	if len(u.Metadata) > 0 {
		c.ScoreMetadata = append([]byte(nil), u.Metadata...)
	}
	if u.Complete {
		c.Status = models.EntryCompleted
	}
	if u.Complete || c.RoundsPlayed >= t.RoundsCount {
		c.CompletedAt = &at
	}
	r.s.state.entries[id] = c
	return true, nil
}

func (r *memoryEntryRepository) SetResult(ctx context.Context, id uuid.UUID, rank *int, prize decimal.Decimal) (bool, error) {
	defer r.s.lock()()
	e, ok := r.s.state.entries[id]
	if !ok || e.PrizeWon != nil {
		return false, nil
	}
	c := e.Clone()
	if rank != nil {
		rk := *rank
		c.FinalRank = &rk
	}
	c.PrizeWon = &prize
	r.s.state.entries[id] = c
	return true, nil
}

func (r *memoryEntryRepository) SetPrizeTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	defer r.s.lock()()
	e, ok := r.s.state.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if e.PrizeTxHash != nil {
		return nil
	}
	c := e.Clone()
	c.PrizeTxHash = &txHash
	r.s.state.entries[id] = c
	return nil
}

type memoryInstructionRepository struct {
	s *MemoryStore
}

func (r *memoryInstructionRepository) Insert(ctx context.Context, in *models.PaymentInstruction) (bool, error) {
	defer r.s.lock()()
	for _, existing := range r.s.state.instructions {
		if existing.TournamentID == in.TournamentID && existing.EntryID == in.EntryID {
			return false, nil
		}
	}
	c := *in
	r.s.state.instructions[in.ID] = &c
	return true, nil
}

func (r *memoryInstructionRepository) filter(tournamentID uuid.UUID, pendingOnly bool) []models.PaymentInstruction {
	out := make([]models.PaymentInstruction, 0)
	for _, in := range r.s.state.instructions {
		if in.TournamentID != tournamentID || (pendingOnly && in.Status != models.InstructionPending) {
			continue
		}
		out = append(out, *in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		ri, rj := out[i].Rank, out[j].Rank
		switch {
		case ri != nil && rj != nil && *ri != *rj:
			return *ri < *rj
		case ri != nil && rj == nil:
			return true
		case ri == nil && rj != nil:
			return false
		}
		return out[i].EntryID.String() < out[j].EntryID.String()
	})
	return out
}

func (r *memoryInstructionRepository) ListByTournament(ctx context.Context, tournamentID uuid.UUID) ([]models.PaymentInstruction, error) {
	defer r.s.lock()()
	return r.filter(tournamentID, false), nil
}

func (r *memoryInstructionRepository) ListPending(ctx context.Context, tournamentID uuid.UUID) ([]models.PaymentInstruction, error) {
	defer r.s.lock()()
	return r.filter(tournamentID, true), nil
}

func (r *memoryInstructionRepository) MarkSent(ctx context.Context, id uuid.UUID, externalRef string, at time.Time) (bool, error) {
	defer r.s.lock()()
	in, ok := r.s.state.instructions[id]
	if !ok || in.Status != models.InstructionPending {
		return false, nil
	}
	c := *in
	c.Status = models.InstructionSent
	c.ExternalRef = &externalRef
	c.SentAt = &at
	r.s.state.instructions[id] = &c
	return true, nil
}

type memoryJobRepository struct {
	s *MemoryStore
}

func (r *memoryJobRepository) pendingSibling(j *models.Job) *models.Job {
	for _, other := range r.s.state.jobs {
		if other.ID != j.ID && other.TournamentID == j.TournamentID && other.Type == j.Type && other.Status == models.JobPending {
			return other
		}
	}
	return nil
}

func (r *memoryJobRepository) Enqueue(ctx context.Context, job *models.Job) (uuid.UUID, error) {
	defer r.s.lock()()
	if _, ok := r.s.state.tournaments[job.TournamentID]; !ok {
		return uuid.Nil, ErrTournamentNotFound
	}
	if existing := r.pendingSibling(job); existing != nil {
		c := *existing
		if job.RunAt.Before(c.RunAt) {
			c.RunAt = job.RunAt
		}
		c.UpdatedAt = job.CreatedAt
		r.s.state.jobs[c.ID] = &c
		return c.ID, nil
	}
	c := *job
	c.Status = models.JobPending
	c.Attempts = 0
	c.UpdatedAt = job.CreatedAt
	r.s.state.jobs[c.ID] = &c
	return c.ID, nil
}

func (r *memoryJobRepository) Cancel(ctx context.Context, tournamentID uuid.UUID, types []models.JobType, at time.Time) (int, error) {
	defer r.s.lock()()
	n := 0
	for id, j := range r.s.state.jobs {
		if j.TournamentID == tournamentID && j.Status == models.JobPending && slices.Contains(types, j.Type) {
			c := *j
			c.Status = models.JobCancelled
			c.UpdatedAt = at
			r.s.state.jobs[id] = &c
			n++
		}
	}
	return n, nil
}

func (r *memoryJobRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	defer r.s.lock()()
	due := make([]*models.Job, 0)
	for _, j := range r.s.state.jobs {
		if j.Status == models.JobPending && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if !due[i].RunAt.Equal(due[k].RunAt) {
			return due[i].RunAt.Before(due[k].RunAt)
		}
		return due[i].ID.String() < due[k].ID.String()
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]models.Job, 0, len(due))
	for _, j := range due {
		c := *j
		c.Status = models.JobRunning
		c.Attempts++
		lockedAt := now
		c.LockedAt = &lockedAt
		c.UpdatedAt = now
		r.s.state.jobs[c.ID] = &c
		claimed = append(claimed, c)
	}
	return claimed, nil
}

func (r *memoryJobRepository) running(id uuid.UUID) (*models.Job, error) {
	j, ok := r.s.state.jobs[id]
	if !ok || j.Status != models.JobRunning {
		return nil, ErrJobNotFound
	}
	c := *j
	return &c, nil
}

func (r *memoryJobRepository) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	defer r.s.lock()()
	j, err := r.running(id)
	if err != nil {
		return err
	}
	j.Status = models.JobDone
	j.LockedAt = nil
	j.UpdatedAt = at
	r.s.state.jobs[id] = j
	return nil
}

func (r *memoryJobRepository) Retry(ctx context.Context, id uuid.UUID, runAt time.Time, lastErr string) error {
	defer r.s.lock()()
	j, err := r.running(id)
	if err != nil {
		return err
	}
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	if r.pendingSibling(j) != nil {
		msg := "superseded: " + lastErr
		j.Status = models.JobDone
		j.LastError = &msg
	} else {
		j.Status = models.JobPending
		j.RunAt = runAt
		j.LastError = &lastErr
	}
	r.s.state.jobs[id] = j
	return nil
}

func (r *memoryJobRepository) DeadLetter(ctx context.Context, id uuid.UUID, lastErr string, at time.Time) error {
	defer r.s.lock()()
	j, err := r.running(id)
	if err != nil {
		return err
	}
	j.Status = models.JobDead
	j.LastError = &lastErr
	j.LockedAt = nil
	j.UpdatedAt = at
	r.s.state.jobs[id] = j
	return nil
}

func (r *memoryJobRepository) Requeue(ctx context.Context, id uuid.UUID, runAt time.Time) error {
	defer r.s.lock()()
	j, ok := r.s.state.jobs[id]
	if !ok || j.Status != models.JobDead {
		return ErrJobNotFound
	}
	if r.pendingSibling(j) != nil {
		return ErrJobActive
	}
	c := *j
	c.Status = models.JobPending
	c.Attempts = 0
	c.RunAt = runAt
	c.LockedAt = nil
	c.UpdatedAt = runAt
	r.s.state.jobs[id] = &c
	return nil
}

func (r *memoryJobRepository) ReclaimStale(ctx context.Context, lockedBefore time.Time) (int, error) {
	defer r.s.lock()()
	reclaimed := 0
	for id, j := range r.s.state.jobs {
		if j.Status != models.JobRunning || j.LockedAt == nil || !j.LockedAt.Before(lockedBefore) {
			continue
		}
		c := *j
		c.LockedAt = nil
		if r.pendingSibling(j) != nil {
			msg := "superseded: lease expired"
			c.Status = models.JobDone
			c.LastError = &msg
		} else {
			c.Status = models.JobPending
			reclaimed++
		}
		r.s.state.jobs[id] = &c
	}
	return reclaimed, nil
}

func (r *memoryJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	defer r.s.lock()()
	j, ok := r.s.state.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	c := *j
	return &c, nil
}

func (r *memoryJobRepository) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	defer r.s.lock()()
	out := make([]models.Job, 0)
	for _, j := range r.s.state.jobs {
		if j.Status == status {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].UpdatedAt.Equal(out[k].UpdatedAt) {
			return out[i].UpdatedAt.After(out[k].UpdatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryJobRepository) ListByTournament(ctx context.Context, tournamentID uuid.UUID) ([]models.Job, error) {
	defer r.s.lock()()
	out := make([]models.Job, 0)
	for _, j := range r.s.state.jobs {
		if j.TournamentID == tournamentID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return out, nil
}

type memoryStatsRepository struct {
	s *MemoryStore
}

func (r *memoryStatsRepository) Increment(ctx context.Context, d StatsDelta) error {
	defer r.s.lock()()
	key := statsKey{userID: d.UserID, currency: d.Currency}
	current, ok := r.s.state.stats[key]
	c := models.PlayerStats{UserID: d.UserID, Currency: d.Currency, TotalEarnings: decimal.Zero}
	if ok {
		c = *current
	}
	c.TotalMatches += d.Matches
	c.TotalWins += d.Wins
	c.TotalEarnings = c.TotalEarnings.Add(d.Earnings)
	c.UpdatedAt = d.At
	r.s.state.stats[key] = &c
	return nil
}

func (r *memoryStatsRepository) ListByUser(ctx context.Context, userID int) ([]models.PlayerStats, error) {
	defer r.s.lock()()
	out := make([]models.PlayerStats, 0)
	for k, v := range r.s.state.stats {
		if k.userID == userID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}
