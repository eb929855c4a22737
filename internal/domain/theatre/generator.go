package theatre

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunState is the lifecycle state of one generator run.
type RunState string

const (
	StateInitializing RunState = "initializing"
	StateClearing     RunState = "clearing_prior_schedule"
	StateIterating    RunState = "iterating"
	StateEmitting     RunState = "emitting"
	StateCompleted    RunState = "completed"
	StateFailed       RunState = "failed"
)

// Run outcomes reported to the observer.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeDryRun  = "dry_run"
)

const (
	DefaultTheatreCount = 12
	DefaultChunkSize    = 400
)

type GeneratorOptions struct {
	// Seed drives archetype selection. Identical seeds over identical input
	// produce identical schedules.
	Seed int64
	// Now stamps CreatedAt/UpdatedAt. Defaults to time.Now.
	Now          func() time.Time
	TheatreCount int
	ChunkSize    int
	// DryRun plans the month without clearing or writing.
	DryRun bool
}

// Generator builds and persists one month of theatre sessions.
type Generator struct {
	store    ScheduleStore
	catalog  *Catalog
	opts     GeneratorOptions
	logger   zerolog.Logger
	observer Observer
}

func NewGenerator(store ScheduleStore, catalog *Catalog, opts GeneratorOptions, logger zerolog.Logger, observer Observer) *Generator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TheatreCount <= 0 {
		opts.TheatreCount = DefaultTheatreCount
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Generator{store: store, catalog: catalog, opts: opts, logger: logger, observer: observer}
}

// Run generates the schedule for year/month: load inputs, clear the month,
// plan every day, then write the sessions in chunks. A failed chunk is
// retried session by session so only the sessions that really fail are
// reported. The summary is returned even when err is non-nil.
func (g *Generator) Run(ctx context.Context, year int, month time.Month) (*RunSummary, error) {
	if err := ValidateMonth(year, month); err != nil {
		return nil, err
	}
	started := time.Now()
	sum := &RunSummary{
		RunID:  uuid.New(),
		Year:   year,
		Month:  month,
		Seed:   g.opts.Seed,
		DryRun: g.opts.DryRun,
		State:  StateInitializing,
	}
	log := g.logger.With().
		Str("run_id", sum.RunID.String()).
		Int("year", year).
		Int("month", int(month)).
		Logger()
	log.Info().Int64("seed", g.opts.Seed).Bool("dry_run", g.opts.DryRun).Msg("schedule run started")

	fail := func(err error) (*RunSummary, error) {
		sum.State = StateFailed
		g.finish(sum, started, OutcomeFailed, log)
		log.Error().Err(err).Msg("schedule run failed")
		return sum, err
	}

	consultants, err := g.store.LoadConsultants(ctx)
	if err != nil {
		return fail(fmt.Errorf("load consultants: %w", err))
	}
	records, err := g.store.LoadPendingProcedures(ctx)
	if err != nil {
		return fail(fmt.Errorf("load pending procedures: %w", err))
	}

	registry := NewConsultantRegistry(consultants, log)
	ordered := Prioritize(NormalizeProcedures(records, log))
	estimator := NewDurationEstimator(g.catalog, log, g.observer)
	log.Info().
		Int("consultants", registry.Len()).
		Int("pending", len(ordered)).
		Msg("inputs loaded")

	if !g.opts.DryRun {
		sum.State = StateClearing
		cleared, err := g.store.ClearSessionsForMonth(ctx, year, month)
		if err != nil {
			log.Error().Err(err).Str("phase", PhaseClear).Msg("failed to clear prior schedule")
			g.observer.PersistenceFailures(PhaseClear, 1)
			return fail(&PersistenceError{Phase: PhaseClear, Cause: err})
		}
		sum.Cleared = cleared
		log.Info().Int("cleared", cleared).Msg("prior schedule cleared")
	}

	sum.State = StateIterating
	p := &planner{
		catalog:   g.catalog,
		estimator: estimator,
		packer:    NewSessionPacker(estimator, g.catalog.TurnoverMinutes),
		rng:       rand.New(rand.NewSource(g.opts.Seed)),
		weekly:    newWeeklyCounter(),
		theatres:  g.opts.TheatreCount,
		now:       g.opts.Now().UTC(),
		logger:    log,
		summary:   sum,
	}
	p.plan(year, month, registry, ordered)
	sum.DurationTableMisses = estimator.Misses()

	sum.State = StateEmitting
	if !g.opts.DryRun {
		if err := g.emit(ctx, sum, log); err != nil {
			return fail(err)
		}
	}

	sum.State = StateCompleted
	outcome := OutcomeSuccess
	if g.opts.DryRun {
		outcome = OutcomeDryRun
	}
	g.finish(sum, started, outcome, log)
	log.Info().
		Int("sessions", sum.SessionsCreated).
		Int("scheduled", sum.PatientsScheduled).
		Int("pending", sum.TotalPending).
		Int("written", sum.Written).
		Msg("schedule run completed")
	return sum, nil
}

func (g *Generator) emit(ctx context.Context, sum *RunSummary, log zerolog.Logger) error {
	sessions := sum.Sessions
	for start := 0; start < len(sessions); start += g.opts.ChunkSize {
		chunk := sessions[start:min(start+g.opts.ChunkSize, len(sessions))]
		err := g.store.WriteSessions(ctx, chunk)
		if err == nil {
			sum.Written += len(chunk)
			continue
		}
		log.Warn().Err(err).
			Int("chunk_start", start).
			Int("chunk_size", len(chunk)).
			Msg("chunk write failed, retrying sessions one by one")

		for _, s := range chunk {
			if err := g.store.WriteSessions(ctx, []*TheatreSession{s}); err != nil {
				log.Error().Err(err).
					Str("phase", PhaseWrite).
					Str("session_id", s.ID.String()).
					Str("date", s.Date).
					Str("consultant_id", s.ConsultantID).
					Msg("failed to write theatre session")
				sum.Failures = append(sum.Failures, WriteFailure{
					SessionID:    s.ID,
					Date:         s.Date,
					ConsultantID: s.ConsultantID,
					Err:          err.Error(),
				})
				continue
			}
			sum.Written++
		}
	}
	if len(sum.Failures) > 0 {
		g.observer.PersistenceFailures(PhaseWrite, len(sum.Failures))
		return &PersistenceError{Phase: PhaseWrite, Failures: sum.Failures}
	}
	return nil
}

func (g *Generator) finish(sum *RunSummary, started time.Time, outcome string, log zerolog.Logger) {
	sum.Elapsed = time.Since(started)
	byPriority := make(map[string]int, len(sum.ByPriority))
	for _, pc := range sum.ByPriority {
		byPriority[pc.Priority.String()] = pc.Scheduled
	}
	g.observer.RunFinished(outcome, sum.SessionsCreated, byPriority, sum.AverageUtilization, sum.Elapsed)
	log.Debug().Dur("elapsed", sum.Elapsed).Str("outcome", outcome).Msg("run finished")
}

// ---- planning ----

// weeklyCounter tracks sessions per consultant within the current calendar
// week. One counter belongs to one run.
type weeklyCounter struct {
	weekStart time.Time
	sessions  map[string]int
	available map[string]int
}

func newWeeklyCounter() *weeklyCounter {
	return &weeklyCounter{sessions: make(map[string]int), available: make(map[string]int)}
}

func (w *weeklyCounter) reset(weekStart time.Time) {
	w.weekStart = weekStart
	clear(w.sessions)
	clear(w.available)
}

func (w *weeklyCounter) count(id string) int { return w.sessions[id] }

func (w *weeklyCounter) increment(id string) { w.sessions[id]++ }

func (w *weeklyCounter) markAvailable(id string) { w.available[id]++ }

type planner struct {
	catalog   *Catalog
	estimator *DurationEstimator
	packer    *SessionPacker
	rng       *rand.Rand
	weekly    *weeklyCounter
	theatres  int
	next      int
	now       time.Time
	logger    zerolog.Logger
	summary   *RunSummary

	queues map[string][]*PendingProcedure
	// target dates of every queued procedure, for breach reporting
	targets map[string]*time.Time
}

func (p *planner) plan(year int, month time.Month, registry *ConsultantRegistry, ordered []*PendingProcedure) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	p.summary.TotalPending = len(ordered)
	p.buildQueues(registry, ordered)

	weekendWork := registry.AnyWeekendAvailable()
	scheduled := make(map[string]Priority)
	p.weekly.reset(first)

	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Monday && !d.Equal(first) {
			p.closeWeek(registry)
			p.weekly.reset(d)
		}
		if d.Weekday() == time.Sunday && !weekendWork {
			continue
		}
		for _, c := range registry.Consultants() {
			if !IsAvailableOn(c, d) {
				continue
			}
			p.weekly.markAvailable(c.ID)
			if p.weekly.count(c.ID) >= c.MaxSessionsPerWeek {
				continue
			}
			arch := p.pickArchetype(c)
			queue := p.queues[c.ID]
			if len(queue) == 0 {
				continue
			}
			res := p.packer.Pack(queue, arch)
			if len(res.Assignments) == 0 {
				p.logger.Debug().
					Str("consultant_id", c.ID).
					Str("date", d.Format(dateLayout)).
					Str("session_type", string(arch.Type)).
					Str("blocked_by", res.Blocked.ID).
					Msg("first candidate does not fit session")
				continue
			}
			p.queues[c.ID] = res.Remaining

			s := p.newSession(d, c, arch, res)
			for _, a := range s.Patients {
				scheduled[a.PatientID] = a.Priority
				if t := p.targets[a.PatientID]; t != nil && t.Format(dateLayout) < s.Date {
					p.summary.ScheduledAfterTarget++
				}
			}
			p.weekly.increment(c.ID)
			p.summary.Sessions = append(p.summary.Sessions, s)
		}
	}
	p.closeWeek(registry)
	p.finalize(ordered, scheduled, last)
}

// buildQueues splits the ordered list per consultant. Procedures whose
// consultant is unknown are reported as orphaned; procedures too long for
// every session the consultant can be given are reported as unschedulable
// and removed so they never block the queue.
func (p *planner) buildQueues(registry *ConsultantRegistry, ordered []*PendingProcedure) {
	p.targets = make(map[string]*time.Time, len(ordered))
	for _, proc := range ordered {
		p.targets[proc.ID] = proc.TargetDate
	}

	byConsultant := ByConsultant(ordered)
	ids := make([]string, 0, len(byConsultant))
	for id := range byConsultant {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	p.queues = make(map[string][]*PendingProcedure, len(ids))
	for _, id := range ids {
		queue := byConsultant[id]
		c, ok := registry.Get(id)
		if !ok {
			for _, proc := range queue {
				p.summary.Orphaned = append(p.summary.Orphaned, proc.ID)
			}
			p.logger.Warn().
				Str("consultant_id", id).
				Int("procedures", len(queue)).
				Msg("waiting-list entries reference an unknown consultant")
			continue
		}

		largest := p.largestArchetype(c)
		kept := make([]*PendingProcedure, 0, len(queue))
		for _, proc := range queue {
			est := p.estimator.Estimate(proc.ProcedureName, proc.Priority)
			proc.EstimatedMinutes = est.Minutes
			if p.packer.Fits(est.Minutes, largest) {
				kept = append(kept, proc)
				continue
			}
			p.summary.Unschedulable = append(p.summary.Unschedulable, UnschedulableProcedure{
				ProcedureID:       proc.ID,
				ConsultantID:      id,
				ProcedureName:     proc.ProcedureName,
				Priority:          proc.Priority,
				EstimatedMinutes:  est.Minutes,
				LargestSession:    largest.Type,
				LargestSessionMin: largest.DurationMinutes,
			})
			p.logger.Warn().
				Str("patient_id", proc.ID).
				Str("consultant_id", id).
				Str("procedure", proc.ProcedureName).
				Int("estimate", est.Minutes).
				Int("largest_session", largest.DurationMinutes).
				Msg("procedure cannot fit any session for its consultant")
		}
		p.queues[id] = kept
	}
}

func (p *planner) archetypesFor(c *ConsultantProfile) []SessionArchetype {
	var out []SessionArchetype
	for _, t := range c.PreferredSessions {
		if a, ok := p.catalog.Archetype(t); ok {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		a, _ := p.catalog.Archetype(SessionAM)
		out = append(out, a)
	}
	return out
}

func (p *planner) pickArchetype(c *ConsultantProfile) SessionArchetype {
	options := p.archetypesFor(c)
	if len(options) == 1 {
		return options[0]
	}
	return options[p.rng.Intn(len(options))]
}

func (p *planner) largestArchetype(c *ConsultantProfile) SessionArchetype {
	options := p.archetypesFor(c)
	largest := options[0]
	for _, a := range options[1:] {
		if a.DurationMinutes > largest.DurationMinutes {
			largest = a
		}
	}
	return largest
}

func (p *planner) newSession(d time.Time, c *ConsultantProfile, arch SessionArchetype, res PackResult) *TheatreSession {
	date := d.Format(dateLayout)
	label := fmt.Sprintf("Theatre %d", p.next%p.theatres+1)
	p.next++
	return &TheatreSession{
		ID:             sessionID(date, c.ID),
		Date:           date,
		DayOfWeek:      d.Weekday().String(),
		SessionType:    arch.Type,
		ConsultantID:   c.ID,
		ConsultantName: c.Name,
		Specialty:      c.Specialty,
		Subspecialty:   c.Subspecialty,
		Theatre:        label,
		Status:         StatusScheduled,
		Patients:       res.Assignments,
		StartTime:      arch.Start,
		EndTime:        arch.End,
		TotalDuration:  arch.DurationMinutes,
		Utilization:    utilization(res.TotalDuration, arch.DurationMinutes),
		CreatedAt:      p.now,
		UpdatedAt:      p.now,
	}
}

// closeWeek records consultants that were available during the week just
// finished but received fewer sessions than their minimum.
func (p *planner) closeWeek(registry *ConsultantRegistry) {
	for _, c := range registry.Consultants() {
		if p.weekly.available[c.ID] == 0 {
			continue
		}
		if got := p.weekly.count(c.ID); got < c.MinSessionsPerWeek {
			p.summary.QuotaShortfalls = append(p.summary.QuotaShortfalls, QuotaShortfall{
				ConsultantID: c.ID,
				WeekStart:    p.weekly.weekStart.Format(dateLayout),
				Sessions:     got,
				Minimum:      c.MinSessionsPerWeek,
			})
		}
	}
}

func (p *planner) finalize(ordered []*PendingProcedure, scheduled map[string]Priority, last time.Time) {
	sum := p.summary
	sum.SessionsCreated = len(sum.Sessions)
	sum.PatientsScheduled = len(scheduled)

	counts := make(map[Priority]*PriorityCount, len(Priorities))
	for _, pr := range Priorities {
		counts[pr] = &PriorityCount{Priority: pr}
	}
	for _, proc := range ordered {
		counts[proc.Priority].Pending++
		if _, ok := scheduled[proc.ID]; ok {
			counts[proc.Priority].Scheduled++
		}
	}
	for _, pr := range Priorities {
		sum.ByPriority = append(sum.ByPriority, *counts[pr])
	}

	monthEnd := last.Format(dateLayout)
	for _, queue := range p.queues {
		sum.UnscheduledForCapacity += len(queue)
		for _, proc := range queue {
			if proc.TargetDate != nil && proc.TargetDate.Format(dateLayout) <= monthEnd {
				sum.UnscheduledPastTarget++
			}
		}
	}

	if len(sum.Sessions) > 0 {
		total := 0
		for _, s := range sum.Sessions {
			total += s.Utilization
		}
		sum.AverageUtilization = float64(total) / float64(len(sum.Sessions))
	}
}
