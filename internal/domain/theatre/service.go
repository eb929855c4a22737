package theatre

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/theatreops/theatre/internal/platform/lock"
)

// GenerateRequest asks for one month to be (re)generated. A nil Seed uses
// the service default.
type GenerateRequest struct {
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Seed   *int64 `json:"seed,omitempty"`
	DryRun bool   `json:"dryRun"`
}

type Service struct {
	store    Store
	catalog  *Catalog
	locker   lock.Locker
	observer Observer
	defaults GeneratorOptions
	logger   zerolog.Logger
}

func NewService(store Store, catalog *Catalog, locker lock.Locker, observer Observer, defaults GeneratorOptions, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocalLocker(10 * time.Minute)
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		locker:   locker,
		observer: observer,
		defaults: defaults,
		logger:   logger,
	}
}

// Generate runs the generator for one month while holding the month's run
// lock. Dry runs never write and skip the lock.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*RunSummary, error) {
	month := time.Month(req.Month)
	if err := ValidateMonth(req.Year, month); err != nil {
		return nil, err
	}

	opts := s.defaults
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	opts.DryRun = req.DryRun

	if !req.DryRun {
		key := fmt.Sprintf("%04d-%02d", req.Year, req.Month)
		release, err := s.locker.Acquire(ctx, key)
		if errors.Is(err, lock.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrRunInProgress, key)
		}
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			// release with a fresh context so a cancelled request still frees the lock
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := release(rctx); err != nil {
				s.logger.Warn().Err(err).Str("month", key).Msg("failed to release run lock")
			}
		}()
	}

	return NewGenerator(s.store, s.catalog, opts, s.logger, s.observer).Run(ctx, req.Year, month)
}

func (s *Service) ListSessions(ctx context.Context, year int, month time.Month, limit, offset int) ([]*TheatreSession, int, error) {
	if err := ValidateMonth(year, month); err != nil {
		return nil, 0, err
	}
	return s.store.ListSessionsForMonth(ctx, year, month, limit, offset)
}

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*TheatreSession, error) {
	return s.store.GetSession(ctx, id)
}

const exportPageSize = 500

// MonthSessions returns every stored session of the month.
func (s *Service) MonthSessions(ctx context.Context, year int, month time.Month) ([]*TheatreSession, error) {
	if err := ValidateMonth(year, month); err != nil {
		return nil, err
	}
	var all []*TheatreSession
	for offset := 0; ; offset += exportPageSize {
		page, total, err := s.store.ListSessionsForMonth(ctx, year, month, exportPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			return all, nil
		}
	}
}

// ExportMonth writes the stored sessions of the month as xlsx.
func (s *Service) ExportMonth(ctx context.Context, w io.Writer, year int, month time.Month) error {
	sessions, err := s.MonthSessions(ctx, year, month)
	if err != nil {
		return err
	}
	return WriteWorkbook(w, sessions, nil)
}

func (s *Service) ImportFixtures(ctx context.Context, f *Fixtures) error {
	if err := f.Import(ctx, s.store); err != nil {
		return err
	}
	s.logger.Info().
		Int("consultants", len(f.Consultants)).
		Int("waiting_list", len(f.WaitingList)).
		Msg("fixtures imported")
	return nil
}
