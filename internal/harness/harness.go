package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/roach88/fhirsql/internal/compiler"
	"github.com/roach88/fhirsql/internal/store"
	"github.com/roach88/fhirsql/internal/testutil"
	"github.com/roach88/fhirsql/internal/translator"
)

// Harness runs scenarios. Each scenario gets a fresh in-memory database and
// a fixed compilation ID so results are reproducible.
type Harness struct {
	logger zerolog.Logger
}

// New creates a harness. A nil logger disables logging.
func New(logger *zerolog.Logger) *Harness {
	h := &Harness{logger: zerolog.Nop()}
	if logger != nil {
		h.logger = *logger
	}
	return h
}

// Run executes a scenario with a disabled logger.
func Run(s *Scenario) (*Result, error) {
	return New(nil).Run(context.Background(), s)
}

// Run executes a scenario. The returned error reports infrastructure
// failures (database, fixtures); failed expectations are recorded in the
// Result.
func (h *Harness) Run(ctx context.Context, s *Scenario) (*Result, error) {
	result := NewResult(s.Name)
	log := h.logger.With().Str("scenario", s.Name).Logger()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := h.load(ctx, st, s); err != nil {
		return nil, err
	}

	c, err := compiler.New(compiler.Options{
		ResourceType: s.ResourceType,
		Variables:    s.Variables,
		IDs:          testutil.NewFixedIDGenerator(""),
		Logger:       &log,
	})
	if err != nil {
		return nil, fmt.Errorf("create compiler: %w", err)
	}

	res, err := c.CompileString(s.Expression)
	if err != nil {
		var te *translator.TranslationError
		if !errors.As(err, &te) {
			result.AddError(fmt.Sprintf("compile: %v", err))
			return result, nil
		}
		result.ErrorCode = string(te.Code)
		assertError(result, s.Expect, te)
		return result, nil
	}

	result.SQL = res.SQL
	for _, ct := range res.CTEs {
		result.CTEs = append(result.CTEs, ct.Name)
	}
	if s.Expect.ErrorCode != "" {
		result.AddError(fmt.Sprintf("expected error %s, compilation succeeded", s.Expect.ErrorCode))
		return result, nil
	}

	rows, err := st.Query(ctx, res.SQL)
	if err != nil {
		result.AddError(fmt.Sprintf("execute: %v", err))
		return result, nil
	}
	result.Rows = rows

	assertSQL(result, s.Expect)
	assertRows(result, s.Expect.Rows)

	log.Debug().Bool("pass", result.Pass).Int("rows", len(rows)).Msg("scenario finished")
	return result, nil
}

// load creates the driving table and inserts the scenario population.
func (h *Harness) load(ctx context.Context, st *store.Store, s *Scenario) error {
	if err := st.EnsureTable(ctx, s.ResourceType); err != nil {
		return fmt.Errorf("create %s table: %w", s.ResourceType, err)
	}

	docs, err := s.documents()
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("encode resources: %w", err)
	}
	resources, err := store.Decode(data)
	if err != nil {
		return fmt.Errorf("decode resources: %w", err)
	}

	for typ, group := range store.Group(resources) {
		raw := make([]json.RawMessage, len(group))
		for i, r := range group {
			raw[i] = r.JSON
		}
		if _, err := st.LoadResources(ctx, typ, raw); err != nil {
			return fmt.Errorf("load %s: %w", typ, err)
		}
	}
	return nil
}
