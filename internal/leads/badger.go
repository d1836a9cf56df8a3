package leads

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"cosmosai/internal/domain"
)

const keyPrefix = "lead:"

// BadgerOptions configures the embedded store.
type BadgerOptions struct {
	Dir      string
	InMemory bool
}

// Badger stores leads in an embedded BadgerDB, one msgpack value per lead.
type Badger struct {
	db    *badger.DB
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

func OpenBadger(opts BadgerOptions, logger zerolog.Logger) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("leads: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{log: logger})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open leads store: %w", err)
	}
	return &Badger{db: db, log: logger, now: time.Now, newID: uuid.NewString}, nil
}

func (b *Badger) CreateLead(_ context.Context, input domain.LeadInput) (domain.Lead, error) {
	input, err := Normalize(input)
	if err != nil {
		return domain.Lead{}, err
	}

	lead := domain.Lead{
		ID:          b.newID(),
		Name:        input.Name,
		Mobile:      input.Mobile,
		Description: input.Description,
		CreatedAt:   b.now().UTC(),
	}
	data, err := msgpack.Marshal(lead)
	if err != nil {
		return domain.Lead{}, fmt.Errorf("encode lead: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+lead.ID), data)
	})
	if err != nil {
		return domain.Lead{}, fmt.Errorf("store lead: %w", err)
	}
	b.log.Info().Str("lead_id", lead.ID).Msg("lead stored")
	return lead, nil
}

// Lead loads one stored lead.
func (b *Badger) Lead(_ context.Context, id string) (domain.Lead, error) {
	var lead domain.Lead
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &lead)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Lead{}, ErrNotFound
	}
	if err != nil {
		return domain.Lead{}, fmt.Errorf("load lead: %w", err)
	}
	return lead, nil
}

// Leads returns every stored lead, oldest first.
func (b *Badger) Leads(_ context.Context) ([]domain.Lead, error) {
	var out []domain.Lead
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var lead domain.Lead
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &lead)
			}); err != nil {
				return err
			}
			out = append(out, lead)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	slices.SortStableFunc(out, func(a, b domain.Lead) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Trace().Msgf(format, args...)
}
