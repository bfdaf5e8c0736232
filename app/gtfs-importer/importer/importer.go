// Package importer writes sections of reference datasets into staging tables, tracks their progress in
// the dataset ledger and promotes a version to production once every table was received and verified.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OpenTransitTools/transitdelay/business/data/ledger"
	"github.com/OpenTransitTools/transitdelay/business/data/reference"
	"github.com/OpenTransitTools/transitdelay/business/failure"
	"github.com/OpenTransitTools/transitdelay/foundation/database"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// Section is one batch of rows of a single table, produced by a feed adapter. The last section of a
// table carries Final.
type Section struct {
	Dataset      string          `json:"dataset"`
	LastModified time.Time       `json:"last_modified"`
	Table        string          `json:"table"`
	Rows         []reference.Row `json:"rows"`
	Final        bool            `json:"final"`
}

// DecodeSection parses a queue payload. Numbers are kept as json.Number so integer columns are not
// turned into floats.
func DecodeSection(payload string) (Section, error) {
	var s Section
	decoder := json.NewDecoder(strings.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&s); err != nil {
		return s, fmt.Errorf("unable to decode section: %w", err)
	}
	if s.Dataset == "" || s.Table == "" {
		return s, fmt.Errorf("section without dataset or table: %q/%q", s.Dataset, s.Table)
	}
	if s.LastModified.IsZero() {
		return s, fmt.Errorf("section of %s.%s without last_modified", s.Dataset, s.Table)
	}
	return s, nil
}

// Importer stages dataset sections and promotes completed versions.
type Importer struct {
	log      *zerolog.Logger
	db       *sqlx.DB
	registry *reference.Registry
	dialect  reference.Dialect
	metrics  *Metrics
	now      func() time.Time
}

// NewImporter creates an Importer.
func NewImporter(log *zerolog.Logger,
	db *sqlx.DB,
	registry *reference.Registry,
	dialect reference.Dialect,
	metrics *Metrics) *Importer {
	return &Importer{
		log:      log,
		db:       db,
		registry: registry,
		dialect:  dialect,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Handle decodes a queue payload and imports the section.
func (im *Importer) Handle(ctx context.Context, payload string) error {
	section, err := DecodeSection(payload)
	if err != nil {
		return failure.New(failure.Infrastructure, failure.CodeDecode, err)
	}
	return im.HandleSection(ctx, section)
}

// HandleSection writes s into the staging table of the pending version of its dataset, starting a new
// version when none is pending. Sections of a dataset whose promoted version is as recent as
// s.LastModified are skipped. When the final section of the last table arrives the version is checked
// and promoted.
func (im *Importer) HandleSection(ctx context.Context, s Section) error {
	tables, err := im.registry.Tables(s.Dataset)
	if err != nil {
		return failure.New(failure.Integrity, failure.CodeCatalogue, err)
	}
	table, err := im.registry.Table(s.Dataset, s.Table)
	if err != nil {
		return failure.New(failure.Integrity, failure.CodeCatalogue, err)
	}

	current := ledger.CurrentVersion(ctx, im.log, im.db, s.Dataset)
	if current.LastModified != nil && !s.LastModified.After(*current.LastModified) {
		im.log.Info().
			Str("dataset", s.Dataset).
			Str("table", s.Table).
			Int("version", current.Version).
			Time("last_modified", s.LastModified).
			Msg("dataset is up to date, skipping section")
		im.metrics.SectionsSkipped.Inc()
		return nil
	}

	version, err := im.beginVersion(ctx, s.Dataset, s.LastModified, tables)
	if err != nil {
		return err
	}

	var written int64
	err = database.Transact(ctx, im.log, im.db, func(tx *sqlx.Tx) error {
		if written, err = reference.InsertStaged(ctx, tx, table, s.Rows); err != nil {
			return err
		}
		if err = ledger.RecordRowCount(ctx, tx, s.Dataset, version, s.Table, written); err != nil {
			return err
		}
		if s.Final {
			return ledger.RecordState(ctx, tx, s.Dataset, version, s.Table, ledger.StateSaved)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to stage section of %s.%s version %d: %w", s.Dataset, s.Table, version, err)
	}
	im.metrics.RowsStaged.WithLabelValues(s.Dataset).Add(float64(written))
	im.log.Debug().
		Str("dataset", s.Dataset).
		Str("table", s.Table).
		Int("version", version).
		Int64("rows", written).
		Bool("final", s.Final).
		Msg("staged section")

	if !s.Final {
		return nil
	}
	names, err := im.registry.TableNames(s.Dataset)
	if err != nil {
		return failure.New(failure.Integrity, failure.CodeCatalogue, err)
	}
	saved, err := ledger.AllTablesSaved(ctx, im.db, s.Dataset, version, names)
	if err != nil || !saved {
		return err
	}
	return im.complete(ctx, s.Dataset, version)
}

// beginVersion returns the pending version for lastModified or starts a new one with empty staging
// tables. The dataset lock keeps concurrent first sections from starting two versions. Staging tables
// are shared by every version of a dataset, so starting a version fails the ones still pending and
// sections of an export older than the newest started one are rejected.
func (im *Importer) beginVersion(ctx context.Context, dataset string, lastModified time.Time, tables []reference.Table) (int, error) {
	version, ok, err := ledger.PendingVersion(ctx, im.db, dataset, lastModified)
	if err != nil {
		return 0, err
	}
	if ok {
		return version, nil
	}

	if err = im.dialect.PrepareNamespace(ctx, im.db, im.registry.Namespace()); err != nil {
		return 0, fmt.Errorf("unable to prepare staging namespace: %w", err)
	}
	started := false
	var abandoned []int
	err = database.Transact(ctx, im.log, im.db, func(tx *sqlx.Tx) error {
		if err := im.dialect.Lock(ctx, tx, dataset); err != nil {
			return fmt.Errorf("unable to lock dataset %s: %w", dataset, err)
		}
		latest, latestModified, ok, err := ledger.LatestStarted(ctx, tx, dataset)
		if err != nil {
			return err
		}
		if ok && lastModified.Before(latestModified) {
			return failure.Newf(failure.Integrity, failure.CodeSuperseded,
				"export of %s modified %s is older than version %d modified %s",
				dataset, lastModified.Format(time.RFC3339), latest, latestModified.Format(time.RFC3339))
		}
		pending, ok, err := ledger.PendingVersion(ctx, tx, dataset, lastModified)
		if err != nil {
			return err
		}
		if ok {
			version = pending
			return nil
		}
		if version, err = ledger.NextVersion(ctx, tx, dataset); err != nil {
			return err
		}
		if err = reference.PrepareStaging(ctx, tx, im.dialect, tables); err != nil {
			return err
		}
		if err = ledger.RecordLastModified(ctx, tx, dataset, version, lastModified); err != nil {
			return err
		}
		if abandoned, err = ledger.AbandonPending(ctx, tx, dataset, version, im.now()); err != nil {
			return err
		}
		started = true
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("unable to start new version of %s: %w", dataset, err)
	}
	if started {
		im.metrics.VersionsStarted.Inc()
		im.log.Info().
			Str("dataset", dataset).
			Int("version", version).
			Time("last_modified", lastModified).
			Ints("abandoned", abandoned).
			Msg("started new dataset version")
	}
	return version, nil
}

// complete verifies the row counts of version and promotes it. A count mismatch marks the version failed.
func (im *Importer) complete(ctx context.Context, dataset string, version int) error {
	if err := im.CheckRowCounts(ctx, dataset, version); err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) && fe.Code == failure.CodeRowCount {
			im.metrics.Promotions.WithLabelValues(outcomeRowCount).Inc()
			im.recordFailure(ctx, dataset, version)
		}
		return err
	}
	return im.Promote(ctx, dataset, version)
}

func (im *Importer) recordFailure(ctx context.Context, dataset string, version int) {
	if err := ledger.RecordFailure(ctx, im.db, dataset, version, im.now()); err != nil {
		im.log.Error().Err(err).Str("dataset", dataset).Int("version", version).Msg("unable to record failed version")
	}
}
