package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OpenTransitTools/transitdelay/business/data/ledger"
	"github.com/OpenTransitTools/transitdelay/business/data/reference"
	"github.com/OpenTransitTools/transitdelay/business/failure"
	"github.com/OpenTransitTools/transitdelay/foundation/database"
	"github.com/jmoiron/sqlx"
)

// Outcome labels of the promotions counter.
const (
	outcomePromoted = "promoted"
	outcomeRowCount = "row_count_mismatch"
	outcomeFailed   = "failed"
)

// CheckRowCounts compares the row counts recorded in the ledger for version with the rows present in
// each staging table of dataset. A table without ledger records is expected to be empty.
func (im *Importer) CheckRowCounts(ctx context.Context, dataset string, version int) error {
	tables, err := im.registry.Tables(dataset)
	if err != nil {
		return failure.New(failure.Integrity, failure.CodeCatalogue, err)
	}
	recorded, err := ledger.SumRowCounts(ctx, im.db, dataset, version)
	if err != nil {
		return err
	}

	var mismatches []string
	for _, t := range tables {
		staged, err := reference.CountStaged(ctx, im.db, t)
		if err != nil {
			return err
		}
		if staged != recorded[t.Name] {
			mismatches = append(mismatches, fmt.Sprintf("%s recorded %d staged %d", t.Name, recorded[t.Name], staged))
		}
	}
	if len(mismatches) > 0 {
		return failure.Newf(failure.Integrity, failure.CodeRowCount,
			"dataset %s version %d row counts differ: %s", dataset, version, strings.Join(mismatches, ", "))
	}
	return nil
}

// Promote swaps every staging table of dataset into production and records version as promoted, all
// in one transaction. On failure nothing in production changes, a failure marker is written and the
// staged rows are left in place.
func (im *Importer) Promote(ctx context.Context, dataset string, version int) error {
	tables, err := im.registry.Tables(dataset)
	if err != nil {
		return failure.New(failure.Integrity, failure.CodeCatalogue, err)
	}

	start := time.Now()
	alreadyPromoted := false
	var removed int64
	err = database.Transact(ctx, im.log, im.db, func(tx *sqlx.Tx) error {
		if err := im.dialect.Lock(ctx, tx, dataset); err != nil {
			return fmt.Errorf("unable to lock dataset %s: %w", dataset, err)
		}
		// a concurrent final section may have promoted the version while we waited for the lock
		if ledger.CurrentVersion(ctx, im.log, tx, dataset).Version == version {
			alreadyPromoted = true
			return nil
		}
		for _, t := range tables {
			for _, stmt := range im.dialect.Swap(t, im.registry.Namespace()) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("unable to swap table %s. statement:%s error: %w", t.Name, stmt, err)
				}
			}
		}
		if err := ledger.RecordPromoted(ctx, tx, dataset, version, im.now()); err != nil {
			return err
		}
		var cleanupErr error
		removed, cleanupErr = ledger.Cleanup(ctx, tx, dataset, version)
		return cleanupErr
	})
	if err != nil {
		im.metrics.Promotions.WithLabelValues(outcomeFailed).Inc()
		im.recordFailure(ctx, dataset, version)
		return failure.New(failure.Integrity, failure.CodePromotion,
			fmt.Errorf("promotion of %s version %d rolled back: %w", dataset, version, err))
	}
	if alreadyPromoted {
		im.log.Info().Str("dataset", dataset).Int("version", version).Msg("version already promoted")
		return nil
	}

	im.metrics.Promotions.WithLabelValues(outcomePromoted).Inc()
	im.metrics.PromotionDuration.Observe(time.Since(start).Seconds())
	im.log.Info().
		Str("dataset", dataset).
		Int("version", version).
		Int("tables", len(tables)).
		Int64("ledger_records_removed", removed).
		Dur("took", time.Since(start)).
		Msg("promoted dataset version")
	return nil
}
