// Package ledger records the state of every dataset version in the dataset_version table. The
// importer uses it to find the promoted version, track per table progress and verify row counts.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// Values of the type column.
const (
	DatasetInfo     = "DATASET_INFO"
	State           = "STATE"
	TableTotalCount = "TABLE_TOTAL_COUNT"
)

// FailureVersion marks records of failed promotions. They survive cleanup.
const FailureVersion = -1

// Keys of DATASET_INFO records and table states.
const (
	KeyLastModified = "last_modified"
	KeyPromotedAt   = "promoted_at"
	StateSaved      = "saved"
)

// Record is one row of the dataset_version table.
type Record struct {
	Dataset string `db:"dataset" json:"dataset"`
	Version int    `db:"version" json:"version"`
	Type    string `db:"type" json:"type"`
	Key     string `db:"key" json:"key"`
	Value   string `db:"value" json:"value"`
}

// Version identifies the promoted version of a dataset. Version is 0 and LastModified nil when the
// dataset has never been promoted or the ledger could not be read.
type Version struct {
	Version      int        `json:"version"`
	LastModified *time.Time `json:"last_modified"`
}

// Append inserts r.
func Append(ctx context.Context, ext sqlx.ExtContext, r Record) error {
	statementString := "insert into dataset_version ( " +
		"dataset, " +
		"version, " +
		"type, " +
		"key, " +
		"value) " +
		"values (" +
		":dataset, " +
		":version, " +
		":type, " +
		":key, " +
		":value)"
	query, args, err := sqlx.Named(statementString, r)
	if err != nil {
		return err
	}
	_, err = ext.ExecContext(ctx, ext.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("unable to append ledger record %+v: %w", r, err)
	}
	return nil
}

// CurrentVersion returns the latest promoted version of dataset. Lookup failures are logged and
// reported as a dataset that was never imported.
func CurrentVersion(ctx context.Context, log *zerolog.Logger, ext sqlx.ExtContext, dataset string) Version {
	v, err := currentVersion(ctx, ext, dataset)
	if err != nil {
		log.Error().Err(err).Str("dataset", dataset).Msg("unable to read current dataset version, treating as not imported")
		return Version{}
	}
	return v
}

func currentVersion(ctx context.Context, ext sqlx.ExtContext, dataset string) (Version, error) {
	query := ext.Rebind("select version from dataset_version " +
		"where dataset = ? and type = ? and key = ? and version > 0 " +
		"order by version desc limit 1")
	var version int
	err := sqlx.GetContext(ctx, ext, &version, query, dataset, DatasetInfo, KeyPromotedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, nil
	}
	if err != nil {
		return Version{}, fmt.Errorf("unable to query promoted version. query:%s error: %w", query, err)
	}

	result := Version{Version: version}
	lastModified, err := LastModified(ctx, ext, dataset, version)
	if err != nil {
		return Version{}, err
	}
	result.LastModified = lastModified
	return result, nil
}

// LastModified returns the source modification time recorded for version, or nil if none was recorded.
func LastModified(ctx context.Context, ext sqlx.ExtContext, dataset string, version int) (*time.Time, error) {
	query := ext.Rebind("select value from dataset_version " +
		"where dataset = ? and version = ? and type = ? and key = ? limit 1")
	var value string
	err := sqlx.GetContext(ctx, ext, &value, query, dataset, version, DatasetInfo, KeyLastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query last modified. query:%s error: %w", query, err)
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid last modified %q for %s version %d: %w", value, dataset, version, err)
	}
	return &t, nil
}

// NextVersion returns one more than the highest version ever recorded for dataset.
func NextVersion(ctx context.Context, ext sqlx.ExtContext, dataset string) (int, error) {
	query := ext.Rebind("select coalesce(max(version), 0) from dataset_version where dataset = ?")
	var max int
	if err := sqlx.GetContext(ctx, ext, &max, query, dataset); err != nil {
		return 0, fmt.Errorf("unable to query max version. query:%s error: %w", query, err)
	}
	return max + 1, nil
}

// LatestStarted returns the newest version of dataset that recorded a source modification time,
// whatever became of it. ok is false when no version was ever started.
func LatestStarted(ctx context.Context, ext sqlx.ExtContext, dataset string) (version int, lastModified time.Time, ok bool, err error) {
	query := ext.Rebind("select version from dataset_version " +
		"where dataset = ? and type = ? and key = ? and version > 0 " +
		"order by version desc limit 1")
	err = sqlx.GetContext(ctx, ext, &version, query, dataset, DatasetInfo, KeyLastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("unable to query latest version. query:%s error: %w", query, err)
	}
	modified, err := LastModified(ctx, ext, dataset, version)
	if err != nil || modified == nil {
		return 0, time.Time{}, false, err
	}
	return version, *modified, true, nil
}

// PendingVersion returns the newest started version of dataset when it was started for lastModified
// and was neither promoted nor marked failed. Older versions are never pending once a newer one
// started. ok is false when there is none.
func PendingVersion(ctx context.Context, ext sqlx.ExtContext, dataset string, lastModified time.Time) (version int, ok bool, err error) {
	version, started, ok, err := LatestStarted(ctx, ext, dataset)
	if err != nil || !ok {
		return 0, false, err
	}
	if !started.Equal(lastModified) {
		return 0, false, nil
	}
	open, err := isOpen(ctx, ext, dataset, version)
	if err != nil || !open {
		return 0, false, err
	}
	return version, true, nil
}

// AbandonPending writes a failure marker for every started version of dataset other than keep that
// was neither promoted nor failed, and returns those versions.
func AbandonPending(ctx context.Context, ext sqlx.ExtContext, dataset string, keep int, at time.Time) ([]int, error) {
	query := ext.Rebind("select distinct version from dataset_version " +
		"where dataset = ? and type = ? and key = ? and version > 0 and version <> ? " +
		"order by version")
	var versions []int
	if err := sqlx.SelectContext(ctx, ext, &versions, query, dataset, DatasetInfo, KeyLastModified, keep); err != nil {
		return nil, fmt.Errorf("unable to query started versions. query:%s error: %w", query, err)
	}
	abandoned := make([]int, 0)
	for _, version := range versions {
		open, err := isOpen(ctx, ext, dataset, version)
		if err != nil {
			return nil, err
		}
		if !open {
			continue
		}
		if err = RecordFailure(ctx, ext, dataset, version, at); err != nil {
			return nil, err
		}
		abandoned = append(abandoned, version)
	}
	return abandoned, nil
}

// isOpen reports whether version was neither promoted nor marked failed.
func isOpen(ctx context.Context, ext sqlx.ExtContext, dataset string, version int) (bool, error) {
	promoted, err := hasRecord(ctx, ext, dataset, version, DatasetInfo, KeyPromotedAt)
	if err != nil {
		return false, err
	}
	failed, err := IsFailed(ctx, ext, dataset, version)
	if err != nil {
		return false, err
	}
	return !promoted && !failed, nil
}

func hasRecord(ctx context.Context, ext sqlx.ExtContext, dataset string, version int, recordType string, key string) (bool, error) {
	query := ext.Rebind("select count(*) from dataset_version where dataset = ? and version = ? and type = ? and key = ?")
	var count int
	if err := sqlx.GetContext(ctx, ext, &count, query, dataset, version, recordType, key); err != nil {
		return false, fmt.Errorf("unable to query ledger. query:%s error: %w", query, err)
	}
	return count > 0, nil
}

// RecordLastModified stores the source modification time of version.
func RecordLastModified(ctx context.Context, ext sqlx.ExtContext, dataset string, version int, lastModified time.Time) error {
	return Append(ctx, ext, Record{
		Dataset: dataset,
		Version: version,
		Type:    DatasetInfo,
		Key:     KeyLastModified,
		Value:   formatTime(lastModified),
	})
}

// RecordState stores the processing state of one table of version.
func RecordState(ctx context.Context, ext sqlx.ExtContext, dataset string, version int, table string, state string) error {
	return Append(ctx, ext, Record{
		Dataset: dataset,
		Version: version,
		Type:    State,
		Key:     table,
		Value:   state,
	})
}

// RecordRowCount stores the number of rows written for table. A table may be recorded several times,
// once per section, and the counts are summed.
func RecordRowCount(ctx context.Context, ext sqlx.ExtContext, dataset string, version int, table string, count int64) error {
	return Append(ctx, ext, Record{
		Dataset: dataset,
		Version: version,
		Type:    TableTotalCount,
		Key:     table,
		Value:   strconv.FormatInt(count, 10),
	})
}

// AllTablesSaved reports whether every table in tables has reached the saved state for version.
func AllTablesSaved(ctx context.Context, ext sqlx.ExtContext, dataset string, version int, tables []string) (bool, error) {
	query := ext.Rebind("select key from dataset_version where dataset = ? and version = ? and type = ? and value = ?")
	var saved []string
	if err := sqlx.SelectContext(ctx, ext, &saved, query, dataset, version, State, StateSaved); err != nil {
		return false, fmt.Errorf("unable to query table states. query:%s error: %w", query, err)
	}
	savedMap := make(map[string]bool, len(saved))
	for _, table := range saved {
		savedMap[table] = true
	}
	for _, table := range tables {
		if !savedMap[table] {
			return false, nil
		}
	}
	return true, nil
}

// SumRowCounts returns the summed TABLE_TOTAL_COUNT records of version keyed by table.
func SumRowCounts(ctx context.Context, ext sqlx.ExtContext, dataset string, version int) (map[string]int64, error) {
	query := ext.Rebind("select * from dataset_version where dataset = ? and version = ? and type = ?")
	var records []Record
	if err := sqlx.SelectContext(ctx, ext, &records, query, dataset, version, TableTotalCount); err != nil {
		return nil, fmt.Errorf("unable to query row counts. query:%s error: %w", query, err)
	}
	sums := make(map[string]int64)
	for _, r := range records {
		count, err := strconv.ParseInt(r.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid row count %q for table %s: %w", r.Value, r.Key, err)
		}
		sums[r.Key] += count
	}
	return sums, nil
}

// RecordPromoted marks version as the promoted version of dataset.
func RecordPromoted(ctx context.Context, ext sqlx.ExtContext, dataset string, version int, at time.Time) error {
	return Append(ctx, ext, Record{
		Dataset: dataset,
		Version: version,
		Type:    DatasetInfo,
		Key:     KeyPromotedAt,
		Value:   formatTime(at),
	})
}

// Cleanup deletes the records of every version of dataset except keep and the failure markers.
func Cleanup(ctx context.Context, ext sqlx.ExtContext, dataset string, keep int) (int64, error) {
	query := ext.Rebind("delete from dataset_version where dataset = ? and version <> ? and version <> ?")
	result, err := ext.ExecContext(ctx, query, dataset, keep, FailureVersion)
	if err != nil {
		return 0, fmt.Errorf("unable to clean up ledger. query:%s error: %w", query, err)
	}
	return result.RowsAffected()
}

func failureKey(version int) string {
	return fmt.Sprintf("failed_version_%d", version)
}

// RecordFailure writes a failure marker for version.
func RecordFailure(ctx context.Context, ext sqlx.ExtContext, dataset string, version int, at time.Time) error {
	return Append(ctx, ext, Record{
		Dataset: dataset,
		Version: FailureVersion,
		Type:    State,
		Key:     failureKey(version),
		Value:   formatTime(at),
	})
}

// IsFailed reports whether a failure marker exists for version.
func IsFailed(ctx context.Context, ext sqlx.ExtContext, dataset string, version int) (bool, error) {
	return hasRecord(ctx, ext, dataset, FailureVersion, State, failureKey(version))
}

// History returns every record of dataset ordered by version.
func History(ctx context.Context, ext sqlx.ExtContext, dataset string) ([]Record, error) {
	query := ext.Rebind("select * from dataset_version where dataset = ? order by version, type, key")
	records := make([]Record, 0)
	if err := sqlx.SelectContext(ctx, ext, &records, query, dataset); err != nil {
		return nil, fmt.Errorf("unable to query ledger history. query:%s error: %w", query, err)
	}
	return records, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
