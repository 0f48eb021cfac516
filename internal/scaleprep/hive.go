package scaleprep

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"scaleprep/internal/db"
)

const (
	// HiveQueryBatchSize is the number of hive_queries rows per insert. The
	// rows carry large query text, so batches stay small.
	HiveQueryBatchSize = 10

	// HiveSampleSize bounds the rows scanned for a template.
	HiveSampleSize = 100

	// PreferredJobCount is the numMRJobs a hive template should have.
	PreferredJobCount = 2
)

// detailPopulator writes the app-type specific rows linked to event instances.
type detailPopulator struct {
	table     db.Table
	batchSize int
	populate  func(tx *gorm.DB, numApps int, entityIDs []string) (int, error)
}

func (p *Prep) detailWriter() (detailPopulator, error) {
	switch p.appType {
	case AppTypeHive:
		return detailPopulator{table: db.HiveQueries, batchSize: HiveQueryBatchSize, populate: p.populateHiveData}, nil
	case AppTypeSpark:
		return detailPopulator{}, sparkNotImplemented()
	}
	return detailPopulator{}, errors.Wrapf(ErrUnsupportedAppType, "%q has no detail tables", p.appType)
}

// PopulateHiveData clones a sampled hive_queries row once per entity id, in
// one transaction. Row i links to entityIDs[i] through query_id. The cloned
// annotation keeps pointing at the template's MR jobs, so no job rows are
// created.
func (p *Prep) PopulateHiveData(ctx context.Context, numApps int, entityIDs []string) (int, error) {
	if err := validateCount(numApps, HiveQueryBatchSize); err != nil {
		return 0, err
	}

	var n int
	err := p.transaction(p.db.WithContext(ctx), func(tx *gorm.DB) error {
		var err error
		n, err = p.populateHiveData(tx, numApps, entityIDs)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Prep) populateHiveData(tx *gorm.DB, numApps int, entityIDs []string) (int, error) {
	if len(entityIDs) != numApps {
		return 0, errors.Wrapf(ErrInvalidCount, "got %d entity ids for %d apps", len(entityIDs), numApps)
	}

	table := db.HiveQueries
	rows, err := execute(tx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT %d", table.Name, table.PrimaryKey, HiveSampleSize))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, errors.Wrapf(ErrMissingTemplate, "%s is empty", table.Name)
	}

	picked, found := pickHiveTemplate(rows)
	if found {
		p.log.Infof("Found a hive query with %d mr jobs", PreferredJobCount)
	} else {
		p.log.Infof("Did not find a hive query with %d mr jobs, using the last of %d sampled rows", PreferredJobCount, len(rows))
	}
	template := db.Clone(picked, table.PrimaryKey)

	build := func(idx int, row db.Row) {
		now := p.now()
		row[db.ColQueryID] = entityIDs[idx]
		row[db.ColCreatedAt] = now
		row[db.ColUpdatedAt] = now
	}
	if err := p.insertBatches(tx, table, template, numApps, HiveQueryBatchSize, build, nil); err != nil {
		return 0, err
	}
	return numApps, nil
}

// pickHiveTemplate returns the first row whose annotation reports
// PreferredJobCount MR jobs. Without a match it returns the last row.
// Rows with unreadable annotations never match but can still be the fallback.
func pickHiveTemplate(rows []db.Row) (db.Row, bool) {
	for _, row := range rows {
		annotation, err := db.ParseAnnotation(row[db.ColAnnotation])
		if err != nil {
			continue
		}
		if n, ok := db.JobCount(annotation); ok && n == PreferredJobCount {
			return row, true
		}
	}
	return rows[len(rows)-1], false
}
