package scaleprep

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/schollz/progressbar/v3"
	"gorm.io/gorm"

	"scaleprep/internal/db"
)

// maxBindParams caps the placeholders of one INSERT statement. SQLite allows
// 32766 and postgres and mysql 65535.
const maxBindParams = 30000

// rowBuilder fills in the clone at global position idx.
type rowBuilder func(idx int, row db.Row)

// rowsPerStatement is how many rows of the given width fit in one INSERT.
func rowsPerStatement(columns int) int {
	if columns <= 0 {
		return maxBindParams
	}
	if n := maxBindParams / columns; n > 0 {
		return n
	}
	return 1
}

// insertBatches clones template numBatches*batchSize times and writes the
// clones batchSize rows per batch on tx. A batch is split over several INSERT
// statements when the table is too wide for one. beforeBatch, when set, sees
// the rows of each batch before they are written and may veto the batch.
func (p *Prep) insertBatches(
	tx *gorm.DB,
	table db.Table,
	template db.Row,
	total, batchSize int,
	build rowBuilder,
	beforeBatch func(batch []db.Row) error,
) error {
	numBatches := total / batchSize
	perStmt := rowsPerStatement(len(template))
	if perStmt < batchSize {
		p.log.Debugw("splitting batches", "table", table.Name, "columns", len(template), "rows_per_statement", perStmt)
	}
	bar := p.newProgress(numBatches, table.Name)
	defer bar.Finish()

	for b := 0; b < numBatches; b++ {
		batch := make([]db.Row, 0, batchSize)
		for i := 0; i < batchSize; i++ {
			row := db.Clone(template)
			build(b*batchSize+i, row)
			batch = append(batch, row)
		}

		if beforeBatch != nil {
			if err := beforeBatch(batch); err != nil {
				return err
			}
		}

		start := time.Now()
		if err := tx.Table(table.Name).CreateInBatches(batch, perStmt).Error; err != nil {
			return errors.Wrapf(err, "insert %s batch %d/%d", table.Name, b+1, numBatches)
		}
		p.pending = append(p.pending, batchStat{table: table.Name, rows: len(batch), took: time.Since(start)})
		p.log.Debugw("batch inserted", "table", table.Name, "batch", b+1, "of", numBatches)
		_ = bar.Add(1)
	}
	return nil
}

// batchStat is one written batch whose metrics wait for the commit.
type batchStat struct {
	table string
	rows  int
	took  time.Duration
}

// transaction runs fn in a transaction on conn. Batches written inside fn
// reach the metrics only once the transaction commits.
func (p *Prep) transaction(conn *gorm.DB, fn func(tx *gorm.DB) error) error {
	p.pending = p.pending[:0]
	err := conn.Transaction(fn)
	if err == nil {
		for _, s := range p.pending {
			p.metrics.ObserveBatch(p.appType, s.table, s.rows, s.took)
		}
	}
	p.pending = p.pending[:0]
	return err
}

func (p *Prep) newProgress(numBatches int, table string) *progressbar.ProgressBar {
	return progressbar.NewOptions(numBatches,
		progressbar.OptionSetWriter(p.progressOut),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", p.appType, table)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// validateCount rejects counts that are not a positive multiple of batchSize.
func validateCount(numApps, batchSize int) error {
	if numApps <= 0 {
		return errors.Wrapf(ErrInvalidCount, "%d is not positive", numApps)
	}
	if numApps%batchSize != 0 {
		up := (numApps/batchSize + 1) * batchSize
		return errors.WithHintf(
			errors.Wrapf(ErrInvalidCount, "%d is not a multiple of the batch size %d", numApps, batchSize),
			"try --num-apps %d", up)
	}
	return nil
}
