// Package scaleprep seeds synthetic application runs into an APM database
// by cloning real template rows, so the monitoring system can be load
// tested against realistic data volumes.
package scaleprep

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"scaleprep/internal/db"
	"scaleprep/internal/logger"
	"scaleprep/internal/metrics"
)

const (
	AppTypeHive  = "hive"
	AppTypeSpark = "spark"
)

// entityTypes maps an app type onto the entity_type code stored in event_instances.
var entityTypes = map[string]int{
	AppTypeHive:  1,
	AppTypeSpark: 2,
}

var (
	ErrUnsupportedAppType = errors.New("unsupported app type")
	ErrMissingTemplate    = errors.New("no template row")
	ErrInvalidCount       = errors.New("invalid number of apps")
	ErrEntityCollision    = errors.New("entity id already exists")
	ErrNotImplemented     = errors.New("not implemented")
)

// Prep seeds one app type into one database.
type Prep struct {
	db         *gorm.DB
	appType    string
	entityType int

	log         *zap.SugaredLogger
	out         io.Writer
	progressOut io.Writer
	metrics     *metrics.Recorder
	now         func() time.Time
	singleTx    bool

	pending []batchStat
}

type Option func(*Prep)

// WithLogger overrides the package logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Prep) { p.log = l }
}

// WithOutput sets where run summaries are printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(p *Prep) { p.out = w }
}

// WithProgressOutput sets where batch progress bars are drawn. Defaults to stderr.
func WithProgressOutput(w io.Writer) Option {
	return func(p *Prep) { p.progressOut = w }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(p *Prep) { p.metrics = r }
}

// WithClock replaces time.Now for the timestamps written on cloned rows.
func WithClock(now func() time.Time) Option {
	return func(p *Prep) { p.now = now }
}

// WithSingleTransaction makes PopulateAppData write event instances and
// detail rows in one transaction.
func WithSingleTransaction(on bool) Option {
	return func(p *Prep) { p.singleTx = on }
}

// New returns a Prep for appType. Only hive and spark are known.
func New(conn *gorm.DB, appType string, opts ...Option) (*Prep, error) {
	entityType, ok := entityTypes[appType]
	if !ok {
		return nil, errors.WithHint(
			errors.Wrapf(ErrUnsupportedAppType, "%q", appType),
			"supported app types are hive and spark")
	}

	p := &Prep{
		db:          conn,
		appType:     appType,
		entityType:  entityType,
		log:         logger.Logger,
		out:         os.Stdout,
		progressOut: os.Stderr,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("app_type", appType)
	return p, nil
}

func (p *Prep) AppType() string { return p.appType }

func (p *Prep) EntityType() int { return p.entityType }

// Result summarises a PopulateAppData call.
type Result struct {
	// EntityIDs lists created entity ids in creation order.
	EntityIDs  []string
	DetailRows int
}

// PopulateAppData creates numApps event instances and, unless
// eventInstancesOnly is set, the matching app-type specific detail rows.
//
// By default the two tables are written in separate transactions: if the
// detail step fails the event instances stay committed and the error is
// returned together with the partial Result. WithSingleTransaction removes
// that window.
func (p *Prep) PopulateAppData(ctx context.Context, numApps int, eventInstancesOnly bool) (Result, error) {
	if err := validateCount(numApps, EventInstanceBatchSize); err != nil {
		return Result{}, err
	}

	var details detailPopulator
	if !eventInstancesOnly {
		var err error
		if details, err = p.detailWriter(); err != nil {
			return Result{}, err
		}
		if err := validateCount(numApps, details.batchSize); err != nil {
			return Result{}, err
		}
	}

	var res Result
	writeEvents := func(tx *gorm.DB) error {
		ids, err := p.populateEventInstances(tx, numApps)
		res.EntityIDs = ids
		return err
	}
	writeDetails := func(tx *gorm.DB) error {
		n, err := details.populate(tx, numApps, res.EntityIDs)
		res.DetailRows = n
		return err
	}

	conn := p.db.WithContext(ctx)
	if p.singleTx {
		err := p.transaction(conn, func(tx *gorm.DB) error {
			if err := writeEvents(tx); err != nil {
				return err
			}
			if eventInstancesOnly {
				return nil
			}
			return writeDetails(tx)
		})
		if err != nil {
			return Result{}, err
		}
	} else {
		if err := p.transaction(conn, writeEvents); err != nil {
			return Result{}, err
		}
	}
	fmt.Fprintf(p.out, "%d %s event_instances records created\n", len(res.EntityIDs), p.appType)

	if eventInstancesOnly {
		fmt.Fprintf(p.out, "Skipping adding entries to %s specific tables\n", p.appType)
		return res, nil
	}

	if !p.singleTx {
		if err := p.transaction(conn, writeDetails); err != nil {
			res.DetailRows = 0
			return res, errors.Wrapf(err, "%d event_instances were committed without %s rows", len(res.EntityIDs), details.table.Name)
		}
	}
	fmt.Fprintf(p.out, "%d %s records created\n", res.DetailRows, details.table.Name)
	return res, nil
}

// Execute runs a read query and returns every row in result order. The
// connection goes back to the pool once the rows are scanned.
func (p *Prep) Execute(ctx context.Context, query string, args ...interface{}) ([]db.Row, error) {
	return execute(p.db.WithContext(ctx), query, args...)
}

func execute(conn *gorm.DB, query string, args ...interface{}) ([]db.Row, error) {
	var rows []db.Row
	if err := conn.Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "query %q", query)
	}
	return rows, nil
}

// Stat counts the existing start events for this app type and prints it.
func (p *Prep) Stat(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM event_instances WHERE event_type = ? AND entity_type = ?", TemplateEventType, p.entityType).
		Scan(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "count event_instances")
	}

	p.metrics.SetExistingApps(p.appType, n)
	fmt.Fprintf(p.out, "Found %d %s apps with recommendations\n", n, p.appType)
	return n, nil
}
