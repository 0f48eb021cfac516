package scaleprep

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"scaleprep/internal/db"
)

const (
	// EventInstanceBatchSize is the number of event_instances rows per insert.
	EventInstanceBatchSize = 1000

	// TemplateEventType marks the start event cloned for every synthetic run.
	TemplateEventType = "SU"

	// TestComment tags every synthetic event instance.
	TestComment = "_test"
)

// EntityID is the synthetic entity id of the idx-th generated run.
func EntityID(appType string, idx int) string {
	return fmt.Sprintf("_test_%s_%d", appType, idx)
}

// PopulateEventInstances clones a start event numApps times in one
// transaction and returns the new entity ids in creation order. numApps must
// be a positive multiple of EventInstanceBatchSize.
func (p *Prep) PopulateEventInstances(ctx context.Context, numApps int) ([]string, error) {
	if err := validateCount(numApps, EventInstanceBatchSize); err != nil {
		return nil, err
	}

	var ids []string
	err := p.transaction(p.db.WithContext(ctx), func(tx *gorm.DB) error {
		var err error
		ids, err = p.populateEventInstances(tx, numApps)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *Prep) populateEventInstances(tx *gorm.DB, numApps int) ([]string, error) {
	table := db.EventInstances

	// An empty table counts as max 0, so numbering starts at 1.
	var maxID int64
	if err := tx.Raw("SELECT COALESCE(MAX(event_instance_id), 0) FROM " + table.Name).Scan(&maxID).Error; err != nil {
		return nil, errors.Wrap(err, "read max event_instance_id")
	}

	rows, err := execute(tx,
		"SELECT * FROM "+table.Name+" WHERE event_type = ? AND entity_type = ? LIMIT 1",
		TemplateEventType, p.entityType)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.WithHintf(
			errors.Wrapf(ErrMissingTemplate, "%s has no %s row with entity_type %d", table.Name, TemplateEventType, p.entityType),
			"seed at least one real %s run before scaling it up", p.appType)
	}
	template := db.Clone(rows[0], table.PrimaryKey)
	p.log.Debugw("event instance template", "max_event_instance_id", maxID, "columns", len(template))

	entityIDs := make([]string, 0, numApps)
	build := func(idx int, row db.Row) {
		entityID := EntityID(p.appType, idx)
		now := p.now()
		row[db.ColEventInstanceID] = maxID + 1 + int64(idx)
		row[db.ColEntityID] = entityID
		row[db.ColComment] = TestComment
		row[db.ColEventTime] = now
		row[db.ColCreatedAt] = now
		row[db.ColUpdatedAt] = now
		entityIDs = append(entityIDs, entityID)
	}

	err = p.insertBatches(tx, table, template, numApps, EventInstanceBatchSize, build, func(batch []db.Row) error {
		return checkCollisions(tx, table, batch)
	})
	if err != nil {
		return nil, err
	}
	return entityIDs, nil
}

// checkCollisions fails when any entity id of batch is already stored.
func checkCollisions(tx *gorm.DB, table db.Table, batch []db.Row) error {
	ids := make([]interface{}, 0, len(batch))
	for _, row := range batch {
		ids = append(ids, row[db.ColEntityID])
	}

	var existing []string
	err := tx.Raw("SELECT "+db.ColEntityID+" FROM "+table.Name+" WHERE "+db.ColEntityID+" IN ? LIMIT 1", ids).
		Scan(&existing).Error
	if err != nil {
		return errors.Wrap(err, "check existing entity ids")
	}
	if len(existing) > 0 {
		return errors.WithHint(
			errors.Wrapf(ErrEntityCollision, "%s already holds %q", table.Name, existing[0]),
			"synthetic runs from an earlier seeding are still present")
	}
	return nil
}
