package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/paulhilliar/db-scheduler/execution"
)

// ExecutionRow is the gorm model backing GormStore. Column names are fixed
// by the gorm tags below; the concrete SQL dialect is the caller's concern:
// GormStore only needs a *gorm.DB already configured for whatever database
// the deployment uses.
type ExecutionRow struct {
	TaskName            string     `gorm:"column:task_name;primaryKey;not null"`
	InstanceID          string     `gorm:"column:instance_id;primaryKey;not null"`
	Data                []byte     `gorm:"column:data"`
	ExecutionTime       time.Time  `gorm:"column:execution_time;not null;index"`
	Picked              bool       `gorm:"column:picked;not null;default:false"`
	PickedBy            *string    `gorm:"column:picked_by"`
	LastHeartbeat       *time.Time `gorm:"column:last_heartbeat"`
	LastSuccess         *time.Time `gorm:"column:last_success"`
	LastFailure         *time.Time `gorm:"column:last_failure"`
	ConsecutiveFailures int        `gorm:"column:consecutive_failures;not null;default:0"`
	Version             int        `gorm:"column:version;not null;default:1"`
}

// TableName pins the table name regardless of gorm's pluralization
// convention.
func (ExecutionRow) TableName() string {
	return "execution"
}

func (r ExecutionRow) toDomain() execution.Execution {
	return execution.Execution{
		TaskInstanceID: execution.TaskInstanceID{
			TaskName:   r.TaskName,
			InstanceID: r.InstanceID,
		},
		Data:                r.Data,
		ExecutionTime:       r.ExecutionTime,
		Picked:              r.Picked,
		PickedBy:            r.PickedBy,
		LastHeartbeat:       r.LastHeartbeat,
		LastSuccess:         r.LastSuccess,
		LastFailure:         r.LastFailure,
		ConsecutiveFailures: r.ConsecutiveFailures,
		Version:             r.Version,
	}
}

func fromDomain(e execution.Execution) ExecutionRow {
	return ExecutionRow{
		TaskName:            e.TaskName,
		InstanceID:          e.InstanceID,
		Data:                e.Data,
		ExecutionTime:       e.ExecutionTime,
		Picked:              e.Picked,
		PickedBy:            e.PickedBy,
		LastHeartbeat:       e.LastHeartbeat,
		LastSuccess:         e.LastSuccess,
		LastFailure:         e.LastFailure,
		ConsecutiveFailures: e.ConsecutiveFailures,
		Version:             e.Version,
	}
}

// GormStore is the durable ExecutionStore. Every mutation that must be
// exclusive (pick, remove, reschedule) is a single conditional UPDATE
// checked via RowsAffected, the same shape as the teacher's
// JobPreempt.TryPreempt: never a SELECT followed by a separate UPDATE.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already-configured *gorm.DB. AutoMigrate is left
// to the caller: the concrete SQL dialect and migrations are out of
// scope for this package.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (g *GormStore) CreateIfNotExists(e execution.Execution) (bool, error) {
	row := fromDomain(e)
	if row.Version == 0 {
		row.Version = 1
	}

	res := g.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (g *GormStore) GetDue(now time.Time, limit int) ([]execution.Execution, error) {
	var rows []ExecutionRow
	q := g.db.Where("picked = ? AND execution_time <= ?", false, now).
		Order("execution_time asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]execution.Execution, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (g *GormStore) Pick(candidate execution.Execution, schedulerName string, now time.Time) (execution.Execution, bool, error) {
	res := g.db.Model(&ExecutionRow{}).
		Where("task_name = ? AND instance_id = ? AND version = ? AND picked = ?",
			candidate.TaskName, candidate.InstanceID, candidate.Version, false).
		Updates(map[string]interface{}{
			"picked":         true,
			"picked_by":      schedulerName,
			"last_heartbeat": now,
			"version":        candidate.Version + 1,
		})
	if res.Error != nil {
		return execution.Execution{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race, or the row was rescheduled/removed underneath
		// us. Not an error: the caller treats this as ALREADY_PICKED.
		return execution.Execution{}, false, nil
	}

	picked := candidate
	picked.Picked = true
	picked.PickedBy = &schedulerName
	picked.LastHeartbeat = &now
	picked.Version = candidate.Version + 1
	return picked, true, nil
}

func (g *GormStore) UpdateHeartbeat(id execution.TaskInstanceID, now time.Time) error {
	// Heartbeats are advisory: an update that touches zero rows (row
	// removed or rescheduled concurrently) is not surfaced as an error.
	return g.db.Model(&ExecutionRow{}).
		Where("task_name = ? AND instance_id = ?", id.TaskName, id.InstanceID).
		Update("last_heartbeat", now).Error
}

func (g *GormStore) GetOldExecutions(olderThan time.Time) ([]execution.Execution, error) {
	var rows []ExecutionRow
	err := g.db.Where("picked = ? AND last_heartbeat < ?", true, olderThan).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]execution.Execution, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (g *GormStore) Remove(id execution.TaskInstanceID, expectedVersion int) error {
	res := g.db.Where("task_name = ? AND instance_id = ? AND version = ?",
		id.TaskName, id.InstanceID, expectedVersion).Delete(&ExecutionRow{})
	if res.Error != nil {
		return res.Error
	}
	return rowsAffectedToVersionError(g.db, id, res.RowsAffected)
}

func (g *GormStore) Reschedule(id execution.TaskInstanceID, expectedVersion int, newTime time.Time, lastSuccess, lastFailure *time.Time, consecutiveFailures int) error {
	res := g.db.Model(&ExecutionRow{}).
		Where("task_name = ? AND instance_id = ? AND version = ?", id.TaskName, id.InstanceID, expectedVersion).
		Updates(map[string]interface{}{
			"execution_time":       newTime,
			"picked":               false,
			"picked_by":            nil,
			"last_heartbeat":       nil,
			"last_success":         lastSuccess,
			"last_failure":         lastFailure,
			"consecutive_failures": consecutiveFailures,
			"version":              expectedVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	return rowsAffectedToVersionError(g.db, id, res.RowsAffected)
}

func (g *GormStore) GetExecutionsFailingLongerThan(duration time.Duration, now time.Time) ([]execution.Execution, error) {
	cutoff := now.Add(-duration)
	var rows []ExecutionRow
	err := g.db.Where("last_failure IS NOT NULL AND last_failure < ? AND (last_success IS NULL OR last_success < last_failure)", cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]execution.Execution, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (g *GormStore) Get(id execution.TaskInstanceID) (execution.Execution, bool, error) {
	var row ExecutionRow
	err := g.db.Where("task_name = ? AND instance_id = ?", id.TaskName, id.InstanceID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return execution.Execution{}, false, nil
	}
	if err != nil {
		return execution.Execution{}, false, err
	}
	return row.toDomain(), true, nil
}

func (g *GormStore) GetAll() ([]execution.Execution, error) {
	var rows []ExecutionRow
	if err := g.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]execution.Execution, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (g *GormStore) GetAllForTask(taskName string) ([]execution.Execution, error) {
	var rows []ExecutionRow
	if err := g.db.Where("task_name = ?", taskName).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]execution.Execution, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

// rowsAffectedToVersionError distinguishes "no such row" from "row
// exists but version has moved on", matching ErrNotFound vs
// ErrVersionConflict for the in-memory store.
func rowsAffectedToVersionError(db *gorm.DB, id execution.TaskInstanceID, rowsAffected int64) error {
	if rowsAffected > 0 {
		return nil
	}
	var count int64
	err := db.Model(&ExecutionRow{}).
		Where("task_name = ? AND instance_id = ?", id.TaskName, id.InstanceID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}
