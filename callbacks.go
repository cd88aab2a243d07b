package shardroute

import "gorm.io/gorm"

const markerName = "gorm:shard_route"

// shardMarker gorm plugin installed on every shard DB in trace mode
type shardMarker struct {
	shard string
}

func (m *shardMarker) Name() string {
	return markerName
}

func (m *shardMarker) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().Before("*").Register(markerName, m.mark); err != nil {
		return err
	}
	if err := db.Callback().Query().Before("*").Register(markerName, m.mark); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("*").Register(markerName, m.mark); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("*").Register(markerName, m.mark); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("*").Register(markerName, m.mark); err != nil {
		return err
	}
	return db.Callback().Raw().Before("*").Register(markerName, m.mark)
}

func (m *shardMarker) mark(db *gorm.DB) {
	markStmtRoute(db.Statement, m.shard)
}
