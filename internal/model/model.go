package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

//////////////////////////
// DATABASE STRUCTURES  //
//////////////////////////

// DatabaseModels lists the tables migrated on Postgres.
var DatabaseModels = []interface{}{
	&JournalInfo{},
	&LocationFix{},
	&LocationStop{},
}

// DatabaseModelsSQLite lists the tables migrated on SQLite. The schema is the
// same; the point column is stored as WKB without PostGIS.
var DatabaseModelsSQLite = []interface{}{
	&JournalInfo{},
	&LocationFix{},
	&LocationStop{},
}

// JournalInfo is a single-row table describing the journal schema.
type JournalInfo struct {
	ID            uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	CreatedAt     time.Time `json:"createdAt"`
	SchemaVersion uint      `json:"schemaVersion" gorm:"default:1"`
	Application   string    `json:"application" gorm:"size:64"`
}

func (*JournalInfo) TableName() string {
	return "journal_infos"
}

// LocationFix is one self position applied by the controller.
type LocationFix struct {
	ID         uint            `json:"id" gorm:"primarykey;autoIncrement;"`
	Time       time.Time       `json:"time" gorm:"index:idx_fix_subject_time,priority:2;not null"` // capture time of the fix
	SubjectID  string          `json:"subjectId" gorm:"index:idx_fix_subject_time,priority:1;size:128;not null"`
	SessionID  string          `json:"sessionId" gorm:"index:idx_fix_session_id;size:128"`
	Source     string          `json:"source" gorm:"size:32"` // geolocation, manual or server
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	Position   geom.Point      `json:"position"` // lon/lat point, EPSG:4326
	Accuracy   sql.NullFloat64 `json:"accuracy"` // error radius in meters
	Altitude   sql.NullFloat64 `json:"altitude"`
	Heading    sql.NullFloat64 `json:"heading"`
	Speed      sql.NullFloat64 `json:"speed"`
	Address    string          `json:"address" gorm:"size:512"`
	DeviceInfo datatypes.JSON  `json:"deviceInfo"`
	RecordedAt time.Time       `json:"recordedAt" gorm:"autoCreateTime"`
}

func (*LocationFix) TableName() string {
	return "location_fixes"
}

// LocationStop marks the end of a tracking session for a subject.
type LocationStop struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"index:idx_stop_subject_time,priority:2;not null"`
	SubjectID string    `json:"subjectId" gorm:"index:idx_stop_subject_time,priority:1;size:128;not null"`
}

func (*LocationStop) TableName() string {
	return "location_stops"
}
