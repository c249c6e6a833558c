// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/studyhub/locsync/internal/geo"
	"github.com/studyhub/locsync/internal/model"
	"github.com/studyhub/locsync/pkg/core"
	"gorm.io/datatypes"
)

// nullFloat converts an optional reading to a nullable column value.
func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return core.Float(v.Float64)
}

// deviceInfoToJSON converts device metadata to datatypes.JSON for DB storage.
func deviceInfoToJSON(info map[string]string) datatypes.JSON {
	if len(info) == 0 {
		return datatypes.JSON("{}")
	}
	data, _ := json.Marshal(info)
	return datatypes.JSON(data)
}

// CoreToLocationFix converts a core.Fix to a GORM model.LocationFix. A fix
// whose coordinate cannot form a point is rejected.
func CoreToLocationFix(f core.Fix) (model.LocationFix, error) {
	pos := f.Position
	point, err := geo.Point4326(pos)
	if err != nil {
		return model.LocationFix{}, fmt.Errorf("fix for %s: %w", f.SubjectID, err)
	}
	return model.LocationFix{
		Time:       pos.CapturedAt.UTC(),
		SubjectID:  f.SubjectID,
		SessionID:  f.SessionID,
		Source:     string(f.Source),
		Latitude:   pos.Latitude,
		Longitude:  pos.Longitude,
		Position:   point,
		Accuracy:   nullFloat(pos.Accuracy),
		Altitude:   nullFloat(pos.Altitude),
		Heading:    nullFloat(pos.Heading),
		Speed:      nullFloat(pos.Speed),
		Address:    pos.Address,
		DeviceInfo: deviceInfoToJSON(f.DeviceInfo),
	}, nil
}

// LocationFixToCore converts a GORM model.LocationFix back to a core.Fix.
// Latitude and longitude come from the scalar columns; the point column is
// only kept for spatial queries.
func LocationFixToCore(m model.LocationFix) core.Fix {
	var info map[string]string
	if len(m.DeviceInfo) > 0 {
		_ = json.Unmarshal(m.DeviceInfo, &info)
	}
	if len(info) == 0 {
		info = nil
	}

	return core.Fix{
		SubjectID: m.SubjectID,
		SessionID: m.SessionID,
		Source:    core.FixSource(m.Source),
		Position: core.Position{
			Latitude:   m.Latitude,
			Longitude:  m.Longitude,
			Accuracy:   floatPtr(m.Accuracy),
			Altitude:   floatPtr(m.Altitude),
			Heading:    floatPtr(m.Heading),
			Speed:      floatPtr(m.Speed),
			Address:    m.Address,
			CapturedAt: m.Time,
		},
		DeviceInfo: info,
	}
}
