package pipeline

import (
	"context"

	"go-geo-enrich/internal/model"
	"go-geo-enrich/pkg/logger"
)

// ValidationReport summarizes data-quality checks on an ingested table.
// Validation never drops rows.
type ValidationReport struct {
	Rows               int `json:"rows"`
	MissingPostal      int `json:"missing_postal"`
	InvalidPostal      int `json:"invalid_postal"`      // present but not 5 digits
	MissingCoordinates int `json:"missing_coordinates"` // either lat or lon null
	InvalidCoordinates int `json:"invalid_coordinates"` // outside [-90,90] x [-180,180]
	Geocodable         int `json:"geocodable"`          // postal null, coordinates present
}

// ValidateTable checks postal codes and coordinates. Absent columns are
// reported as entirely missing.
func ValidateTable(ctx context.Context, t *model.Table, postalColumn, latColumn, lonColumn string) ValidationReport {
	report := ValidationReport{Rows: t.NumRows()}
	postal := t.Column(postalColumn)
	lat, lon := t.Column(latColumn), t.Column(lonColumn)

	for i := 0; i < t.NumRows(); i++ {
		postalMissing := postal == nil || postal.IsNull(i)
		if postalMissing {
			report.MissingPostal++
		} else if zip, ok := postal.String(i); !ok || !validPostal(zip) {
			report.InvalidPostal++
		}

		if lat == nil || lon == nil || lat.IsNull(i) || lon.IsNull(i) {
			report.MissingCoordinates++
			continue
		}
		y, okY := lat.Float(i)
		x, okX := lon.Float(i)
		if !okY || !okX || y < -90 || y > 90 || x < -180 || x > 180 {
			report.InvalidCoordinates++
		}
		if postalMissing {
			report.Geocodable++
		}
	}

	log := logger.Named("validate")
	log.Info(ctx, "🔍 validation summary",
		logger.Int("rows", report.Rows),
		logger.Int("missing_postal", report.MissingPostal),
		logger.Int("geocodable", report.Geocodable))
	if report.InvalidPostal > 0 || report.InvalidCoordinates > 0 {
		log.Warn(ctx, "❌ invalid values found",
			logger.Int("invalid_postal", report.InvalidPostal),
			logger.Int("invalid_coordinates", report.InvalidCoordinates))
	}
	return report
}

func validPostal(s string) bool {
	if len(s) != 5 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
