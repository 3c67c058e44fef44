package pipeline

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"go-geo-enrich/internal/model"
	"go-geo-enrich/pkg/logger"
)

// Transformations applied to text columns after ingestion, in order.
const (
	TransformTrimStrings    = "trimStrings"
	TransformLowercase      = "convertToLowercase"
	TransformUppercase      = "convertToUppercase"
	TransformNormalizeNames = "normalizeNames"
)

var titleCaser = cases.Title(language.English)

// TransformTable applies the named transformations to every text column.
// normalizeNames only touches category columns (city, borough, agency).
func TransformTable(ctx context.Context, t *model.Table, transformations []string) error {
	for _, name := range transformations {
		fn, categoryOnly, err := lookupTransform(name)
		if err != nil {
			return err
		}
		changed := 0
		for _, col := range t.Columns() {
			if !col.Type.IsText() || (categoryOnly && col.Type != model.TypeCategory) {
				continue
			}
			for i, v := range col.Values {
				s, ok := v.(string)
				if !ok {
					continue
				}
				if out := fn(s); out != s {
					col.Values[i] = out
					changed++
				}
			}
		}
		logger.Named("transform").Info(ctx, "🔄 transformation applied",
			logger.String("transformation", name), logger.Int("values_changed", changed))
	}
	return nil
}

func lookupTransform(name string) (func(string) string, bool, error) {
	switch name {
	case TransformTrimStrings:
		return strings.TrimSpace, false, nil
	case TransformLowercase:
		return strings.ToLower, false, nil
	case TransformUppercase:
		return strings.ToUpper, false, nil
	case TransformNormalizeNames:
		return func(s string) string { return titleCaser.String(strings.ToLower(s)) }, true, nil
	default:
		return nil, false, fmt.Errorf("unknown transformation: %s", name)
	}
}
