package model

// Demographics is the aggregate census data for one ZIP code
type Demographics struct {
	Zipcode               string   `json:"zipcode"`
	MajorCity             string   `json:"major_city"`
	County                string   `json:"county"`
	State                 string   `json:"state"`
	Population            *int64   `json:"population,omitempty"`
	PopulationDensity     *float64 `json:"population_density,omitempty"`
	HousingUnits          *int64   `json:"housing_units,omitempty"`
	OccupiedHousingUnits  *int64   `json:"occupied_housing_units,omitempty"`
	LandAreaSqMi          *float64 `json:"land_area_in_sqmi,omitempty"`
	MedianHomeValue       *int64   `json:"median_home_value,omitempty"`
	MedianHouseholdIncome *int64   `json:"median_household_income,omitempty"`
}

// DemographicField names a column that enrichment can add to a table
type DemographicField struct {
	Name string
	Type ColumnType
	get  func(*Demographics) interface{}
}

// Value extracts the field from d; nil when d is nil or the value is absent.
func (f DemographicField) Value(d *Demographics) interface{} {
	if d == nil {
		return nil
	}
	return f.get(d)
}

func optInt(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func optFloat(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func optString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// DemographicFields lists every joinable field, in output order.
var DemographicFields = []DemographicField{
	{Name: "major_city", Type: TypeCategory, get: func(d *Demographics) interface{} { return optString(d.MajorCity) }},
	{Name: "county", Type: TypeCategory, get: func(d *Demographics) interface{} { return optString(d.County) }},
	{Name: "state", Type: TypeCategory, get: func(d *Demographics) interface{} { return optString(d.State) }},
	{Name: "population", Type: TypeInt, get: func(d *Demographics) interface{} { return optInt(d.Population) }},
	{Name: "population_density", Type: TypeFloat, get: func(d *Demographics) interface{} { return optFloat(d.PopulationDensity) }},
	{Name: "housing_units", Type: TypeInt, get: func(d *Demographics) interface{} { return optInt(d.HousingUnits) }},
	{Name: "occupied_housing_units", Type: TypeInt, get: func(d *Demographics) interface{} { return optInt(d.OccupiedHousingUnits) }},
	{Name: "land_area_in_sqmi", Type: TypeFloat, get: func(d *Demographics) interface{} { return optFloat(d.LandAreaSqMi) }},
	{Name: "median_home_value", Type: TypeInt, get: func(d *Demographics) interface{} { return optInt(d.MedianHomeValue) }},
	{Name: "median_household_income", Type: TypeInt, get: func(d *Demographics) interface{} { return optInt(d.MedianHouseholdIncome) }},
}

// LookupDemographicField finds a field by name.
func LookupDemographicField(name string) (DemographicField, bool) {
	for _, f := range DemographicFields {
		if f.Name == name {
			return f, true
		}
	}
	return DemographicField{}, false
}
