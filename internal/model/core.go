package model

// RunSpec is the persisted description of a pipeline run
type RunSpec struct {
	Input        string       `json:"input"`                  // delimited text file
	Columns      []ColumnSpec `json:"columns,omitempty"`      // explicit schema
	ParquetPath  string       `json:"parquetPath"`            // columnar round-trip file
	EnrichedPath string       `json:"enrichedPath,omitempty"` // final enriched output
	ZipDB        string       `json:"zipDB,omitempty"`        // demographic database
	GeocoderURL  string       `json:"geocoderURL,omitempty"`  // reverse-geocoding endpoint
	SkipGeocode  bool         `json:"skipGeocode"`
	SkipEnrich   bool         `json:"skipEnrich"`
	EnrichFields []string     `json:"enrichFields,omitempty"`
	PostalColumn string       `json:"postalColumn"`
	LatColumn    string       `json:"latColumn"`
	LonColumn    string       `json:"lonColumn"`
}

// Run is a stored run with its status
type Run struct {
	ID        string  `json:"id"`
	Spec      RunSpec `json:"spec"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

// Run statuses, in the order a successful run passes through them.
const (
	StatusPending   = "pending"
	StatusIngesting = "ingesting"
	StatusGeocoding = "geocoding"
	StatusExporting = "exporting"
	StatusEnriching = "enriching"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)
