package sutfake

import (
	"github.com/roach88/petroverify/internal/workflow"
)

// seed loads the reference data every fresh fake starts with.
func (s *Server) seed() {
	s.jurisdictions = []Jurisdiction{
		{ID: "j-us-tx", Code: "US-TX", Name: "Texas Railroad Commission"},
		{ID: "j-us-nm", Code: "US-NM", Name: "New Mexico Oil Conservation Division"},
		{ID: "j-no", Code: "NO", Name: "Norwegian Offshore Directorate"},
		{ID: "j-uk", Code: "UK", Name: "North Sea Transition Authority"},
	}

	s.layers = []Layer{
		{ID: "l-basins", Name: "Sedimentary Basins", Geometry: "Polygon"},
		{ID: "l-wells", Name: "Wells", Geometry: "Point"},
		{ID: "l-pipelines", Name: "Pipelines", Geometry: "LineString"},
	}
	s.features = map[string][]Feature{
		"l-basins": {
			{
				Type: "Feature", ID: "basin-permian",
				Properties: map[string]any{"name": "Permian Basin", "type": "BASIN", "jurisdiction": "US-TX"},
				Geometry:   polygon([2]float64{-104.5, 30.5}, [2]float64{-100.5, 30.5}, [2]float64{-100.5, 33.8}, [2]float64{-104.5, 33.8}),
			},
			{
				Type: "Feature", ID: "basin-north-sea",
				Properties: map[string]any{"name": "North Sea Basin", "type": "BASIN", "jurisdiction": "UK"},
				Geometry:   polygon([2]float64{-2.0, 53.0}, [2]float64{8.0, 53.0}, [2]float64{8.0, 61.0}, [2]float64{-2.0, 61.0}),
			},
		},
		"l-wells": {
			{
				Type: "Feature", ID: "well-101",
				Properties: map[string]any{"name": "North Sea Well 101", "type": "WELL", "status": "PRODUCING"},
				Geometry:   point(2.1, 56.4),
			},
		},
		"l-pipelines": {},
	}

	s.assets = []Asset{
		{ID: "well-101", Name: "North Sea Well 101", Type: "WELL", Status: "PRODUCING"},
		{ID: "pump-202", Name: "Booster Pump 202", Type: "PUMP", Status: "DEGRADED"},
		{ID: "comp-303", Name: "Gas Compressor 303", Type: "COMPRESSOR", Status: "RUNNING"},
	}
	s.alerts = []workflow.Alert{
		{ID: "alert-1", AssetID: "pump-202", Title: "Discharge pressure below threshold", Severity: "HIGH", Status: "ACTIVE"},
		{ID: "alert-2", AssetID: "well-101", Title: "Annulus pressure trending up", Severity: "MEDIUM", Status: "ACTIVE"},
		{ID: "alert-3", AssetID: "comp-303", Title: "Vibration spike", Severity: "LOW", Status: "RESOLVED"},
	}
}
