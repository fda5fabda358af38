package scenarios

import (
	"github.com/roach88/petroverify/internal/api"
	"github.com/roach88/petroverify/internal/assertion"
	"github.com/roach88/petroverify/internal/harness"
)

// GISModule is the API module serving map layers.
const GISModule = "gis"

// BasinLayerID is the layer holding sedimentary basin polygons.
const BasinLayerID = "l-basins"

// BasinLayer expects the basin layer to be listed and its first feature to
// be a basin.
func BasinLayer() *harness.Scenario {
	return &harness.Scenario{
		ID:          "gis-basin-layer",
		Name:        "Basin layer",
		Description: "The basin layer exists and serves BASIN features",
		Tags:        []string{"api", "gis"},
		Steps: []harness.Step{
			{
				Name:   "list layers",
				Action: harness.HTTP(api.Call{Module: GISModule, Path: "/layers"}),
				Assertion: assertion.All(
					assertion.StatusCodeEquals(200),
					assertion.JSONArrayContains("data", map[string]any{"id": BasinLayerID}),
				),
			},
			{
				Name:   "basin features",
				Action: harness.HTTP(api.Call{Module: GISModule, Path: "/layers/" + BasinLayerID + "/features"}),
				Assertion: assertion.All(
					assertion.StatusCodeEquals(200),
					assertion.JSONArrayMinLength("data", 1),
					assertion.JSONFieldEquals("data[0].properties.type", "BASIN"),
				),
			},
		},
	}
}
