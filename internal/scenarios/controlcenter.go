package scenarios

import (
	"net/url"

	"github.com/roach88/petroverify/internal/api"
	"github.com/roach88/petroverify/internal/assertion"
	"github.com/roach88/petroverify/internal/harness"
	"github.com/roach88/petroverify/internal/workflow"
)

// ControlCenterCoreAPI reads the overview KPIs, searches assets for wells
// and pulls the last hour of telemetry for the first one found.
func ControlCenterCoreAPI() *harness.Scenario {
	return &harness.Scenario{
		ID:          "control-center-core-api",
		Name:        "Control center core APIs",
		Description: "Overview reports active alerts, asset search returns wells, and a well has a telemetry series",
		Tags:        []string{"api", "control-center"},
		Steps: []harness.Step{
			{
				Name:   "overview",
				Action: harness.HTTP(api.Call{Module: workflow.Module, Path: "/overview"}),
				Assertion: assertion.All(
					assertion.StatusCodeEquals(200),
					assertion.JSONFieldAtLeast("activeAlerts", 1),
					assertion.JSONFieldAtLeast("totalAssets", 1),
				),
			},
			{
				Name: "search wells",
				Action: harness.HTTP(api.Call{
					Module: workflow.Module,
					Path:   "/assets",
					Query:  url.Values{"query": {"well"}},
				}),
				Assertion: assertion.All(
					assertion.StatusCodeEquals(200),
					assertion.JSONArrayMinLength("$", 1),
					assertion.JSONArrayContains("$", map[string]any{"type": "WELL"}),
				),
				Extract: []harness.Extractor{harness.ExtractWhere("asset_id", "$", map[string]any{"type": "WELL"}, "id")},
			},
			{
				Name: "telemetry",
				Action: harness.HTTP(api.Call{
					Module: workflow.Module,
					Path:   "/assets/${asset_id}/telemetry",
					Query:  url.Values{"window": {"1h"}},
				}),
				Assertion: assertion.All(
					assertion.StatusCodeEquals(200),
					assertion.JSONFieldEquals("asset_id", assertion.Ref("asset_id")),
					assertion.JSONArrayMinLength("series", 1),
				),
			},
		},
	}
}
