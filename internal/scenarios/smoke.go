package scenarios

import (
	"time"

	"github.com/roach88/petroverify/internal/assertion"
	"github.com/roach88/petroverify/internal/browser"
	"github.com/roach88/petroverify/internal/harness"
	"github.com/roach88/petroverify/internal/workflow"
)

// pageWait re-reads a page while it renders.
var pageWait = retry(200*time.Millisecond, 10*time.Second)

// LandingPageSmoke loads the landing page behind the access gate.
func LandingPageSmoke() *harness.Scenario {
	return &harness.Scenario{
		ID:          "landing-page-smoke",
		Name:        "Landing page smoke",
		Description: "The landing page shows the PetroSquare heading and links every module",
		Tags:        []string{"ui", "smoke"},
		UI:          true,
		Steps: []harness.Step{
			{
				Action: harness.Navigate("/"),
				Assertion: assertion.All(
					assertion.ElementVisible(browser.Text("PetroSquare")),
					assertion.ElementVisible(browser.Text("GIS Intelligence")),
					assertion.ElementVisible(browser.Text("Risk & Regulatory")),
					assertion.ElementVisible(browser.Text("Control Center")),
				),
				Retry: pageWait,
			},
		},
	}
}

// GISModuleSmoke loads the GIS module and expects the map canvas.
func GISModuleSmoke() *harness.Scenario {
	return &harness.Scenario{
		ID:          "gis-module-smoke",
		Name:        "GIS module smoke",
		Description: "The GIS module renders its heading and map canvas",
		Tags:        []string{"ui", "gis", "smoke"},
		UI:          true,
		Steps: []harness.Step{
			{
				Action: harness.Navigate("/modules/gis"),
				Assertion: assertion.All(
					assertion.TextPresent("GIS"),
					assertion.ElementCount(browser.CSS("canvas"), 1),
				),
				Retry: pageWait,
			},
		},
	}
}

// RiskModuleSmoke loads the risk module and expects its main panels.
func RiskModuleSmoke() *harness.Scenario {
	return &harness.Scenario{
		ID:          "risk-module-smoke",
		Name:        "Risk module smoke",
		Description: "The risk module renders the compliance score and the regulatory feed",
		Tags:        []string{"ui", "risk", "smoke"},
		UI:          true,
		Steps: []harness.Step{
			{
				Action: harness.Navigate("/modules/risk"),
				Assertion: assertion.All(
					assertion.TextPresent("Risk & Regulatory"),
					assertion.ElementVisible(browser.Text("Compliance Score")),
					assertion.ElementVisible(browser.Text("Regulatory & Risk Feed")),
				),
				Retry: pageWait,
			},
		},
	}
}

// ControlCenterSmoke walks the dashboard, the asset search and the raw data
// drawer of an asset.
func ControlCenterSmoke() *harness.Scenario {
	return &harness.Scenario{
		ID:          "control-center-smoke",
		Name:        "Control center smoke",
		Description: "Dashboard KPIs render, asset search filters, and the inspect drawer shows provenance",
		Tags:        []string{"ui", "control-center", "smoke"},
		UI:          true,
		Steps: []harness.Step{
			{
				Action: harness.Navigate(workflow.PagePrefix),
				Assertion: assertion.All(
					assertion.TextPresent("Control Center Dashboard"),
					assertion.ElementVisible(browser.Text("Total Assets")),
				),
				Retry: pageWait,
			},
			{
				Action:    harness.Navigate(workflow.PagePrefix + "/assets"),
				Assertion: assertion.ElementVisible(browser.CSS(`input[placeholder="Search Assets..."]`)),
				Retry:     pageWait,
			},
			{
				Action: harness.Fill(browser.CSS(`input[placeholder="Search Assets..."]`), "Pump"),
			},
			{
				Name:   "search filters assets",
				Action: harness.Click(browser.Text("Search")),
				Assertion: assertion.All(
					assertion.ElementVisible(browser.Text("Booster Pump 202")),
					assertion.ElementCount(browser.Text("North Sea Well 101"), 0),
				),
				Retry: pageWait,
			},
			{
				Action:    harness.Click(browser.Text("Booster Pump 202")),
				Assertion: assertion.TextPresent("Real-Time Telemetry"),
				Retry:     pageWait,
			},
			{
				Name:   "inspect raw data",
				Action: harness.Click(browser.Text("Inspect Raw Data")),
				Assertion: assertion.All(
					assertion.TextPresent("Data Provenance"),
					assertion.TextPresent("SCADA_HISTORIAN_STUB"),
				),
				Retry: pageWait,
			},
		},
	}
}
