package scenarios

import (
	"fmt"
	"time"

	"github.com/roach88/petroverify/internal/api"
	"github.com/roach88/petroverify/internal/assertion"
	"github.com/roach88/petroverify/internal/harness"
)

// RiskModule is the API module serving regulations, watchlists and
// assessments.
const RiskModule = "risk"

// feedWindow bounds how long an update may take to reach the feed.
const feedWindow = 5 * time.Second

// RegulationVersioning updates a pending regulation and expects the
// version history to record the change.
func RegulationVersioning() *harness.Scenario {
	return &harness.Scenario{
		ID:          "risk-regulation-versioning",
		Name:        "Regulation versioning",
		Description: "Activating a regulation with a revised title adds a second version with a change summary",
		Tags:        []string{"api", "risk"},
		Steps: []harness.Step{
			findJurisdiction("US-TX"),
			{
				Name: "create regulation",
				Action: harness.HTTP(api.Call{
					Module: RiskModule,
					Method: "POST",
					Path:   "/regulations",
					Body: map[string]any{
						"jurisdiction_id": "${jurisdiction_id}",
						"title":           "Methane Emissions Reporting",
						"description":     "Quarterly reporting of methane venting and flaring volumes",
						"status":          "pending",
						"effective_date":  "2026-07-01",
					},
				}),
				Assertion: assertion.All(
					assertion.StatusCodeEquals(200),
					assertion.JSONFieldEquals("data.status", "pending"),
					assertion.JSONFieldEquals("data.version", 1),
				),
				Extract: []harness.Extractor{harness.ExtractJSON("regulation_id", "data.id")},
			},
			{
				Name: "activate with revised title",
				Action: harness.HTTP(api.Call{
					Module: RiskModule,
					Method: "PUT",
					Path:   "/regulations/${regulation_id}",
					Body: map[string]any{
						"status": "active",
						"title":  "Methane Emissions Reporting (Revised)",
					},
				}),
				Assertion: assertion.All(
					assertion.StatusCodeEquals(200),
					assertion.JSONFieldEquals("data.status", "active"),
					assertion.JSONFieldEquals("data.version", 2),
				),
			},
			{
				Name:   "version history",
				Action: harness.HTTP(api.Call{Module: RiskModule, Path: "/regulations/${regulation_id}/versions"}),
				Assertion: assertion.All(
					assertion.StatusCodeEquals(200),
					assertion.JSONArrayLength("data", 2),
					assertion.JSONFieldNonEmpty("data[1].changes_summary"),
				),
				Retry: retry(200*time.Millisecond, feedWindow),
			},
		},
	}
}

// WatchlistFeed follows a jurisdiction and keyword, updates a matching
// regulation and expects exactly one REGULATION_UPDATE for it in the feed.
func WatchlistFeed() *harness.Scenario {
	return &harness.Scenario{
		ID:          "risk-watchlist-feed",
		Name:        "Watchlist feed",
		Description: "An update to a watched regulation appears once in the regulatory feed",
		Tags:        []string{"api", "risk"},
		Steps: []harness.Step{
			findJurisdiction("US-TX"),
			{
				Name: "create watchlist",
				Action: harness.HTTP(api.Call{
					Module: RiskModule,
					Method: "POST",
					Path:   "/watchlists",
					Body: map[string]any{
						"name": "Texas test regulations",
						"filters": map[string]any{
							"jurisdiction_ids": []any{"${jurisdiction_id}"},
							"keywords":         []any{"test"},
						},
						"created_by": "petroverify",
					},
				}),
				Assertion: assertion.All(
					assertion.StatusCodeEquals(200),
					assertion.JSONFieldNonEmpty("data.id"),
				),
				Extract: []harness.Extractor{harness.ExtractJSON("watchlist_id", "data.id")},
			},
			{
				Name: "create regulation",
				Action: harness.HTTP(api.Call{
					Module: RiskModule,
					Method: "POST",
					Path:   "/regulations",
					Body: map[string]any{
						"jurisdiction_id": "${jurisdiction_id}",
						"title":           "Test Regulation Alpha",
						"description":     "Created by the watchlist feed scenario",
					},
				}),
				Assertion: assertion.StatusCodeEquals(200),
				Extract:   []harness.Extractor{harness.ExtractJSON("regulation_id", "data.id")},
			},
			{
				Name: "update regulation",
				Action: harness.HTTP(api.Call{
					Module: RiskModule,
					Method: "PUT",
					Path:   "/regulations/${regulation_id}",
					Body:   map[string]any{"description": "Revised by the watchlist feed scenario"},
				}),
				Assertion: assertion.StatusCodeEquals(200),
			},
			{
				Name:   "feed shows one update",
				Action: harness.HTTP(api.Call{Module: RiskModule, Path: "/feed"}),
				Assertion: assertion.JSONArrayCount("data", map[string]any{
					"type":          "REGULATION_UPDATE",
					"regulation_id": assertion.Ref("regulation_id"),
				}, 1),
				Retry: retry(250*time.Millisecond, feedWindow),
			},
		},
	}
}

// AssessmentScenario creates an assessment and compares its score with the
// pinned oracle, then raises an issue from it.
func AssessmentScenario(o Oracles) *harness.Scenario {
	want := o.Assessment
	steps := []harness.Step{
		{
			Name: "create assessment",
			Action: harness.HTTP(api.Call{
				Module: RiskModule,
				Method: "POST",
				Path:   "/assessments",
				Body: map[string]any{
					"asset_id":    want.AssetID,
					"status":      want.Status,
					"assessed_by": "petroverify",
				},
			}),
			Assertion: assertion.All(
				assertion.StatusCodeEquals(200),
				assertion.JSONFieldEquals("data.score", want.ExpectedScore),
			),
			Extract: []harness.Extractor{harness.ExtractJSON("assessment_id", "data.id")},
		},
		{
			Name: "raise issue",
			Action: harness.HTTP(api.Call{
				Module: RiskModule,
				Method: "POST",
				Path:   "/issues",
				Body: map[string]any{
					"assessment_id": "${assessment_id}",
					"asset_id":      want.AssetID,
					"title":         fmt.Sprintf("Remediate %s finding on %s", want.Status, want.AssetID),
					"severity":      "MEDIUM",
					"owner_id":      "petroverify",
					"due_date":      "2026-12-31",
				},
			}),
			Assertion: assertion.All(
				assertion.StatusCodeEquals(200),
				assertion.JSONFieldEquals("data.assessment_id", assertion.Ref("assessment_id")),
			),
		},
	}

	j := o.Jurisdictions
	var checks []assertion.Assertion
	checks = append(checks, assertion.StatusCodeEquals(200))
	if j.MinCount > 0 {
		checks = append(checks, assertion.JSONArrayMinLength("data", j.MinCount))
	}
	for _, code := range j.RequiredCodes {
		checks = append(checks, assertion.JSONArrayContains("data", map[string]any{"code": code}))
	}
	steps = append(steps, harness.Step{
		Name:      "jurisdictions reference data",
		Action:    harness.HTTP(api.Call{Module: RiskModule, Path: "/jurisdictions"}),
		Assertion: assertion.All(checks...),
	})

	return &harness.Scenario{
		ID:          "risk-assessment-oracle",
		Name:        "Assessment score oracle",
		Description: fmt.Sprintf("A %s assessment scores %d", want.Status, want.ExpectedScore),
		Tags:        []string{"api", "risk"},
		Steps:       steps,
	}
}

func findJurisdiction(code string) harness.Step {
	return harness.Step{
		Name:   "find " + code + " jurisdiction",
		Action: harness.HTTP(api.Call{Module: RiskModule, Path: "/jurisdictions"}),
		Assertion: assertion.All(
			assertion.StatusCodeEquals(200),
			assertion.JSONArrayContains("data", map[string]any{"code": code}),
		),
		Extract: []harness.Extractor{harness.ExtractWhere("jurisdiction_id", "data", map[string]any{"code": code}, "id")},
	}
}
