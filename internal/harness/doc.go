// Package harness runs verification scenarios against the system under test.
//
// A scenario is an ordered list of steps executed on one session. Each step
// performs an action (an API call or a page interaction), judges the result
// with an assertion, and may extract values into the scenario Context for
// later steps. The first failing step halts the run and gets a diagnostics
// bundle.
//
// # Scenario Format
//
// Scenarios can be built in Go or declared in YAML:
//
//	id: risk-regulation-versioning
//	name: Regulation versioning
//	description: "Updating a regulation adds exactly one version"
//	tags: [api, risk]
//	steps:
//	  - name: create regulation
//	    http:
//	      module: risk
//	      method: POST
//	      path: /regulations
//	      body: { jurisdiction_id: "${jurisdiction_id}", title: "Draft", status: pending }
//	    expect:
//	      status: 201
//	    extract:
//	      regulation_id: data.id
//	  - name: versions
//	    http: { module: risk, method: GET, path: "/regulations/${regulation_id}/versions" }
//	    expect:
//	      json_length: { data: 2 }
//	      json_non_empty: [ "data[1].changes_summary" ]
//	    retry: { interval: 200ms, timeout: 5s }
//
// # Retry Semantics
//
// The action of a step is performed exactly once. While the assertion fails,
// the executor re-observes (a GET is re-issued, a page is re-snapshotted)
// under the step's retry policy until it passes or the policy is exhausted.
// Actions that cannot be observed without side effects are judged once.
//
// # Deterministic Traces
//
// Every run records a trace stamped by a logical clock that restarts per run,
// so identical runs produce identical traces for golden file comparison.
package harness
