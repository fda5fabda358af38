package sutfake

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/petroverify/internal/workflow"
)

// Asset is a monitored field asset.
type Asset struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// fakeWorkflow is a control-center workflow, backed by the same state
// machine the harness replays transitions on.
type fakeWorkflow struct {
	inst      *workflow.Instance
	title     string
	createdBy string

	// forced is set when AllowCommitFromDraft committed a DRAFT workflow.
	forced bool
}

func (w *fakeWorkflow) state() workflow.State {
	if w.forced {
		return workflow.Committed
	}
	return w.inst.State()
}

func (w *fakeWorkflow) view() gin.H {
	h := gin.H{
		"id":         w.inst.ID(),
		"alert_id":   w.inst.Alert().ID,
		"title":      w.title,
		"state":      w.state(),
		"created_by": w.createdBy,
	}
	if impact, ok := w.inst.Impact(); ok {
		h["impact"] = impact
	}
	return h
}

// errConflict marks a refused transition.
var errConflict = errors.New("conflict")

func (s *Server) overview(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, a := range s.alerts {
		if a.IsOpen() {
			active++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"totalAssets":   len(s.assets),
		"activeAlerts":  active,
		"openWorkflows": s.openWorkflows(),
	})
}

func (s *Server) listAssets(c *gin.Context) {
	c.JSON(http.StatusOK, s.searchAssets(c.Query("query")))
}

func (s *Server) searchAssets(q string) []Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	q = strings.ToLower(strings.TrimSpace(q))
	out := make([]Asset, 0, len(s.assets))
	for _, a := range s.assets {
		if q == "" || strings.Contains(strings.ToLower(a.Name+" "+a.Type), q) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Server) findAsset(id string) (Asset, bool) {
	for _, a := range s.assets {
		if a.ID == id {
			return a, true
		}
	}
	return Asset{}, false
}

// telemetry returns a deterministic pressure series for the window.
func (s *Server) telemetry(c *gin.Context) {
	s.mu.Lock()
	asset, ok := s.findAsset(c.Param("id"))
	s.mu.Unlock()
	if !ok {
		notFound(c, "asset", c.Param("id"))
		return
	}
	window, err := time.ParseDuration(c.DefaultQuery("window", "1h"))
	if err != nil || window <= 0 {
		badRequest(c, "invalid window %q", c.Query("window"))
		return
	}

	const points = 12
	end := s.opts.Now().Truncate(time.Minute)
	step := window / points
	series := make([]gin.H, 0, points)
	for i := 0; i < points; i++ {
		series = append(series, gin.H{
			"t":     end.Add(-window + time.Duration(i+1)*step),
			"value": math.Round((1200+80*math.Sin(float64(i)/2))*10) / 10,
		})
	}
	c.JSON(http.StatusOK, gin.H{"asset_id": asset.ID, "window": window.String(), "series": series})
}

func (s *Server) listAlerts(c *gin.Context) {
	status := strings.ToUpper(c.Query("status"))
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]workflow.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if status == "" || strings.ToUpper(a.Status) == status {
			out = append(out, a)
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) apiDraftWorkflow(c *gin.Context) {
	var req struct {
		AlertID   string `json:"alert_id"`
		Title     string `json:"title"`
		CreatedBy string `json:"created_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid draft: %v", err)
		return
	}
	w, err := s.draft(c.Request.Context(), req.AlertID, req.Title, req.CreatedBy)
	if err != nil {
		s.workflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": w})
}

func (s *Server) apiGetWorkflow(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[c.Param("id")]
	if !ok {
		notFound(c, "workflow", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": w.view()})
}

func (s *Server) apiSimulateWorkflow(c *gin.Context) {
	var req struct {
		RequestedBy string `json:"requested_by"`
	}
	_ = c.ShouldBindJSON(&req)
	w, err := s.simulate(c.Request.Context(), c.Param("id"), req.RequestedBy)
	if err != nil {
		s.workflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": w})
}

func (s *Server) apiCommitWorkflow(c *gin.Context) {
	var req struct {
		CommittedBy string `json:"committed_by"`
	}
	_ = c.ShouldBindJSON(&req)
	w, err := s.commit(c.Request.Context(), c.Param("id"), req.CommittedBy)
	if err != nil {
		s.workflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": w})
}

// listAudit returns the audit trail of every workflow in creation order,
// optionally filtered by workflow_id. A lagging commit stays hidden.
func (s *Server) listAudit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.auditTrail(c.Query("workflow_id"))})
}

func (s *Server) auditTrail(workflowID string) []workflow.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	hideCommits := s.auditLag > 0
	if hideCommits {
		s.auditLag--
	}
	out := []workflow.AuditEntry{}
	for _, id := range s.workflowIDs {
		if workflowID != "" && id != workflowID {
			continue
		}
		for _, e := range s.workflows[id].inst.Audit() {
			if hideCommits && e.Action == workflow.ActionCommit {
				continue
			}
			out = append(out, e)
		}
	}
	return out
}

func (s *Server) draft(ctx context.Context, alertID, title, actor string) (gin.H, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert_id is required", errBadInput)
	}
	actor = actorOr(actor)

	s.mu.Lock()
	defer s.mu.Unlock()
	var alert *workflow.Alert
	for i := range s.alerts {
		if s.alerts[i].ID == alertID {
			alert = &s.alerts[i]
		}
	}
	if alert == nil {
		return nil, fmt.Errorf("%w: alert %s", errNotFound, alertID)
	}
	if title == "" {
		title = "Fix: " + alert.Title
	}

	inst := workflow.New(*alert, workflow.WithClock(s.opts.Now), workflow.WithLogger(s.logger))
	id := s.nextID("wf")
	if err := inst.Draft(ctx, id, actor); err != nil {
		return nil, err
	}
	w := &fakeWorkflow{inst: inst, title: title, createdBy: actor}
	s.workflows[id] = w
	s.workflowIDs = append(s.workflowIDs, id)
	return w.view(), nil
}

func (s *Server) simulate(ctx context.Context, id, actor string) (gin.H, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", errNotFound, id)
	}
	if w.forced {
		return nil, fmt.Errorf("%w: workflow %s is committed", errConflict, id)
	}
	impact := s.impactOf(w.inst.Alert())
	if err := w.inst.Simulate(ctx, impact, actorOr(actor)); err != nil {
		return nil, err
	}
	return w.view(), nil
}

func (s *Server) commit(ctx context.Context, id, actor string) (gin.H, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", errNotFound, id)
	}
	if s.opts.AllowCommitFromDraft && w.inst.State() == workflow.Draft {
		w.forced = true
		return w.view(), nil
	}
	if err := w.inst.Commit(ctx, actorOr(actor)); err != nil {
		return nil, err
	}
	s.auditLag = s.opts.AuditLag
	return w.view(), nil
}

// impactOf analyses isolating the alert's asset. Called with s.mu held.
func (s *Server) impactOf(a workflow.Alert) workflow.Impact {
	affected := []string{a.AssetID}
	for _, other := range s.assets {
		if other.ID != a.AssetID && other.Type == "WELL" {
			affected = append(affected, other.ID)
		}
	}
	return workflow.Impact{
		Summary:        fmt.Sprintf("Isolating %s affects %d asset(s) for an estimated 4h", a.AssetID, len(affected)),
		AffectedAssets: affected,
		RiskDelta:      -0.35,
	}
}

// openWorkflows counts workflows not yet committed. Called with s.mu held.
func (s *Server) openWorkflows() int {
	n := 0
	for _, w := range s.workflows {
		if w.state() != workflow.Committed {
			n++
		}
	}
	return n
}

var (
	errBadInput = errors.New("bad input")
	errNotFound = errors.New("not found")
)

func (s *Server) workflowError(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadInput):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errConflict), workflow.IsInvalidTransition(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func actorOr(actor string) string {
	if actor == "" {
		return "anonymous"
	}
	return actor
}
