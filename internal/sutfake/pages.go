package sutfake

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/roach88/petroverify/internal/workflow"
)

// pageActor is the user the page flows act as.
const pageActor = "operator"

func (s *Server) homePage(c *gin.Context) {
	c.HTML(http.StatusOK, "home.html", gin.H{"Title": "Home"})
}

func (s *Server) gisPage(c *gin.Context) {
	s.mu.Lock()
	layers := append([]Layer(nil), s.layers...)
	s.mu.Unlock()
	c.HTML(http.StatusOK, "gis.html", gin.H{"Title": "GIS", "Layers": layers})
}

func (s *Server) riskPage(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	regs := make([]*Regulation, 0, len(s.regulations))
	for _, r := range s.regulations {
		regs = append(regs, r)
	}
	sortRegulations(regs)

	score, n := 0, 0
	for _, a := range s.assessments {
		score += a.Score
		n++
	}
	if n > 0 {
		score /= n
	} else {
		score = 100
	}

	var feed []FeedEntry
	for i, e := range s.feed {
		if s.feedLag[i] == 0 {
			feed = append(feed, e)
		}
	}
	c.HTML(http.StatusOK, "risk.html", gin.H{
		"Title":       "Risk & Regulatory",
		"Score":       score,
		"Feed":        feed,
		"Regulations": regs,
	})
}

func (s *Server) dashboardPage(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, a := range s.alerts {
		if a.IsOpen() {
			active++
		}
	}
	c.HTML(http.StatusOK, "dashboard.html", gin.H{
		"Title":         "Control Center",
		"TotalAssets":   len(s.assets),
		"ActiveAlerts":  active,
		"OpenWorkflows": s.openWorkflows(),
	})
}

func (s *Server) assetsPage(c *gin.Context) {
	q := c.Query("q")
	c.HTML(http.StatusOK, "assets.html", gin.H{
		"Title":  "Assets",
		"Query":  q,
		"Assets": s.searchAssets(q),
	})
}

func (s *Server) assetPage(c *gin.Context) {
	s.mu.Lock()
	asset, ok := s.findAsset(c.Param("id"))
	s.mu.Unlock()
	if !ok {
		s.errorPage(c, http.StatusNotFound, "Asset "+c.Param("id")+" not found")
		return
	}
	c.HTML(http.StatusOK, "asset.html", gin.H{
		"Title":   asset.Name,
		"Asset":   asset,
		"Inspect": c.Query("inspect") != "",
	})
}

func (s *Server) alertsPage(c *gin.Context) {
	s.mu.Lock()
	alerts := append([]workflow.Alert(nil), s.alerts...)
	s.mu.Unlock()
	c.HTML(http.StatusOK, "alerts.html", gin.H{"Title": "Alerts", "Alerts": alerts})
}

func (s *Server) pageDraftWorkflow(c *gin.Context) {
	w, err := s.draft(c.Request.Context(), c.PostForm("alert_id"), "", pageActor)
	if err != nil {
		s.pageError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/modules/control-center/workflows/"+w["id"].(string))
}

func (s *Server) pageSimulateWorkflow(c *gin.Context) {
	id := c.Param("id")
	if title := c.PostForm("title"); title != "" {
		s.mu.Lock()
		if w, ok := s.workflows[id]; ok {
			w.title = title
		}
		s.mu.Unlock()
	}
	if _, err := s.simulate(c.Request.Context(), id, pageActor); err != nil {
		s.pageError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/modules/control-center/workflows/"+id)
}

func (s *Server) pageCommitWorkflow(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.commit(c.Request.Context(), id, pageActor); err != nil {
		s.pageError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/modules/control-center/workflows/"+id)
}

// workflowView is the template model of the workflow page.
type workflowView struct {
	ID      string
	AlertID string
	Title   string
	State   string
	Impact  workflow.Impact
}

func (s *Server) workflowPage(c *gin.Context) {
	s.mu.Lock()
	w, ok := s.workflows[c.Param("id")]
	var v workflowView
	if ok {
		v = workflowView{
			ID:      w.inst.ID(),
			AlertID: w.inst.Alert().ID,
			Title:   w.title,
			State:   string(w.state()),
		}
		v.Impact, _ = w.inst.Impact()
	}
	s.mu.Unlock()
	if !ok {
		s.errorPage(c, http.StatusNotFound, "Workflow "+c.Param("id")+" not found")
		return
	}
	c.HTML(http.StatusOK, "workflow.html", gin.H{"Title": "Workflow", "Workflow": v})
}

func (s *Server) auditPage(c *gin.Context) {
	c.HTML(http.StatusOK, "audit.html", gin.H{"Title": "Audit", "Entries": s.auditTrail("")})
}

func (s *Server) pageError(c *gin.Context, err error) {
	s.errorPage(c, statusOf(err), err.Error())
}

func (s *Server) errorPage(c *gin.Context, status int, msg string) {
	c.HTML(status, "error.html", gin.H{"Title": "Error", "Status": status, "Message": msg})
}

// sortRegulations orders regulations most recently updated first.
func sortRegulations(regs []*Regulation) {
	sort.SliceStable(regs, func(i, j int) bool {
		if !regs[i].UpdatedAt.Equal(regs[j].UpdatedAt) {
			return regs[i].UpdatedAt.After(regs[j].UpdatedAt)
		}
		return regs[i].ID < regs[j].ID
	})
}
