package sutfake

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Jurisdiction is a regulatory jurisdiction.
type Jurisdiction struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Regulation is the current version of a regulation.
type Regulation struct {
	ID             string    `json:"id"`
	JurisdictionID string    `json:"jurisdiction_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Status         string    `json:"status"`
	EffectiveDate  string    `json:"effective_date"`
	Version        int       `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Version is one entry of a regulation's history.
type Version struct {
	Version        int       `json:"version"`
	ChangesSummary string    `json:"changes_summary"`
	CreatedAt      time.Time `json:"created_at"`
}

// Watchlist follows regulations by jurisdiction and keyword.
type Watchlist struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Filters   WatchlistFilters `json:"filters"`
	CreatedBy string           `json:"created_by"`
}

// WatchlistFilters selects the regulations a watchlist follows.
type WatchlistFilters struct {
	JurisdictionIDs []string `json:"jurisdiction_ids"`
	Keywords        []string `json:"keywords"`
}

func (w Watchlist) matches(r *Regulation) bool {
	if len(w.Filters.JurisdictionIDs) > 0 && !contains(w.Filters.JurisdictionIDs, r.JurisdictionID) {
		return false
	}
	if len(w.Filters.Keywords) == 0 {
		return true
	}
	text := strings.ToLower(r.Title + " " + r.Description)
	for _, k := range w.Filters.Keywords {
		if strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// FeedEntry is one item of the regulatory feed.
type FeedEntry struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	RegulationID string    `json:"regulation_id"`
	WatchlistIDs []string  `json:"watchlist_ids,omitempty"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
}

// Assessment is a compliance assessment of an asset.
type Assessment struct {
	ID             string `json:"id"`
	AssetID        string `json:"asset_id"`
	JurisdictionID string `json:"jurisdiction_id"`
	RegulationID   string `json:"regulation_id"`
	Status         string `json:"status"`
	Score          int    `json:"score"`
	AssessedBy     string `json:"assessed_by"`
}

// Issue is a remediation task raised from an assessment.
type Issue struct {
	ID           string `json:"id"`
	AssessmentID string `json:"assessment_id"`
	AssetID      string `json:"asset_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Severity     string `json:"severity"`
	Status       string `json:"status"`
	OwnerID      string `json:"owner_id"`
	DueDate      string `json:"due_date"`
}

func (s *Server) listJurisdictions(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"data": s.jurisdictions})
}

func (s *Server) createWatchlist(c *gin.Context) {
	var w Watchlist
	if err := c.ShouldBindJSON(&w); err != nil {
		badRequest(c, "invalid watchlist: %v", err)
		return
	}
	if w.Name == "" {
		badRequest(c, "name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	w.ID = s.nextID("wl")
	s.watchlists = append(s.watchlists, w)
	c.JSON(http.StatusOK, gin.H{"data": w})
}

func (s *Server) createRegulation(c *gin.Context) {
	var r Regulation
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, "invalid regulation: %v", err)
		return
	}
	if r.Title == "" || r.JurisdictionID == "" {
		badRequest(c, "title and jurisdiction_id are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.knownJurisdiction(r.JurisdictionID) {
		badRequest(c, "unknown jurisdiction %s", r.JurisdictionID)
		return
	}
	if r.Status == "" {
		r.Status = "pending"
	}
	r.ID = s.nextID("reg")
	r.Version = 1
	r.UpdatedAt = s.opts.Now()
	s.regulations[r.ID] = &r
	s.versions[r.ID] = []Version{{Version: 1, ChangesSummary: "Initial version", CreatedAt: r.UpdatedAt}}
	c.JSON(http.StatusOK, gin.H{"data": r})
}

func (s *Server) getRegulation(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regulations[c.Param("id")]
	if !ok {
		notFound(c, "regulation", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": r})
}

// updateRegulation applies a partial update. A change adds exactly one
// version and one REGULATION_UPDATE feed entry.
func (s *Server) updateRegulation(c *gin.Context) {
	var patch struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
	}
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid update: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regulations[c.Param("id")]
	if !ok {
		notFound(c, "regulation", c.Param("id"))
		return
	}

	var changes []string
	if patch.Title != nil && *patch.Title != r.Title {
		changes = append(changes, fmt.Sprintf("title changed from %q to %q", r.Title, *patch.Title))
		r.Title = *patch.Title
	}
	if patch.Description != nil && *patch.Description != r.Description {
		changes = append(changes, "description revised")
		r.Description = *patch.Description
	}
	if patch.Status != nil && *patch.Status != r.Status {
		changes = append(changes, fmt.Sprintf("status changed from %s to %s", r.Status, *patch.Status))
		r.Status = *patch.Status
	}
	if len(changes) == 0 {
		c.JSON(http.StatusOK, gin.H{"data": r})
		return
	}

	now := s.opts.Now()
	r.Version++
	r.UpdatedAt = now
	summary := strings.Join(changes, "; ")
	s.versions[r.ID] = append(s.versions[r.ID], Version{Version: r.Version, ChangesSummary: summary, CreatedAt: now})

	entry := FeedEntry{
		ID:           s.nextID("feed"),
		Type:         "REGULATION_UPDATE",
		RegulationID: r.ID,
		Summary:      fmt.Sprintf("%s: %s", r.Title, summary),
		CreatedAt:    now,
	}
	for _, w := range s.watchlists {
		if w.matches(r) {
			entry.WatchlistIDs = append(entry.WatchlistIDs, w.ID)
		}
	}
	s.feed = append(s.feed, entry)
	if s.opts.FeedLag > 0 {
		s.feedLag[len(s.feed)-1] = s.opts.FeedLag
	}
	c.JSON(http.StatusOK, gin.H{"data": r})
}

func (s *Server) listVersions(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs, ok := s.versions[c.Param("id")]
	if !ok {
		notFound(c, "regulation", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": vs})
}

// listFeed returns the feed oldest first. Entries still lagging are hidden
// and their lag shrinks by one read.
func (s *Server) listFeed(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FeedEntry, 0, len(s.feed))
	for i, e := range s.feed {
		if s.feedLag[i] > 0 {
			s.feedLag[i]--
			continue
		}
		out = append(out, e)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// createAssessment scores an assessment from its status alone.
func (s *Server) createAssessment(c *gin.Context) {
	var a Assessment
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, "invalid assessment: %v", err)
		return
	}
	if a.AssetID == "" {
		badRequest(c, "asset_id is required")
		return
	}
	switch strings.ToUpper(a.Status) {
	case "COMPLIANT":
		a.Score = 100
	case "WARNING":
		a.Score = s.opts.WarningScore
	case "NON_COMPLIANT":
		a.Score = 20
	default:
		badRequest(c, "unknown status %q", a.Status)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextID("asm")
	s.assessments[a.ID] = a
	c.JSON(http.StatusOK, gin.H{"data": a})
}

func (s *Server) createIssue(c *gin.Context) {
	var is Issue
	if err := c.ShouldBindJSON(&is); err != nil {
		badRequest(c, "invalid issue: %v", err)
		return
	}
	if is.Title == "" {
		badRequest(c, "title is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assessments[is.AssessmentID]; !ok {
		badRequest(c, "unknown assessment %s", is.AssessmentID)
		return
	}
	if is.Status == "" {
		is.Status = "OPEN"
	}
	is.ID = s.nextID("iss")
	s.issues = append(s.issues, is)
	c.JSON(http.StatusOK, gin.H{"data": is})
}

func (s *Server) knownJurisdiction(id string) bool {
	for _, j := range s.jurisdictions {
		if j.ID == id {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
