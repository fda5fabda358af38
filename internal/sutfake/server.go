// Package sutfake is an in-memory stand-in for the application under test.
//
// It serves the risk, gis and control-center JSON APIs and a set of
// server-rendered pages behind the access gate, so scenarios can run
// end-to-end in tests and in local dry runs without the real application.
// Knobs in Options inject eventual consistency and known defects.
package sutfake

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/petroverify/internal/workflow"
)

//go:embed templates/*.html
var templates embed.FS

// DefaultAccessKey is the shared gate credential.
const DefaultAccessKey = "PetroV0"

// accessCookie holds the satisfied gate credential.
const accessCookie = "pv_access"

// Options configures the fake.
type Options struct {
	// AccessKey guards every page. Empty disables the gate.
	AccessKey string

	// WarmupRequests answers the first n API requests with 503.
	WarmupRequests int

	// FeedLag hides a REGULATION_UPDATE entry from the next n feed reads.
	FeedLag int

	// AuditLag hides a COMMIT_WORKFLOW entry from the next n audit reads.
	AuditLag int

	// WarningScore is the score of a WARNING assessment. Zero means 60.
	WarningScore int

	// AllowCommitFromDraft makes the control center commit workflows that
	// were never simulated.
	AllowCommitFromDraft bool

	Now    func() time.Time
	Logger *slog.Logger
}

// Server is the fake application. It is safe for concurrent use.
type Server struct {
	opts   Options
	logger *slog.Logger
	engine *gin.Engine

	mu       sync.Mutex
	seq      map[string]int
	apiCalls int

	jurisdictions []Jurisdiction
	regulations   map[string]*Regulation
	versions      map[string][]Version
	watchlists    []Watchlist
	feed          []FeedEntry
	feedLag       map[int]int
	assessments   map[string]Assessment
	issues        []Issue

	layers   []Layer
	features map[string][]Feature

	assets      []Asset
	alerts      []workflow.Alert
	workflows   map[string]*fakeWorkflow
	workflowIDs []string
	auditLag    int
}

// New creates a fake with seeded reference data.
func New(opts Options) *Server {
	if opts.WarningScore == 0 {
		opts.WarningScore = 60
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		opts:        opts,
		logger:      logger,
		seq:         make(map[string]int),
		regulations: make(map[string]*Regulation),
		versions:    make(map[string][]Version),
		feedLag:     make(map[int]int),
		assessments: make(map[string]Assessment),
		workflows:   make(map[string]*fakeWorkflow),
	}
	s.seed()
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler serving the fake.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.logging())

	tmpl := template.Must(template.New("").Funcs(template.FuncMap{
		"lower": strings.ToLower,
	}).ParseFS(templates, "templates/*.html"))
	r.SetHTMLTemplate(tmpl)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(s.warmup())
	{
		risk := api.Group("/risk")
		risk.GET("/jurisdictions", s.listJurisdictions)
		risk.POST("/watchlists", s.createWatchlist)
		risk.POST("/regulations", s.createRegulation)
		risk.GET("/regulations/:id", s.getRegulation)
		risk.PUT("/regulations/:id", s.updateRegulation)
		risk.GET("/regulations/:id/versions", s.listVersions)
		risk.GET("/feed", s.listFeed)
		risk.POST("/assessments", s.createAssessment)
		risk.POST("/issues", s.createIssue)

		gis := api.Group("/gis")
		gis.GET("/layers", s.listLayers)
		gis.GET("/layers/:id/features", s.listFeatures)

		cc := api.Group("/control-center")
		cc.GET("/overview", s.overview)
		cc.GET("/assets", s.listAssets)
		cc.GET("/assets/:id/telemetry", s.telemetry)
		cc.GET("/alerts", s.listAlerts)
		cc.POST("/workflows/drafts", s.apiDraftWorkflow)
		cc.GET("/workflows/:id", s.apiGetWorkflow)
		cc.POST("/workflows/:id/simulate", s.apiSimulateWorkflow)
		cc.POST("/workflows/:id/commit", s.apiCommitWorkflow)
		cc.GET("/audit", s.listAudit)
	}

	r.POST("/gate", s.submitGate)
	pages := r.Group("/")
	pages.Use(s.gate())
	{
		pages.GET("/", s.homePage)
		pages.GET("/modules/gis", s.gisPage)
		pages.GET("/modules/risk", s.riskPage)
		pages.GET("/modules/control-center", s.dashboardPage)
		pages.GET("/modules/control-center/assets", s.assetsPage)
		pages.GET("/modules/control-center/assets/:id", s.assetPage)
		pages.GET("/modules/control-center/alerts", s.alertsPage)
		pages.POST("/modules/control-center/workflows", s.pageDraftWorkflow)
		pages.GET("/modules/control-center/workflows/:id", s.workflowPage)
		pages.POST("/modules/control-center/workflows/:id/simulate", s.pageSimulateWorkflow)
		pages.POST("/modules/control-center/workflows/:id/commit", s.pageCommitWorkflow)
		pages.GET("/modules/control-center/audit", s.auditPage)
	}
	return r
}

// logging reports every request to the server's logger.
func (s *Server) logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		s.logger.Debug("request processed",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}

// warmup answers 503 until WarmupRequests API calls have been made.
func (s *Server) warmup() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.apiCalls++
		cold := s.apiCalls <= s.opts.WarmupRequests
		s.mu.Unlock()
		if cold {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "warming up"})
			return
		}
		c.Next()
	}
}

// gate renders the access-key challenge until the cookie holds the key.
func (s *Server) gate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.AccessKey == "" {
			c.Next()
			return
		}
		if v, err := c.Cookie(accessCookie); err == nil && v == s.opts.AccessKey {
			c.Next()
			return
		}
		c.HTML(http.StatusOK, "gate.html", gin.H{"Next": c.Request.URL.RequestURI()})
		c.Abort()
	}
}

func (s *Server) submitGate(c *gin.Context) {
	next := c.PostForm("next")
	if next == "" || !strings.HasPrefix(next, "/") {
		next = "/"
	}
	if c.PostForm("key") != s.opts.AccessKey {
		c.HTML(http.StatusUnauthorized, "gate.html", gin.H{"Next": next, "Error": "Invalid access key"})
		return
	}
	c.SetCookie(accessCookie, s.opts.AccessKey, 0, "/", "", false, true)
	c.Redirect(http.StatusSeeOther, next)
}

// nextID mints sequential identifiers per kind, e.g. reg-1, wf-2.
func (s *Server) nextID(kind string) string {
	s.seq[kind]++
	return fmt.Sprintf("%s-%d", kind, s.seq[kind])
}

func badRequest(c *gin.Context, format string, args ...any) {
	c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(format, args...)})
}

func notFound(c *gin.Context, what, id string) {
	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s %s not found", what, id)})
}
