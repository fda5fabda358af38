package sutfake

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Layer is a map layer.
type Layer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Geometry string `json:"geometry"`
}

// Feature is a GeoJSON feature.
type Feature struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	Geometry   map[string]any `json:"geometry"`
}

func (s *Server) listLayers(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"data": s.layers})
}

func (s *Server) listFeatures(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.features[c.Param("id")]
	if !ok {
		notFound(c, "layer", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": fs})
}

func polygon(ring ...[2]float64) map[string]any {
	coords := make([][]float64, 0, len(ring)+1)
	for _, p := range ring {
		coords = append(coords, []float64{p[0], p[1]})
	}
	coords = append(coords, []float64{ring[0][0], ring[0][1]})
	return map[string]any{"type": "Polygon", "coordinates": [][][]float64{coords}}
}

func point(lon, lat float64) map[string]any {
	return map[string]any{"type": "Point", "coordinates": []float64{lon, lat}}
}
