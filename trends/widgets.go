// CLAUDE:SUMMARY Widget manifest types, explore/widget fetch operations, and parsers for timeline, related-query, and geo payloads.
package trends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// Widget IDs handed out by the explore endpoint.
const (
	WidgetTimeseries     = "TIMESERIES"
	WidgetGeoMap         = "GEO_MAP"
	WidgetRelatedTopics  = "RELATED_TOPICS"
	WidgetRelatedQueries = "RELATED_QUERIES"
)

// widgetEndpoints maps widget IDs to their data endpoints. Widgets outside
// this map cannot be fetched and degrade to empty results.
var widgetEndpoints = map[string]string{
	WidgetTimeseries:     "/trends/api/widgetdata/multiline",
	WidgetGeoMap:         "/trends/api/widgetdata/comparedgeo",
	WidgetRelatedTopics:  "/trends/api/widgetdata/relatedsearches",
	WidgetRelatedQueries: "/trends/api/widgetdata/relatedsearches",
}

// ExploreRequest describes one explore call.
type ExploreRequest struct {
	Keywords []string
	Geo      string
	// Time is the window expression, e.g. "now 7-d". Default: "today 12-m".
	Time     string
	Category int
	Property string
}

// Widget is one entry of the explore manifest. Request is kept raw and
// echoed verbatim on the widget fetch; the upstream rejects re-encoded
// variants of its own payload.
type Widget struct {
	ID      string          `json:"id"`
	Token   string          `json:"token"`
	Title   string          `json:"title"`
	Type    string          `json:"type"`
	Request json.RawMessage `json:"request"`
}

// WidgetManifest is the token set for one explore call. Tokens are
// single-use per widget fetch session and expire server-side.
type WidgetManifest struct {
	Widgets []Widget
}

// Find returns the widget with the given ID, or nil.
func (m *WidgetManifest) Find(id string) *Widget {
	if m == nil {
		return nil
	}
	for i := range m.Widgets {
		if m.Widgets[i].ID == id {
			return &m.Widgets[i]
		}
	}
	return nil
}

// TimelinePoint is one interest-over-time sample.
type TimelinePoint struct {
	Time          string `json:"time"`
	FormattedTime string `json:"formattedTime"`
	Value         []int  `json:"value"`
}

// RankedQuery is one related-query entry with its relative interest value.
type RankedQuery struct {
	Query string `json:"query"`
	Value int    `json:"value"`
}

// RelatedQueriesResult splits related queries the way the upstream does:
// Top by absolute interest, Rising by growth.
type RelatedQueriesResult struct {
	Top    []RankedQuery
	Rising []RankedQuery
}

// RegionInterest is one geographic interest sample.
type RegionInterest struct {
	GeoCode string `json:"geoCode"`
	GeoName string `json:"geoName"`
	Value   []int  `json:"value"`
}

// Explore exchanges keywords for a widget manifest. Degraded upstream
// states (throttle, cooldown, malformed body) yield an empty manifest and
// a nil error; only an unready session or a dead context produce errors.
func (c *Client) Explore(ctx context.Context, req ExploreRequest) (*WidgetManifest, error) {
	if len(req.Keywords) == 0 {
		return nil, errors.New("trends: explore requires at least one keyword")
	}
	if req.Time == "" {
		req.Time = "today 12-m"
	}

	type comparisonItem struct {
		Keyword string `json:"keyword"`
		Geo     string `json:"geo"`
		Time    string `json:"time"`
	}
	items := make([]comparisonItem, 0, len(req.Keywords))
	for _, kw := range req.Keywords {
		items = append(items, comparisonItem{Keyword: kw, Geo: req.Geo, Time: req.Time})
	}
	payload, err := json.Marshal(struct {
		ComparisonItem []comparisonItem `json:"comparisonItem"`
		Category       int              `json:"category"`
		Property       string           `json:"property"`
	}{items, req.Category, req.Property})
	if err != nil {
		return nil, fmt.Errorf("trends: encode explore request: %w", err)
	}

	params := c.baseParams()
	params.Set("req", string(payload))

	body, err := c.apiGet(ctx, "trends_explore", "/trends/api/explore", params)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return &WidgetManifest{}, nil
	}

	manifest, err := parseManifest(body, c.cfg.TrimExplore)
	if err != nil {
		c.logger.Warn("explore response unusable", "error", err)
		return &WidgetManifest{}, nil
	}
	return manifest, nil
}

func parseManifest(body []byte, trim int) (*WidgetManifest, error) {
	data, err := trimmed(body, trim)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Widgets []Widget `json:"widgets"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &WidgetManifest{Widgets: envelope.Widgets}, nil
}

// FetchWidget fetches the named widget's data using the manifest token and
// returns the trimmed JSON body. A missing widget, an unfetchable widget
// type or a degraded upstream all return nil with a nil error.
func (c *Client) FetchWidget(ctx context.Context, manifest *WidgetManifest, widgetID string) (json.RawMessage, error) {
	w := manifest.Find(widgetID)
	if w == nil {
		c.logger.Debug("widget absent from manifest", "widget", widgetID)
		return nil, nil
	}
	endpoint, ok := widgetEndpoints[widgetID]
	if !ok {
		c.logger.Debug("widget has no data endpoint", "widget", widgetID)
		return nil, nil
	}

	params := c.baseParams()
	params.Set("req", string(w.Request))
	params.Set("token", w.Token)

	body, err := c.apiGet(ctx, "trends_widget", endpoint, params)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	data, err := trimmed(body, c.cfg.TrimWidget)
	if err != nil {
		c.logger.Warn("widget response unusable", "widget", widgetID, "error", err)
		return nil, nil
	}
	var envelope struct {
		Default json.RawMessage `json:"default"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Default) == 0 {
		c.logger.Warn("widget envelope missing default payload", "widget", widgetID)
		return nil, nil
	}
	return json.RawMessage(data), nil
}

// Autocomplete returns topic suggestions for a partial keyword. Degraded
// or malformed responses return an empty list.
func (c *Client) Autocomplete(ctx context.Context, keyword string) ([]string, error) {
	body, err := c.apiGet(ctx, "trends_autocomplete",
		"/trends/api/autocomplete/"+url.PathEscape(keyword), c.baseParams())
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	data, err := trimmed(body, c.cfg.TrimWidget)
	if err != nil {
		c.logger.Warn("autocomplete response unusable", "keyword", keyword, "error", err)
		return nil, nil
	}
	var envelope struct {
		Default struct {
			Topics []struct {
				Title string `json:"title"`
				Type  string `json:"type"`
			} `json:"topics"`
		} `json:"default"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logger.Warn("autocomplete envelope unusable", "keyword", keyword, "error", err)
		return nil, nil
	}
	titles := make([]string, 0, len(envelope.Default.Topics))
	for _, t := range envelope.Default.Topics {
		if t.Title != "" {
			titles = append(titles, t.Title)
		}
	}
	return titles, nil
}

// ParseTimeline extracts interest-over-time samples from a TIMESERIES
// widget body.
func ParseTimeline(data json.RawMessage) ([]TimelinePoint, error) {
	var envelope struct {
		Default struct {
			TimelineData []TimelinePoint `json:"timelineData"`
		} `json:"default"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: timeline: %v", ErrMalformedResponse, err)
	}
	return envelope.Default.TimelineData, nil
}

// ParseRelatedQueries extracts the top and rising lists from a
// RELATED_QUERIES widget body. The upstream emits top as rankedList[0]
// and rising as rankedList[1]; either may be absent.
func ParseRelatedQueries(data json.RawMessage) (RelatedQueriesResult, error) {
	var envelope struct {
		Default struct {
			RankedList []struct {
				RankedKeyword []RankedQuery `json:"rankedKeyword"`
			} `json:"rankedList"`
		} `json:"default"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return RelatedQueriesResult{}, fmt.Errorf("%w: related queries: %v", ErrMalformedResponse, err)
	}
	var out RelatedQueriesResult
	if len(envelope.Default.RankedList) > 0 {
		out.Top = envelope.Default.RankedList[0].RankedKeyword
	}
	if len(envelope.Default.RankedList) > 1 {
		out.Rising = envelope.Default.RankedList[1].RankedKeyword
	}
	return out, nil
}

// ParseGeoMap extracts regional interest from a GEO_MAP widget body.
func ParseGeoMap(data json.RawMessage) ([]RegionInterest, error) {
	var envelope struct {
		Default struct {
			GeoMapData []RegionInterest `json:"geoMapData"`
		} `json:"default"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: geo map: %v", ErrMalformedResponse, err)
	}
	return envelope.Default.GeoMapData, nil
}

// InterestOverTime runs explore plus the TIMESERIES widget fetch and
// returns the timeline, or an empty one when the upstream degrades.
func (c *Client) InterestOverTime(ctx context.Context, req ExploreRequest) ([]TimelinePoint, error) {
	data, err := c.fetchNamed(ctx, req, WidgetTimeseries)
	if err != nil || data == nil {
		return nil, err
	}
	pts, err := ParseTimeline(data)
	if err != nil {
		c.logger.Warn("timeline parse failed", "error", err)
		return nil, nil
	}
	return pts, nil
}

// RelatedQueries runs explore plus the RELATED_QUERIES widget fetch.
func (c *Client) RelatedQueries(ctx context.Context, req ExploreRequest) (RelatedQueriesResult, error) {
	data, err := c.fetchNamed(ctx, req, WidgetRelatedQueries)
	if err != nil || data == nil {
		return RelatedQueriesResult{}, err
	}
	res, err := ParseRelatedQueries(data)
	if err != nil {
		c.logger.Warn("related queries parse failed", "error", err)
		return RelatedQueriesResult{}, nil
	}
	return res, nil
}

// InterestByRegion runs explore plus the GEO_MAP widget fetch.
func (c *Client) InterestByRegion(ctx context.Context, req ExploreRequest) ([]RegionInterest, error) {
	data, err := c.fetchNamed(ctx, req, WidgetGeoMap)
	if err != nil || data == nil {
		return nil, err
	}
	regions, err := ParseGeoMap(data)
	if err != nil {
		c.logger.Warn("geo map parse failed", "error", err)
		return nil, nil
	}
	return regions, nil
}

func (c *Client) fetchNamed(ctx context.Context, req ExploreRequest, widgetID string) (json.RawMessage, error) {
	manifest, err := c.Explore(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.FetchWidget(ctx, manifest, widgetID)
}
