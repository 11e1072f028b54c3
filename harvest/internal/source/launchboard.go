package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yangqingmang/find-demand-sub000/dispatch"
	"github.com/yangqingmang/find-demand-sub000/distill"
)

const launchQuery = `query($search: String!, $first: Int!) {
  posts(search: $search, first: $first, order: VOTES) {
    edges {
      node {
        name
        tagline
        description
        votesCount
        commentsCount
        url
        topics { edges { node { name } } }
      }
    }
  }
}`

// LaunchBoard queries a product-launch site's GraphQL API for posts
// matching the seed, ranked by votes. Without an API token the adapter
// schedules no calls.
type LaunchBoard struct {
	deps     Deps
	base     string
	token    string
	pageSize int
	ttl      time.Duration
	useProxy bool
}

func NewLaunchBoard(d Deps, cfg Config) *LaunchBoard {
	d.defaults()
	cfg.defaults()
	return &LaunchBoard{
		deps:     d,
		base:     cfg.LaunchBaseURL,
		token:    cfg.LaunchToken,
		pageSize: cfg.LaunchPageSize,
		ttl:      cfg.CacheTTL,
		useProxy: cfg.UseProxy,
	}
}

func (l *LaunchBoard) Name() string { return "launchboard" }

func (l *LaunchBoard) Targets(seeds []string) []string {
	if l.token == "" {
		return nil
	}
	return seeds
}

type launchSearch struct {
	Data struct {
		Posts struct {
			Edges []struct {
				Node struct {
					Name          string  `json:"name"`
					Tagline       string  `json:"tagline"`
					Description   string  `json:"description"`
					VotesCount    float64 `json:"votesCount"`
					CommentsCount int     `json:"commentsCount"`
					URL           string  `json:"url"`
					Topics        struct {
						Edges []struct {
							Node struct {
								Name string `json:"name"`
							} `json:"node"`
						} `json:"edges"`
					} `json:"topics"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"posts"`
	} `json:"data"`
}

func (l *LaunchBoard) Fetch(ctx context.Context, seed string) ([]distill.Record, error) {
	if l.token == "" {
		return nil, nil
	}

	payload, err := json.Marshal(map[string]any{
		"query": launchQuery,
		"variables": map[string]any{
			"search": seed,
			"first":  l.pageSize,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("source: encode launch query: %w", err)
	}

	body, err := l.deps.fetch(ctx, "launchboard", dispatch.Request{
		Method: http.MethodPost,
		URL:    l.base,
		Headers: map[string]string{
			"Authorization": "Bearer " + l.token,
			"Content-Type":  "application/json",
		},
		Body:     payload,
		UseProxy: l.useProxy,
	}, l.ttl)
	if err != nil || body == nil {
		return nil, err
	}

	var search launchSearch
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, fmt.Errorf("source: parse launch posts for %q: %w", seed, err)
	}

	var records []distill.Record
	for _, edge := range search.Data.Posts.Edges {
		node := edge.Node
		parts := []string{node.Name, node.Tagline, node.Description}
		for _, t := range node.Topics.Edges {
			parts = append(parts, t.Node.Name)
		}
		combined := strings.Join(parts, " ")
		for _, kw := range extractPhrases(combined) {
			records = append(records, distill.Record{
				Keyword:  kw,
				Source:   "producthunt",
				Title:    node.Name,
				Score:    node.VotesCount,
				Comments: node.CommentsCount,
				URL:      node.URL,
				Platform: "producthunt",
			})
		}
	}
	return records, nil
}
