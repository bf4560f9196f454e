// Package subgraph is the consumed GraphQL client for on-chain indices
// (§6.2): mode rotation between a gateway and a studio-hosted fallback
// endpoint, and paginated (first, skip) queries.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Mode selects between the default gateway endpoint, a backup studio
// endpoint, or no working endpoint at all (§6.2).
type Mode int

const (
	ModeDefault Mode = iota
	ModeBackup
	ModeNone
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeBackup:
		return "backup"
	default:
		return "None"
	}
}

// EndpointParams names one subgraph deployment: its query id on the
// gateway and its slug/version on the studio fallback (§6.4
// "subgraph.safes_balance:{query_id, slug, inputs}").
type EndpointParams struct {
	QueryID string
	Slug    string
	Version string // defaults to "version/latest" if empty
}

// URL builds the Default and Backup endpoint URLs for one subgraph
// deployment (§6.2).
type URL struct {
	UserID      string
	DeployerKey string
	Params      EndpointParams
}

func (u URL) version() string {
	if u.Params.Version == "" {
		return "version/latest"
	}
	return u.Params.Version
}

// Resolve returns the endpoint URL for mode, or "" for ModeNone.
func (u URL) Resolve(mode Mode) string {
	switch mode {
	case ModeDefault:
		return fmt.Sprintf("https://gateway-arbitrum.network.thegraph.com/api/%s/subgraphs/id/%s", u.DeployerKey, u.Params.QueryID)
	case ModeBackup:
		return fmt.Sprintf("https://api.studio.thegraph.com/query/%s/%s/%s", u.UserID, u.Params.Slug, u.version())
	default:
		return ""
	}
}

var (
	gaugeCalls = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_subgraph_calls",
		Help: "# of subgraph calls",
	}, []string{"slug", "mode"})
	gaugeInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_subgraph_in_use",
		Help: "Subgraph in use",
	}, []string{"slug"})
)

func init() {
	prometheus.MustRegister(gaugeCalls, gaugeInUse)
}

const pageSize = 1000

// Provider executes one subgraph's paginated query against whichever
// endpoint mode is currently selected, rotating between them via Rotate
// (§6.2 "A per-endpoint mode ... selects the working mode on rotation").
type Provider struct {
	url        URL
	query      string
	defaultKey string
	mode       Mode
	httpClient *http.Client
	log        *logrus.Entry

	// testURL overrides endpoint resolution in tests, bypassing the real
	// thegraph.com hosts. Empty in production.
	testURL string
}

// New creates a Provider for one subgraph deployment. query is the full
// GraphQL document (including the `($first: Int!, $skip: Int!, ...)`
// header); defaultKey names the top-level `data.<key>` array field.
func New(url URL, query, defaultKey string, log *logrus.Logger) *Provider {
	return &Provider{
		url:        url,
		query:      query,
		defaultKey: defaultKey,
		mode:       ModeDefault,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.WithField("component", "subgraph"),
	}
}

// Mode returns the provider's currently selected endpoint mode.
func (p *Provider) Mode() Mode { return p.mode }

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (p *Provider) execute(ctx context.Context, endpoint string, variables map[string]any) (graphqlResponse, error) {
	var out graphqlResponse
	body, err := json.Marshal(graphqlRequest{Query: p.query, Variables: variables})
	if err != nil {
		return out, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	gaugeCalls.WithLabelValues(p.url.Params.Slug, p.mode.String()).Inc()

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("subgraph: request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("subgraph: decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		p.log.WithField("errors", out.Errors).Warn("internal error from subgraph")
	}
	return out, nil
}

// Rotate probes each mode in turn with a (first:1, skip:0) query and
// selects the first one whose response contains the default key (§6.2
// "rotation probes each mode ... and selects the first that returns
// data.<key>").
func (p *Provider) Rotate(ctx context.Context, extraVars map[string]any) Mode {
	for _, mode := range []Mode{ModeDefault, ModeBackup} {
		endpoint := p.resolve(mode)
		if endpoint == "" {
			continue
		}
		vars := map[string]any{"first": 1, "skip": 0}
		for k, v := range extraVars {
			vars[k] = v
		}
		resp, err := p.execute(ctx, endpoint, vars)
		if err != nil {
			continue
		}
		if _, ok := resp.Data[p.defaultKey]; ok {
			p.mode = mode
			gaugeInUse.WithLabelValues(p.url.Params.Slug).Set(float64(modeToInt(mode)))
			return mode
		}
	}
	p.mode = ModeNone
	p.log.WithField("slug", p.url.Params.Slug).Warn("no subgraph available")
	gaugeInUse.WithLabelValues(p.url.Params.Slug).Set(-1)
	return ModeNone
}

// resolve returns the effective endpoint for mode, honoring testURL when set.
func (p *Provider) resolve(mode Mode) string {
	if p.testURL != "" {
		if mode == ModeNone {
			return ""
		}
		return p.testURL
	}
	return p.url.Resolve(mode)
}

func modeToInt(m Mode) int {
	switch m {
	case ModeDefault:
		return 0
	case ModeBackup:
		return 1
	default:
		return -1
	}
}

// Get fetches and accumulates every page of the provider's default-key
// array, paginating with (first:1000, skip) until a short page is
// returned (§6.2 "paginate with (first: 1000, skip)").
func (p *Provider) Get(ctx context.Context, extraVars map[string]any) ([]json.RawMessage, error) {
	endpoint := p.resolve(p.mode)
	if endpoint == "" {
		return nil, nil
	}

	var out []json.RawMessage
	skip := 0
	for {
		vars := map[string]any{"first": pageSize, "skip": skip}
		for k, v := range extraVars {
			vars[k] = v
		}

		resp, err := p.execute(ctx, endpoint, vars)
		if err != nil {
			return out, err
		}

		raw, ok := resp.Data[p.defaultKey]
		if !ok {
			break
		}
		var page []json.RawMessage
		if err := json.Unmarshal(raw, &page); err != nil {
			return out, fmt.Errorf("subgraph: decode page: %w", err)
		}
		out = append(out, page...)

		skip += pageSize
		if len(page) < pageSize {
			break
		}
	}
	return out, nil
}
