package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/balance"
)

// DefaultTimeout is the total timeout applied to ordinary HTTP calls (§5).
const DefaultTimeout = 30 * time.Second

// SessionOpenTimeout and SessionCloseTimeout override DefaultTimeout for the
// session-open and session-close calls specifically, per §5.
const (
	SessionOpenTimeout  = 4 * time.Second
	SessionCloseTimeout = 1 * time.Second
)

func itoa(i int) string { return strconv.Itoa(i) }

func parseAddr(s string) (address.Address, error) { return address.New(s) }

// Client is a bearer-authenticated HTTP client to one relay node's REST
// API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	log        *logrus.Entry
}

// New creates a Client against baseURL (e.g. "http://localhost:3001"),
// authorizing every request with token.
func New(baseURL, token string, log *logrus.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    baseURL,
		token:      token,
		log:        log.WithField("component", "restapi"),
	}
}

func (c *Client) do(ctx context.Context, method, path string, timeout time.Duration, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("restapi: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("restapi: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-Id", reqID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		c.log.WithFields(logrus.Fields{"path": path, "status": resp.StatusCode, "request_id": reqID}).
			Warn("non-2xx response from node API")
		return fmt.Errorf("%w: %s returned %d: %s", ErrProtocol, path, resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrProtocol, path, err)
	}
	return nil
}

// Address fetches the node's own native address.
func (c *Client) Address(ctx context.Context) (address.Address, error) {
	var out Addresses
	if err := c.do(ctx, http.MethodGet, "/account/addresses", DefaultTimeout, nil, &out); err != nil {
		return address.Zero, err
	}
	return parseAddr(out.Native)
}

// Balances fetches the node's hopr/native/safe balances.
func (c *Client) Balances(ctx context.Context) (Balances, error) {
	var wire balancesWire
	if err := c.do(ctx, http.MethodGet, "/account/balances", DefaultTimeout, nil, &wire); err != nil {
		return Balances{}, err
	}
	hopr, err := balance.Parse(wire.Hopr)
	if err != nil {
		return Balances{}, err
	}
	native, err := balance.Parse(wire.Native)
	if err != nil {
		return Balances{}, err
	}
	safeHopr, err := balance.Parse(wire.SafeHopr)
	if err != nil {
		return Balances{}, err
	}
	safeNative, err := balance.Parse(wire.SafeNative)
	if err != nil {
		return Balances{}, err
	}
	return Balances{Hopr: hopr, Native: native, SafeHopr: safeHopr, SafeNative: safeNative}, nil
}

type openChannelRequest struct {
	Amount      string `json:"amount"`
	Destination string `json:"destination"`
}

type openedChannelResponse struct {
	ChannelID string `json:"channelId"`
	Receipt   string `json:"transactionReceipt"`
}

// OpenChannel opens a payment channel to destination funded with amount.
func (c *Client) OpenChannel(ctx context.Context, destination address.Address, amount balance.Balance) (string, error) {
	var out openedChannelResponse
	err := c.do(ctx, http.MethodPost, "/channels", DefaultTimeout,
		openChannelRequest{Amount: amount.Amount().String(), Destination: destination.String()}, &out)
	return out.ChannelID, err
}

type fundChannelRequest struct {
	Amount string `json:"amount"`
}

// FundChannel adds amount to an existing channel.
func (c *Client) FundChannel(ctx context.Context, channelID string, amount balance.Balance) error {
	return c.do(ctx, http.MethodPost, "/channels/"+channelID+"/fund", DefaultTimeout,
		fundChannelRequest{Amount: amount.Amount().String()}, nil)
}

// CloseChannel closes the given channel.
func (c *Client) CloseChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID, DefaultTimeout, nil, nil)
}

// Channels fetches the full channel topology.
func (c *Client) Channels(ctx context.Context) (Channels, error) {
	var out Channels
	err := c.do(ctx, http.MethodGet, "/channels?fullTopology=true&includingClosed=false", DefaultTimeout, nil, &out)
	return out, err
}

// Peers fetches peers with quality at or above the given threshold and the
// given status (default "connected").
func (c *Client) Peers(ctx context.Context, quality float64, status string) ([]ConnectedPeer, error) {
	var raw map[string][]ConnectedPeer
	path := fmt.Sprintf("/node/peers?quality=%v", quality)
	if err := c.do(ctx, http.MethodGet, path, DefaultTimeout, nil, &raw); err != nil {
		return nil, err
	}
	return raw[status], nil
}

// TicketPrice fetches the configured ticket price.
func (c *Client) TicketPrice(ctx context.Context) (TicketPrice, error) {
	var cfg struct {
		Price string `json:"hopr/protocol/outgoing_ticket_price"`
	}
	if err := c.do(ctx, http.MethodGet, "/node/configuration", DefaultTimeout, nil, &cfg); err == nil && cfg.Price != "" {
		if b, perr := balance.Parse(cfg.Price); perr == nil {
			return TicketPrice{Value: b}, nil
		}
	}
	var alt struct {
		Price string `json:"price"`
	}
	if err := c.do(ctx, http.MethodGet, "/network/price", DefaultTimeout, nil, &alt); err != nil {
		return TicketPrice{}, err
	}
	b, err := balance.Parse(alt.Price)
	return TicketPrice{Value: b}, err
}

// Healthyz reports whether the node's health endpoint returns 200.
func (c *Client) Healthyz(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/healthyz", DefaultTimeout, nil, nil)
	return err == nil
}

// ListUDPSessions lists currently open UDP session listeners.
func (c *Client) ListUDPSessions(ctx context.Context) ([]Session, error) {
	var out []Session
	err := c.do(ctx, http.MethodGet, "/session/udp", DefaultTimeout, nil, &out)
	return out, err
}

type createSessionRequest struct {
	Capabilities   []string `json:"capabilities"`
	Destination    string   `json:"destination"`
	Target         any      `json:"target"`
	ListenHost     string   `json:"listenHost"`
	ForwardPath    any      `json:"forwardPath"`
	ReturnPath     any      `json:"returnPath"`
	ResponseBuffer string   `json:"responseBuffer"`
}

// OpenUDPSession requests a new UDP session to destination routed through
// relayer. listenHost defaults to ":0" (any local port).
func (c *Client) OpenUDPSession(ctx context.Context, destination, relayer, listenHost string) (Session, error) {
	if listenHost == "" {
		listenHost = ":0"
	}
	path := map[string]any{"Service": 0}
	intermediatePath := map[string]any{"IntermediatePath": []string{relayer}}
	req := createSessionRequest{
		Capabilities:   []string{"NoDelay", "NoRateControl"},
		Destination:    destination,
		Target:         path,
		ListenHost:     listenHost,
		ForwardPath:    intermediatePath,
		ReturnPath:     intermediatePath,
		ResponseBuffer: "0 KB",
	}
	var out Session
	err := c.do(ctx, http.MethodPost, "/session/udp", SessionOpenTimeout, req, &out)
	return out, err
}

// CloseSession closes an existing UDP session listener.
func (c *Client) CloseSession(ctx context.Context, s Session) error {
	return c.do(ctx, http.MethodDelete, s.Path(), SessionCloseTimeout, nil, nil)
}
