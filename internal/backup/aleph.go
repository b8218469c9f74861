package backup

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// Client is an aggregate Transport over the Aleph-style HTTP message API.
// Reads hit the public aggregate endpoint; writes post an AGGREGATE
// message signed with the client's key (EIP-191 personal-message signing).
type Client struct {
	baseURL string
	channel string
	key     *ecdsa.PrivateKey
	sender  string
	http    *http.Client
}

// NewClient builds a transport authenticated as key against the API at
// baseURL. Messages are published on the given channel.
func NewClient(baseURL, channel string, key *ecdsa.PrivateKey, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		channel: channel,
		key:     key,
		sender:  crypto.PubkeyToAddress(key.PublicKey).Hex(),
		http:    httpClient,
	}
}

// NewDialer returns the dial function Open expects, minting one Client per
// delegate key.
func NewDialer(baseURL, channel string, httpClient *http.Client) func(*DelegateKey) (Transport, error) {
	return func(dk *DelegateKey) (Transport, error) {
		return NewClient(baseURL, channel, dk.Key, httpClient), nil
	}
}

type aggregateItem struct {
	Key     string  `json:"key"`
	Address string  `json:"address"`
	Content any     `json:"content"`
	Time    float64 `json:"time"`
}

type aggregateMessage struct {
	Chain       string  `json:"chain"`
	Sender      string  `json:"sender"`
	Type        string  `json:"type"`
	Channel     string  `json:"channel"`
	Time        float64 `json:"time"`
	ItemType    string  `json:"item_type"`
	ItemContent string  `json:"item_content"`
	ItemHash    string  `json:"item_hash"`
	Signature   string  `json:"signature"`
}

// CreateAggregate publishes content under key in the namespace of address
// and returns the item hash of the published message.
func (c *Client) CreateAggregate(ctx context.Context, key string, content any, address string) (string, error) {
	now := float64(time.Now().UnixMilli()) / 1000

	item := aggregateItem{Key: key, Address: address, Content: content, Time: now}
	itemContent, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("backup: encode aggregate content: %w", err)
	}
	sum := sha256.Sum256(itemContent)
	itemHash := hex.EncodeToString(sum[:])

	// The signature covers chain, sender, type and item hash, signed as an
	// Ethereum personal message.
	verification := fmt.Sprintf("ETH\n%s\nAGGREGATE\n%s", c.sender, itemHash)
	sig, err := crypto.Sign(accounts.TextHash([]byte(verification)), c.key)
	if err != nil {
		return "", fmt.Errorf("backup: sign aggregate message: %w", err)
	}
	// Shift v into the 27/28 convention used on the wire.
	sig[crypto.RecoveryIDOffset] += 27

	msg := aggregateMessage{
		Chain:       "ETH",
		Sender:      c.sender,
		Type:        "AGGREGATE",
		Channel:     c.channel,
		Time:        now,
		ItemType:    "inline",
		ItemContent: string(itemContent),
		ItemHash:    itemHash,
		Signature:   hex.EncodeToString(sig),
	}

	body, err := json.Marshal(map[string]any{"message": msg, "sync": true})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v0/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("backup: post aggregate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("backup: post aggregate: unexpected status %s", resp.Status)
	}
	return itemHash, nil
}

// FetchAggregate reads the aggregate stored under key in the namespace of
// address into out.
func (c *Client) FetchAggregate(ctx context.Context, address, key string, out any) error {
	u := fmt.Sprintf("%s/api/v0/aggregates/%s.json?keys=%s",
		c.baseURL, url.PathEscape(address), url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backup: fetch aggregate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrAggregateNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backup: fetch aggregate: unexpected status %s", resp.Status)
	}

	var payload struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("backup: decode aggregate response: %w", err)
	}
	raw, ok := payload.Data[key]
	if !ok {
		return ErrAggregateNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("backup: decode aggregate %q: %w", key, err)
	}
	return nil
}
