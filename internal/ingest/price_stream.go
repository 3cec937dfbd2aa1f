package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const streamPriceSource = "pyth"

// StreamTarget binds a price-feed id to the token mint its ticks are stored
// under. Configured as "token:feed_id" pairs.
type StreamTarget struct {
	TokenID string
	FeedID  string
}

func ParseStreamTargets(raw []string) ([]StreamTarget, error) {
	out := make([]StreamTarget, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		pair := strings.Split(entry, ":")
		if len(pair) != 2 {
			return nil, fmt.Errorf("invalid price stream target %q, expected token:feed_id", entry)
		}
		tokenID := strings.TrimSpace(pair[0])
		feedID := strings.ToLower(strings.TrimSpace(pair[1]))
		if tokenID == "" || feedID == "" {
			return nil, fmt.Errorf("invalid price stream target %q, token and feed id are required", entry)
		}
		if _, ok := seen[feedID]; ok {
			continue
		}
		seen[feedID] = struct{}{}
		out = append(out, StreamTarget{TokenID: tokenID, FeedID: feedID})
	}
	return out, nil
}

type streamEnvelope struct {
	Parsed []streamPriceUpdate `json:"parsed"`
}

type streamPriceUpdate struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Expo        int32  `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

func (s *Service) runPriceStream(ctx context.Context) {
	if !s.cfg.EnablePriceStream {
		return
	}

	endpoint := strings.TrimSpace(s.cfg.PriceStreamURL)
	targets, err := ParseStreamTargets(s.cfg.PriceStreamTokens)
	if err != nil {
		s.logger.Error("price stream disabled", "err", err)
		return
	}
	if endpoint == "" || len(targets) == 0 {
		s.logger.Warn("price stream disabled due to missing endpoint or targets")
		return
	}

	tokenByFeed := make(map[string]string, len(targets))
	for _, target := range targets {
		tokenByFeed[target.FeedID] = target.TokenID
	}

	reconnectDelay := s.cfg.PriceStreamReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}

	client := &http.Client{}
	s.logger.Info(
		"price stream enabled",
		"endpoint", endpoint,
		"feeds", len(targets),
		"reconnect_delay", reconnectDelay.String(),
	)

	for {
		if err := ctx.Err(); err != nil {
			return
		}

		err := s.consumePriceStream(ctx, client, endpoint, tokenByFeed)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("price stream disconnected", "err", err, "retry_in", reconnectDelay.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Service) consumePriceStream(
	ctx context.Context,
	client *http.Client,
	endpoint string,
	tokenByFeed map[string]string,
) error {
	streamURL, err := buildPriceStreamURL(endpoint, tokenByFeed)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("build price stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("open price stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("open price stream: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024), 64*1024*1024)

	var eventData strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			if eventData.Len() == 0 {
				continue
			}
			if err := s.processStreamEvent(ctx, eventData.String(), tokenByFeed); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("failed to process price stream event", "err", err)
			}
			eventData.Reset()
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if eventData.Len() > 0 {
			eventData.WriteByte('\n')
		}
		eventData.WriteString(payload)
	}

	if eventData.Len() > 0 {
		if err := s.processStreamEvent(ctx, eventData.String(), tokenByFeed); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("failed to process final price stream event", "err", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read price stream: %w", err)
	}

	return io.EOF
}

func (s *Service) processStreamEvent(ctx context.Context, rawEvent string, tokenByFeed map[string]string) error {
	payload := strings.TrimSpace(rawEvent)
	if payload == "" || payload == "[DONE]" {
		return nil
	}

	var event streamEnvelope
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return fmt.Errorf("decode price stream event: %w", err)
	}
	if len(event.Parsed) == 0 {
		return nil
	}

	now := time.Now().Unix()
	for _, update := range event.Parsed {
		feedID := strings.ToLower(strings.TrimSpace(update.ID))
		tokenID, ok := tokenByFeed[feedID]
		if !ok {
			continue
		}

		price, err := decodeScaledPrice(update.Price.Price, update.Price.Expo)
		if err != nil || price <= 0 {
			continue
		}

		publishTime := update.Price.PublishTime
		if publishTime <= 0 {
			publishTime = now
		}

		rawUpdate, err := json.Marshal(update)
		if err != nil {
			rawUpdate = []byte("{}")
		}

		if _, err := s.store.InsertTokenPriceTick(ctx, TokenPriceTickInput{
			TokenID:     tokenID,
			Source:      streamPriceSource,
			Price:       price,
			PublishTime: publishTime,
			ReceivedAt:  now,
			RawJSON:     string(rawUpdate),
		}); err != nil {
			return fmt.Errorf("store price tick: %w", err)
		}
	}

	return nil
}

func buildPriceStreamURL(endpoint string, tokenByFeed map[string]string) (string, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("parse price stream endpoint: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid price stream endpoint: %q", endpoint)
	}

	query := parsedURL.Query()
	query.Del("ids[]")
	for feedID := range tokenByFeed {
		query.Add("ids[]", feedID)
	}
	if strings.TrimSpace(query.Get("parsed")) == "" {
		query.Set("parsed", "true")
	}
	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

func decodeScaledPrice(raw string, expo int32) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("empty price")
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, err
	}

	if expo < 0 {
		return value / math.Pow10(int(-expo)), nil
	}
	if expo > 0 {
		return value * math.Pow10(int(expo)), nil
	}
	return value, nil
}
