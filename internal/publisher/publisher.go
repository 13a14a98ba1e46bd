package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/jgoulah/mobiletracker/internal/config"
	"github.com/jgoulah/mobiletracker/pkg/models"
)

// DefaultTopicPrefix is used when mqtt.topic_prefix is not set
const DefaultTopicPrefix = "mobile_data"

// mqttClient is the part of mqtt.Client the publisher uses
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher pushes new usage records to MQTT and/or Home Assistant
type Publisher struct {
	client      mqttClient
	topicPrefix string
	haConfig    config.HAConfig
	httpClient  *http.Client
}

// New creates a new publisher (supports both MQTT and HA HTTP API)
func New(mqttCfg config.MQTTConfig, haCfg config.HAConfig) (*Publisher, error) {
	// Validate HA config if enabled
	if haCfg.Enabled {
		if haCfg.URL == "" {
			return nil, fmt.Errorf("Home Assistant URL is required when enabled")
		}
		if haCfg.Token == "" {
			return nil, fmt.Errorf("Home Assistant token is required when enabled")
		}
		if haCfg.EntityID == "" {
			return nil, fmt.Errorf("Home Assistant entity_id is required when enabled")
		}
	}

	p := &Publisher{
		haConfig:   haCfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	if mqttCfg.Enabled {
		if mqttCfg.Broker == "" {
			return nil, fmt.Errorf("MQTT broker address is required when enabled")
		}

		p.topicPrefix = mqttCfg.TopicPrefix
		if p.topicPrefix == "" {
			p.topicPrefix = DefaultTopicPrefix
		}

		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", mqttCfg.Broker))
		opts.SetClientID("mobiletracker-" + uuid.NewString())
		opts.SetConnectTimeout(10 * time.Second)

		if mqttCfg.Username != "" {
			opts.SetUsername(mqttCfg.Username)
		}
		if mqttCfg.Password != "" {
			opts.SetPassword(mqttCfg.Password)
		}

		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
		}
		p.client = client
	}

	return p, nil
}

// Enabled reports whether any destination is configured
func (p *Publisher) Enabled() bool {
	return p.client != nil || p.haConfig.Enabled
}

// Topic returns the MQTT topic records are published to
func (p *Publisher) Topic() string {
	return p.topicPrefix + "/usage"
}

// Publish sends rec to every configured destination. A failure on one
// destination does not stop the other.
func (p *Publisher) Publish(ctx context.Context, rec models.UsageRecord) error {
	var errs []error
	if p.client != nil {
		if err := p.publishMQTT(rec); err != nil {
			errs = append(errs, err)
		}
	}
	if p.haConfig.Enabled {
		if err := p.publishHA(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) publishMQTT(rec models.UsageRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	token := p.client.Publish(p.Topic(), 1, true, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publishing to %s: timed out", p.Topic())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.Topic(), err)
	}
	return nil
}

// HAState is the body of a Home Assistant POST /api/states/<entity_id> call
type HAState struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func newHAState(rec models.UsageRecord) HAState {
	attrs := map[string]any{
		"unit_of_measurement": "GB",
		"friendly_name":       "Mobile data used",
		"icon":                "mdi:cellphone-arrow-down",
		"week_ending":         rec.WeekEnding,
		"scraped_at":          rec.ScrapedAt.Format(time.RFC3339),
	}
	if rec.HasPlan() {
		attrs["plan_gb"] = rec.PlanGB
		attrs["remaining_gb"] = rec.Remaining()
		attrs["percent_used"] = rec.PercentUsed
	}
	if rec.CycleStart != "" {
		attrs["cycle_start"] = rec.CycleStart
	}
	if rec.CycleEnd != "" {
		attrs["cycle_end"] = rec.CycleEnd
	}

	return HAState{
		State:      fmt.Sprintf("%.2f", rec.UsageGB),
		Attributes: attrs,
	}
}

func (p *Publisher) publishHA(ctx context.Context, rec models.UsageRecord) error {
	apiURL := fmt.Sprintf("%s/api/states/%s", strings.TrimRight(p.haConfig.URL, "/"), url.PathEscape(p.haConfig.EntityID))

	body, err := json.Marshal(newHAState(rec))
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.haConfig.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	// 200 updates an existing entity, 201 creates it
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
