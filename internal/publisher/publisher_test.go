package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jgoulah/mobiletracker/internal/config"
	"github.com/jgoulah/mobiletracker/pkg/models"
)

var testRecord = models.NewRecord(
	models.Snapshot{UsageGB: 12.34, PlanGB: 20, CycleStart: "Jan 1", CycleEnd: "Jan 31"},
	time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC),
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	err          error
	messages     []published
	disconnected bool
}

func (c *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return newFakeToken(c.err)
}

func (c *fakeMQTT) IsConnected() bool       { return !c.disconnected }
func (c *fakeMQTT) Disconnect(quiesce uint) { c.disconnected = true }

func TestPublish_MQTT(t *testing.T) {
	client := &fakeMQTT{}
	p := &Publisher{client: client, topicPrefix: DefaultTopicPrefix}

	if !p.Enabled() {
		t.Fatal("publisher with MQTT client should be enabled")
	}
	if err := p.Publish(context.Background(), testRecord); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(client.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(client.messages))
	}
	msg := client.messages[0]
	if msg.topic != "mobile_data/usage" || !msg.retained {
		t.Errorf("topic=%q retained=%v", msg.topic, msg.retained)
	}

	var got models.UsageRecord
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload is not a usage record: %v", err)
	}
	if got.UsageGB != 12.34 || got.Remaining() != 7.66 || got.WeekEnding != "2025-01-05" {
		t.Errorf("payload = %+v", got)
	}

	p.Close()
	if !client.disconnected {
		t.Error("Close did not disconnect")
	}
}

func TestPublish_HomeAssistant(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody HAState

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p, err := New(config.MQTTConfig{}, config.HAConfig{
		Enabled:  true,
		URL:      srv.URL + "/",
		Token:    "secret",
		EntityID: "sensor.mobile_data_used",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Publish(context.Background(), testRecord); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if gotPath != "/api/states/sensor.mobile_data_used" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.State != "12.34" {
		t.Errorf("state = %q, want 12.34", gotBody.State)
	}
	if gotBody.Attributes["unit_of_measurement"] != "GB" || gotBody.Attributes["plan_gb"] != 20.0 || gotBody.Attributes["cycle_end"] != "Jan 31" {
		t.Errorf("attributes = %v", gotBody.Attributes)
	}
}

func TestPublish_HomeAssistantError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "401: Unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := &fakeMQTT{}
	p := &Publisher{
		client:      client,
		topicPrefix: "phone",
		haConfig:    config.HAConfig{Enabled: true, URL: srv.URL, Token: "bad", EntityID: "sensor.x"},
		httpClient:  srv.Client(),
	}

	err := p.Publish(context.Background(), testRecord)
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("error = %v, want HTTP 401", err)
	}
	if len(client.messages) != 1 {
		t.Fatal("MQTT publish skipped because of the Home Assistant failure")
	}
}

func TestPublish_MQTTError(t *testing.T) {
	boom := errors.New("not connected")
	p := &Publisher{client: &fakeMQTT{err: boom}, topicPrefix: DefaultTopicPrefix}

	if err := p.Publish(context.Background(), testRecord); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(config.MQTTConfig{Enabled: true}, config.HAConfig{}); err == nil {
		t.Error("expected error for MQTT without broker")
	}
	if _, err := New(config.MQTTConfig{}, config.HAConfig{Enabled: true, URL: "http://ha"}); err == nil {
		t.Error("expected error for Home Assistant without token")
	}

	p, err := New(config.MQTTConfig{}, config.HAConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Enabled() {
		t.Error("publisher without destinations should be disabled")
	}
}
