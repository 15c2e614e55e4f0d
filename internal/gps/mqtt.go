// Package gps ingests location reports pushed by in-car GPS devices over MQTT.
package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"carrent-backend/internal/apperr"
	"carrent-backend/internal/domain"
	"carrent-backend/internal/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TopicFilter matches cars/{carID}/gps.
const TopicFilter = "cars/+/gps"

// Recorder is the telemetry entry point a report is handed to.
type Recorder interface {
	RecordLocation(ctx context.Context, carID int32, lat, lon float64) (*domain.TripTracking, error)
}

type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
	// HandleTimeout bounds the work done for one report.
	HandleTimeout time.Duration
}

// Report is the device payload.
type Report struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Subscriber struct {
	cfg      Config
	recorder Recorder
	client   mqtt.Client
}

func NewSubscriber(cfg Config, recorder Recorder) *Subscriber {
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 10 * time.Second
	}
	return &Subscriber{cfg: cfg, recorder: recorder}
}

// Start connects to the broker. The subscription is renewed on every
// reconnect.
func (s *Subscriber) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetUsername(s.cfg.Username).
		SetPassword(s.cfg.Password).
		SetAutoReconnect(true).
		SetCleanSession(false).
		SetOnConnectHandler(func(c mqtt.Client) {
			token := c.Subscribe(TopicFilter, s.cfg.QoS, s.HandleMessage)
			token.Wait()
			if err := token.Error(); err != nil {
				logger.Error("mqtt: subscribe failed", "topic", TopicFilter, "error", err)
				return
			}
			logger.Info("mqtt: subscribed", "topic", TopicFilter)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt: connection lost", "error", err)
		})

	s.client = mqtt.NewClient(opts)
	logger.ExternalServiceCall("mqtt", "Connect", "broker", s.cfg.BrokerURL)
	token := s.client.Connect()
	token.Wait()
	err := token.Error()
	logger.ExternalServiceResult("mqtt", "Connect", err)
	if err != nil {
		return fmt.Errorf("connect mqtt broker: %w", err)
	}
	return nil
}

func (s *Subscriber) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

// HandleMessage is the paho callback for TopicFilter. Bad reports are logged
// and dropped; the device will send another.
func (s *Subscriber) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	carID, err := ParseCarID(msg.Topic())
	if err != nil {
		logger.Warn("mqtt: ignoring message", "topic", msg.Topic(), "error", err)
		return
	}
	var r Report
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		logger.Warn("mqtt: malformed report", "car_id", carID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandleTimeout)
	defer cancel()
	if _, err := s.recorder.RecordLocation(ctx, carID, r.Lat, r.Lon); err != nil {
		if apperr.Is(err, apperr.KindValidation) || apperr.Is(err, apperr.KindNotFound) {
			logger.Warn("mqtt: report rejected", "car_id", carID, "error", err)
			return
		}
		logger.Error("mqtt: record location failed", "car_id", carID, "error", err)
	}
}

// ParseCarID extracts the car id from cars/{carID}/gps.
func ParseCarID(topic string) (int32, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "cars" || parts[2] != "gps" {
		return 0, fmt.Errorf("unexpected topic %q", topic)
	}
	id, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid car id in topic %q", topic)
	}
	return int32(id), nil
}
