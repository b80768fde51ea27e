package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	coremetrics "github.com/kilianp07/lifespan/core/metrics"
	"github.com/kilianp07/lifespan/infra/logger"
)

// MQTTConfig defines the broker connection of an MQTTSink.
type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Prefix is prepended to the respace, validation and run topics.
	Prefix     string `json:"prefix"`
	QoS        byte   `json:"qos"`
	Retain     bool   `json:"retain"`
	MaxRetries int    `json:"max_retries"`
	BackoffMS  int    `json:"backoff_ms"`
	TimeoutMS  int    `json:"timeout_ms"`
}

func (c *MQTTConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "lifespan"
	}
	if c.ClientID == "" {
		c.ClientID = "lifespan-metrics"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 5000
	}
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// MQTTSink publishes respacing results as JSON messages to an MQTT broker.
type MQTTSink struct {
	cli     pahoClient
	cfg     MQTTConfig
	backoff time.Duration
	timeout time.Duration
	log     logger.Logger
}

// NewMQTTSink connects to the broker described by cfg.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt sink: broker is required")
	}
	cfg.setDefaults()
	log := logger.New("mqtt-sink")
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	s := &MQTTSink{
		cfg:     cfg,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		log:     log,
	}
	c := newMQTTClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(s.timeout) {
		return nil, fmt.Errorf("mqtt sink: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt sink: connect: %w", err)
	}
	s.cli = c
	return s, nil
}

type respaceMessage struct {
	RunID       string         `json:"run_id"`
	Param       string         `json:"param"`
	Kind        string         `json:"kind"`
	Node        string         `json:"node"`
	Technology  string         `json:"technology"`
	Outcome     string         `json:"outcome"`
	Added       int            `json:"added"`
	Removed     int            `json:"removed"`
	Passes      int            `json:"passes"`
	Diagnostics map[string]int `json:"diagnostics,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

type validationMessage struct {
	RunID            string `json:"run_id"`
	Param            string `json:"param"`
	Node             string `json:"node"`
	Technology       string `json:"technology"`
	Missing          int    `json:"missing"`
	Extra            int    `json:"extra"`
	RemainingMissing int    `json:"remaining_missing"`
	RemainingExtra   int    `json:"remaining_extra"`
	Timestamp        int64  `json:"timestamp"`
}

type runMessage struct {
	RunID      string `json:"run_id"`
	Technology string `json:"technology"`
	Nodes      int    `json:"nodes"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	CommitID   string `json:"commit_id,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Timestamp  int64  `json:"timestamp"`
}

// RecordRespace publishes one message per event to <prefix>/respace/<param>.
func (s *MQTTSink) RecordRespace(events []coremetrics.RespaceEvent) error {
	var errs []error
	for _, ev := range events {
		msg := respaceMessage{
			RunID:       ev.RunID,
			Param:       ev.Param,
			Kind:        ev.Kind,
			Node:        ev.Node,
			Technology:  ev.Technology,
			Outcome:     string(ev.Outcome),
			Added:       ev.Added,
			Removed:     ev.Removed,
			Passes:      ev.Passes,
			Diagnostics: ev.Diagnostics,
			Timestamp:   ev.Time.UnixMilli(),
		}
		if err := s.publish(s.cfg.Prefix+"/respace/"+ev.Param, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordValidation publishes to <prefix>/validation/<param>.
func (s *MQTTSink) RecordValidation(ev coremetrics.ValidationEvent) error {
	return s.publish(s.cfg.Prefix+"/validation/"+ev.Param, validationMessage{
		RunID:            ev.RunID,
		Param:            ev.Param,
		Node:             ev.Node,
		Technology:       ev.Technology,
		Missing:          ev.Missing,
		Extra:            ev.Extra,
		RemainingMissing: ev.RemainingMissing,
		RemainingExtra:   ev.RemainingExtra,
		Timestamp:        ev.Time.UnixMilli(),
	})
}

// RecordRun publishes the run summary to <prefix>/run.
func (s *MQTTSink) RecordRun(ev coremetrics.RunEvent) error {
	return s.publish(s.cfg.Prefix+"/run", runMessage{
		RunID:      ev.RunID,
		Technology: ev.Technology,
		Nodes:      ev.Nodes,
		Skipped:    ev.Skipped,
		Failed:     ev.Failed,
		CommitID:   ev.CommitID,
		DurationMS: ev.Duration.Milliseconds(),
		Timestamp:  ev.Time.UnixMilli(),
	})
}

func (s *MQTTSink) publish(topic string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var publishErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		token := s.cli.Publish(topic, s.cfg.QoS, s.cfg.Retain, payload)
		if !token.WaitTimeout(s.timeout) {
			publishErr = fmt.Errorf("publish to %s timed out", topic)
		} else {
			publishErr = token.Error()
		}
		if publishErr == nil {
			return nil
		}
		s.log.Warnf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt < s.cfg.MaxRetries {
			time.Sleep(s.backoff * time.Duration(1<<attempt))
		}
	}
	return publishErr
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() {
	if s.cli != nil && s.cli.IsConnected() {
		s.cli.Disconnect(250)
	}
}
