package main

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Tutortoise/object-detection-service/logging"
	"github.com/Tutortoise/object-detection-service/models"
)

type mqttRequest struct {
	RequestID string `json:"requestId"`
	Image     string `json:"image"`
}

type mqttResponse struct {
	RequestID string `json:"requestId"`
	Status    int    `json:"status"`
	Message   string `json:"message"`
	// Objects is set on success only, and then always encodes as a list.
	Objects *[]string `json:"objects,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// mqttBridge serves analyze requests received over MQTT and publishes each
// result to <responseTopic>/<requestId>.
type mqttBridge struct {
	client        mqtt.Client
	state         *AppState
	requestTopic  string
	responseTopic string
	timeout       time.Duration
}

func startMQTTBridge(s *AppState) (*mqttBridge, error) {
	cfg := s.Config
	b := &mqttBridge{
		state:         s,
		requestTopic:  cfg.MQTTRequestTopic,
		responseTopic: cfg.MQTTResponseTopic,
		timeout:       cfg.WriteTimeout,
	}

	clientID := uuid.New().String()
	s.Log.WithFields(logging.Fields{
		"broker":    cfg.MQTTBroker,
		"client_id": clientID,
	}).Info("Connecting to MQTT")

	opts := mqtt.NewClientOptions().AddBroker(cfg.MQTTBroker).SetClientID(clientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(c mqtt.Client) {
		token := c.Subscribe(b.requestTopic, 0, b.onMessage)
		if token.Wait() && token.Error() != nil {
			s.Log.WithError(token.Error()).Error("MQTT subscribe failed")
			return
		}
		s.Log.WithField("topic", b.requestTopic).Info("Subscribed")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.Log.WithError(err).Warn("MQTT connection lost")
	}

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	return b, nil
}

func (b *mqttBridge) onMessage(c mqtt.Client, m mqtt.Message) {
	payload := m.Payload()
	go func() {
		topic, body, err := b.handle(payload)
		if err != nil {
			b.state.Log.WithError(err).Warn("[RPC] dropping request")
			return
		}
		if token := c.Publish(topic, 0, false, body); token.Wait() && token.Error() != nil {
			b.state.Log.WithError(token.Error()).WithField("topic", topic).Error("[RPC] publish failed")
		}
	}()
}

// handle runs one request payload and returns the response topic and body.
func (b *mqttBridge) handle(payload []byte) (string, []byte, error) {
	var req mqttRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", nil, fmt.Errorf("parse request: %w", err)
	}
	if req.RequestID == "" {
		return "", nil, fmt.Errorf("request has no requestId")
	}

	ctx := logging.WithRequestID(context.Background(), req.RequestID)
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	logging.FromContext(ctx, b.state.Log).Info("[RPC] request received")
	status, result := b.state.analyze(ctx, models.AnalyzeRequest{Image: req.Image})

	resp := mqttResponse{RequestID: req.RequestID, Status: status}
	switch r := result.(type) {
	case models.AnalyzeResponse:
		resp.Message = r.Message
		objects := r.Objects
		if objects == nil {
			objects = []string{}
		}
		resp.Objects = &objects
	case models.ErrorResponse:
		resp.Message = r.Message
		resp.Error = r.Error
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return "", nil, fmt.Errorf("encode response: %w", err)
	}
	return b.responseTopic + "/" + req.RequestID, body, nil
}

func (b *mqttBridge) Close() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Unsubscribe(b.requestTopic).WaitTimeout(time.Second)
		b.client.Disconnect(250)
	}
}
