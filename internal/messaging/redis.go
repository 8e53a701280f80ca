package messaging

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"stereo-service/internal/logger"
	"stereo-service/internal/types"

	"github.com/redis/go-redis/v9"
)

type Callbacks struct {
	CallCallback    func(status, callerID string) error      // "incoming", "active", "inactive"
	StreamCallback  func(active bool) error                  // A2DP stream start/stop
	DeviceCallback  func(connected bool, mac string) error   // device connect/disconnect
	TrackCallback   func(title, artist string) error         // AVRCP track metadata
	RdsCallback     func(station, song string) error         // tuner RDS text
	ControlCallback func(value string) error                 // "power:on", "mode:radio", ...
}

// StoredSettings is the persisted state read back at startup. Found is false
// when the hash has never been written (first boot).
type StoredSettings struct {
	Found            bool
	Power            bool
	Mode             types.OperatingMode
	Radio            types.RadioState
	A2DPVolume       uint8
	HFPSpeakerVolume uint8
	HFPMicVolume     uint8
}

type RedisClient struct {
	client    *redis.Client
	callbacks Callbacks
	logger    *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewRedisClient(host string, port int, l *logger.Logger, callbacks Callbacks) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", host, port),
			DB:   0,
		}),
		callbacks: callbacks,
		logger:    l,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetCallbacks installs the event callbacks. Must be called before
// StartListening.
func (r *RedisClient) SetCallbacks(callbacks Callbacks) {
	r.callbacks = callbacks
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		r.logger.Infof("Redis connection failed: %v", err)
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")

	// A call may already be in progress from before our restart.
	call, err := r.client.HGet(r.ctx, "bluetooth", "call").Result()
	if err != nil && err != redis.Nil {
		r.logger.Infof("Failed to get initial call state: %v", err)
	} else if call == "active" || call == "incoming" {
		caller, _ := r.client.HGet(r.ctx, "bluetooth", "caller-id").Result()
		r.logger.Infof("Call already in progress at startup (caller %q)", caller)
		if r.callbacks.CallCallback != nil {
			if err := r.callbacks.CallCallback(call, caller); err != nil {
				r.logger.Infof("Failed to handle initial call state: %v", err)
			}
		}
	}

	return nil
}

// StartListening starts all Redis listeners after system initialization is complete
func (r *RedisClient) StartListening() error {
	r.logger.Infof("Starting Redis listeners")

	pubsub := r.client.Subscribe(r.ctx, "bluetooth", "tuner")
	r.logger.Infof("Subscribed to Redis channels: bluetooth, tuner")

	r.wg.Add(1)
	go r.redisListener(pubsub)

	r.wg.Add(1)
	go r.listCommandListener("stereo:control", r.handleControlCommand)

	return nil
}

func (r *RedisClient) listCommandListener(key string, handler func(string) error) {
	defer r.wg.Done()
	r.logger.Infof("Starting list command listener for %s", key)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting %s listener", key)
			return
		default:
			// Use BRPOP with a short timeout to allow periodic context cancellation checks
			result, err := r.client.BRPop(r.ctx, 5*time.Second, key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if err == context.Canceled {
					r.logger.Infof("Context cancelled, exiting %s listener", key)
					return
				}
				r.logger.Infof("Error reading from %s list: %v", key, err)
				continue
			}

			if len(result) >= 2 { // BRPOP returns [key, value]
				value := result[1]
				r.logger.Debugf("Received command from %s: %s", key, value)
				if err := handler(value); err != nil {
					r.logger.Warnf("Error handling %s command: %v", key, err)
				}
			}
		}
	}
}

func (r *RedisClient) handleControlCommand(value string) error {
	if r.callbacks.ControlCallback == nil {
		return nil
	}
	switch value {
	case "power:on", "power:off", "mode:radio", "mode:bluetooth",
		"phonebook:open", "phonebook:close", "save":
		return r.callbacks.ControlCallback(value)
	default:
		r.logger.Infof("Invalid control command value: %s", value)
		return fmt.Errorf("invalid control command: %s", value)
	}
}

func (r *RedisClient) redisListener(pubsub *redis.PubSub) {
	defer r.wg.Done()
	defer pubsub.Close()

	r.logger.Infof("Starting Redis message listener")
	channel := pubsub.Channel()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting listener")
			return
		case msg, ok := <-channel:
			if !ok {
				r.logger.Infof("Redis channel closed unexpectedly")
				r.logger.Fatalf("Redis connection lost, exiting to allow systemd restart")
			}
			if msg == nil {
				r.logger.Infof("Received nil Redis message")
				r.logger.Fatalf("Redis connection lost, exiting to allow systemd restart")
			}

			r.logger.Debugf("Received Redis message: channel=%s payload=%s", msg.Channel, msg.Payload)

			switch msg.Channel {
			case "bluetooth":
				// Payload names the hash field that changed.
				r.processBluetoothMessage(msg.Payload)
			case "tuner":
				if msg.Payload == "rds" {
					r.processRdsUpdate()
				}
			}
		}
	}
}

func (r *RedisClient) processBluetoothMessage(field string) {
	switch field {
	case "call":
		call, err := r.client.HGet(r.ctx, "bluetooth", "call").Result()
		if err != nil && err != redis.Nil {
			r.logger.Infof("Failed to get call state: %v", err)
			return
		}
		caller, _ := r.client.HGet(r.ctx, "bluetooth", "caller-id").Result()
		if r.callbacks.CallCallback != nil {
			if err := r.callbacks.CallCallback(call, caller); err != nil {
				r.logger.Infof("Failed to handle call state: %v", err)
			}
		}

	case "stream":
		stream, err := r.client.HGet(r.ctx, "bluetooth", "stream").Result()
		if err != nil && err != redis.Nil {
			r.logger.Infof("Failed to get stream state: %v", err)
			return
		}
		if r.callbacks.StreamCallback != nil {
			if err := r.callbacks.StreamCallback(stream == "active"); err != nil {
				r.logger.Infof("Failed to handle stream state: %v", err)
			}
		}

	case "device":
		device, err := r.client.HGet(r.ctx, "bluetooth", "device").Result()
		if err != nil && err != redis.Nil {
			r.logger.Infof("Failed to get device state: %v", err)
			return
		}
		if r.callbacks.DeviceCallback == nil {
			return
		}
		if mac, ok := strings.CutPrefix(device, "connected:"); ok {
			if err := r.callbacks.DeviceCallback(true, mac); err != nil {
				r.logger.Infof("Failed to handle device connect: %v", err)
			}
		} else if device == "disconnected" {
			if err := r.callbacks.DeviceCallback(false, ""); err != nil {
				r.logger.Infof("Failed to handle device disconnect: %v", err)
			}
		} else {
			r.logger.Infof("Unhandled device state value: %s", device)
		}

	case "track":
		title, _ := r.client.HGet(r.ctx, "bluetooth", "track:title").Result()
		artist, _ := r.client.HGet(r.ctx, "bluetooth", "track:artist").Result()
		if r.callbacks.TrackCallback != nil {
			if err := r.callbacks.TrackCallback(title, artist); err != nil {
				r.logger.Infof("Failed to handle track metadata: %v", err)
			}
		}

	default:
		r.logger.Debugf("Ignoring bluetooth field: %s", field)
	}
}

func (r *RedisClient) processRdsUpdate() {
	station, _ := r.client.HGet(r.ctx, "tuner", "rds:station").Result()
	song, _ := r.client.HGet(r.ctx, "tuner", "rds:song").Result()
	if r.callbacks.RdsCallback != nil {
		if err := r.callbacks.RdsCallback(station, song); err != nil {
			r.logger.Infof("Failed to handle RDS update: %v", err)
		}
	}
}

// publishHashSet is a helper that atomically updates hash fields and publishes a notification
func (r *RedisClient) publishHashSet(hash string, fields map[string]interface{}, channel, payload string) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, hash, fields)
	pipe.Publish(r.ctx, channel, payload)
	_, err := pipe.Exec(r.ctx)
	return err
}

// === Persisted settings ===

// Frequencies are stored as integers scaled by 100 so float formatting can
// never drift a station value across restarts.
func encodeFrequency(f float64) string {
	return strconv.Itoa(int(math.Round(f * 100)))
}

func decodeFrequency(s string) (float64, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return float64(n) / 100, true
}

func (r *RedisClient) PublishPower(on bool) error {
	value := "off"
	if on {
		value = "on"
	}
	if err := r.publishHashSet("stereo", map[string]interface{}{"power": value}, "stereo", "power"); err != nil {
		r.logger.Warnf("Failed to publish power state: %v", err)
		return err
	}
	return nil
}

func (r *RedisClient) PublishMode(mode types.OperatingMode) error {
	r.logger.Infof("Publishing operating mode: %s", mode)
	if err := r.publishHashSet("stereo", map[string]interface{}{"mode": string(mode)}, "stereo", "mode"); err != nil {
		r.logger.Warnf("Failed to publish mode: %v", err)
		return err
	}
	return nil
}

func (r *RedisClient) SaveTuning(band types.Band, frequency float64) error {
	r.logger.Debugf("Saving tuning: band=%s frequency=%.2f", band, frequency)
	fields := map[string]interface{}{
		"band":      string(band),
		"frequency": encodeFrequency(frequency),
	}
	if err := r.publishHashSet("stereo", fields, "stereo", "frequency"); err != nil {
		r.logger.Warnf("Failed to save tuning: %v", err)
		return err
	}
	return nil
}

func (r *RedisClient) SaveVolume(field string, volume uint8) error {
	r.logger.Debugf("Saving volume %s=%d", field, volume)
	key := "volume:" + field
	if err := r.publishHashSet("stereo", map[string]interface{}{key: int(volume)}, "stereo", key); err != nil {
		r.logger.Warnf("Failed to save volume %s: %v", field, err)
		return err
	}
	return nil
}

func (r *RedisClient) SavePreset(band types.Band, slot int, frequency float64) error {
	r.logger.Infof("Saving preset %s/%d = %.2f", band, slot+1, frequency)
	key := fmt.Sprintf("preset:%s:%d", band, slot+1)
	if err := r.publishHashSet("stereo", map[string]interface{}{key: encodeFrequency(frequency)}, "stereo", key); err != nil {
		r.logger.Warnf("Failed to save preset: %v", err)
		return err
	}
	return nil
}

// LoadSettings reads the entire persisted hash in one round trip.
func (r *RedisClient) LoadSettings() (*StoredSettings, error) {
	values, err := r.client.HGetAll(r.ctx, "stereo").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	s := &StoredSettings{Found: len(values) > 0}
	if !s.Found {
		r.logger.Infof("No persisted settings found")
		return s, nil
	}

	s.Power = values["power"] == "on"
	s.Mode = types.OperatingMode(values["mode"])
	s.Radio.Band = types.Band(values["band"])
	if f, ok := decodeFrequency(values["frequency"]); ok {
		s.Radio.Frequency = f
	}
	s.Radio.Volume = parseVolume(values["volume:radio"], s.Radio.Volume)
	s.A2DPVolume = parseVolume(values["volume:a2dp"], s.A2DPVolume)
	s.HFPSpeakerVolume = parseVolume(values["volume:hfp-speaker"], s.HFPSpeakerVolume)
	s.HFPMicVolume = parseVolume(values["volume:hfp-mic"], s.HFPMicVolume)

	for slot := 0; slot < 5; slot++ {
		if f, ok := decodeFrequency(values[fmt.Sprintf("preset:fm:%d", slot+1)]); ok {
			s.Radio.PresetsFM[slot] = f
		}
		if f, ok := decodeFrequency(values[fmt.Sprintf("preset:am:%d", slot+1)]); ok {
			s.Radio.PresetsAM[slot] = f
		}
	}

	r.logger.Infof("Loaded settings: mode=%s band=%s frequency=%.2f", s.Mode, s.Radio.Band, s.Radio.Frequency)
	return s, nil
}

func parseVolume(s string, fallback uint8) uint8 {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 15 {
		return fallback
	}
	return uint8(n)
}

// === Device profiles ===

// SaveDeviceProfiles writes the paired-device table as hex blobs. The whole
// table is rewritten so slot eviction cannot leave stale entries behind.
func (r *RedisClient) SaveDeviceProfiles(blobs [][]byte) error {
	fields := map[string]interface{}{"count": len(blobs)}
	for i, blob := range blobs {
		fields[strconv.Itoa(i)] = hex.EncodeToString(blob)
	}

	pipe := r.client.Pipeline()
	pipe.Del(r.ctx, "stereo:devices")
	pipe.HSet(r.ctx, "stereo:devices", fields)
	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Warnf("Failed to save device profiles: %v", err)
		return err
	}
	r.logger.Debugf("Saved %d device profiles", len(blobs))
	return nil
}

func (r *RedisClient) LoadDeviceProfiles() ([][]byte, error) {
	values, err := r.client.HGetAll(r.ctx, "stereo:devices").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load device profiles: %w", err)
	}

	count, err := strconv.Atoi(values["count"])
	if err != nil || count <= 0 {
		return nil, nil
	}

	var blobs [][]byte
	for i := 0; i < count; i++ {
		blob, err := hex.DecodeString(values[strconv.Itoa(i)])
		if err != nil {
			r.logger.Warnf("Discarding corrupt device profile %d: %v", i, err)
			continue
		}
		blobs = append(blobs, blob)
	}
	r.logger.Infof("Loaded %d device profiles", len(blobs))
	return blobs, nil
}

// === Display ===

// PublishNotification hands a record to the external display renderer.
func (r *RedisClient) PublishNotification(n types.Notification) error {
	r.logger.Debugf("Publishing notification: category=%s text=%q", n.Category, n.Text)

	fields := map[string]interface{}{
		"category": string(n.Category),
		"text":     types.Truncate(n.Text, types.MaxNotificationText),
		"subtext":  types.Truncate(n.Subtext, types.MaxNotificationSubtext),
		"duration": n.Duration.Milliseconds(),
		"priority": int(n.Priority),
	}

	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "display:notification", fields)
	pipe.Publish(r.ctx, "display", "notification")
	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Warnf("Failed to publish notification: %v", err)
		return err
	}
	return nil
}

// === Outbound commands ===

// SendCommand sends a command to a Redis list (for communication with other services)
func (r *RedisClient) SendCommand(channel, command string) error {
	err := r.client.LPush(r.ctx, channel, command).Err()
	if err != nil {
		r.logger.Infof("Failed to send command '%s' to channel '%s': %v", command, channel, err)
		return err
	}
	r.logger.Infof("Sent command '%s' to channel '%s'", command, channel)
	return nil
}

func (r *RedisClient) SetBluetoothVolume(kind string, volume uint8) error {
	return r.SendCommand("bluetooth:volume", fmt.Sprintf("%s:%d", kind, volume))
}

func (r *RedisClient) RequestPlayback(action string) error {
	return r.SendCommand("bluetooth:playback", action)
}

func (r *RedisClient) RequestCall(action string) error {
	return r.SendCommand("bluetooth:call", action)
}

func (r *RedisClient) RequestVoice(action string) error {
	return r.SendCommand("bluetooth:voice", action)
}

func (r *RedisClient) TuneFrequency(frequency float64) error {
	return r.SendCommand("tuner:frequency", encodeFrequency(frequency))
}

func (r *RedisClient) SetTunerBand(band types.Band) error {
	return r.SendCommand("tuner:band", string(band))
}

func (r *RedisClient) Close() error {
	r.logger.Infof("Closing Redis client")
	r.cancel()

	// Wait for all goroutines to finish with a timeout
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Infof("All Redis goroutines finished")
	case <-time.After(5 * time.Second):
		r.logger.Infof("Timeout waiting for Redis goroutines to finish")
	}

	return r.client.Close()
}
