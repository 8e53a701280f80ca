package core

import (
	"stereo-service/internal/messaging"
	"stereo-service/internal/types"
)

// MessagingClient defines the interface for Redis messaging operations needed by StereoSystem
type MessagingClient interface {
	SetCallbacks(callbacks messaging.Callbacks)
	Connect() error
	StartListening() error
	Close() error

	// State publication
	PublishPower(on bool) error
	PublishMode(mode types.OperatingMode) error

	// Persisted settings
	SaveTuning(band types.Band, frequency float64) error
	SaveVolume(field string, volume uint8) error
	SavePreset(band types.Band, slot int, frequency float64) error
	LoadSettings() (*messaging.StoredSettings, error)

	// Device profiles
	SaveDeviceProfiles(blobs [][]byte) error
	LoadDeviceProfiles() ([][]byte, error)

	// Display
	PublishNotification(n types.Notification) error

	// Commands to the tuner and Bluetooth stack
	SendCommand(channel, command string) error
	SetBluetoothVolume(kind string, volume uint8) error
	RequestPlayback(action string) error
	RequestCall(action string) error
	RequestVoice(action string) error
	TuneFrequency(frequency float64) error
	SetTunerBand(band types.Band) error
}
