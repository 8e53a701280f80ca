package hardware

import (
	"fmt"
	"os"
	"time"
)

const (
	adcSamples       = 4
	adcSampleSpacing = time.Millisecond
)

// ReadAdcValue reads one raw sample from an IIO ADC channel via sysfs.
func ReadAdcValue(device string, channel int) (int, error) {
	path := fmt.Sprintf("/sys/bus/iio/devices/%s/in_voltage%d_raw", device, channel)
	data, err := os.ReadFile(path)
	if err != nil {
		return -1, fmt.Errorf("failed reading %s: %w", path, err)
	}

	var value int
	if _, err := fmt.Sscanf(string(data), "%d", &value); err != nil {
		return -1, fmt.Errorf("failed parsing ADC value: %w", err)
	}
	return value, nil
}

// IIOAnalogSource reads the button-ladder voltage through the IIO sysfs
// interface. Each Read averages a short burst of samples so a single
// conversion landing mid-bounce cannot misclassify a button.
type IIOAnalogSource struct {
	device  string
	channel int
}

func NewIIOAnalogSource(device string, channel int) *IIOAnalogSource {
	return &IIOAnalogSource{device: device, channel: channel}
}

func (s *IIOAnalogSource) Read() (int, error) {
	sum := 0
	for i := 0; i < adcSamples; i++ {
		if i > 0 {
			time.Sleep(adcSampleSpacing)
		}
		v, err := ReadAdcValue(s.device, s.channel)
		if err != nil {
			return -1, err
		}
		sum += v
	}
	return sum / adcSamples, nil
}
