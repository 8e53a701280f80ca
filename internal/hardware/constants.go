package hardware

// Default device wiring. Overridable from the command line for bench setups.
const (
	DefaultGpioChip   = "gpiochip0"
	DefaultRotaryClk  = 17
	DefaultRotaryDt   = 27
	DefaultRotarySw   = 22
	DefaultAdcDevice  = "iio:device0"
	DefaultAdcChannel = 3
)
