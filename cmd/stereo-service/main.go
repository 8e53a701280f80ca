package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"stereo-service/internal/core"
	"stereo-service/internal/hardware"
	"stereo-service/internal/input"
	"stereo-service/internal/logger"
	"stereo-service/internal/messaging"
)

func main() {
	var (
		serviceLogLevel int
		redisHost       string
		redisPort       int
		gpioChip        string
		rotaryClk       int
		rotaryDt        int
		rotarySw        int
		adcDevice       string
		adcChannel      int
	)
	flag.IntVar(&serviceLogLevel, "log", 3, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	flag.StringVar(&redisHost, "redis-host", "127.0.0.1", "Redis host")
	flag.IntVar(&redisPort, "redis-port", 6379, "Redis port")
	flag.StringVar(&gpioChip, "gpiochip", hardware.DefaultGpioChip, "GPIO chip for the rotary encoder")
	flag.IntVar(&rotaryClk, "rotary-clk", hardware.DefaultRotaryClk, "Rotary CLK line offset")
	flag.IntVar(&rotaryDt, "rotary-dt", hardware.DefaultRotaryDt, "Rotary DT line offset")
	flag.IntVar(&rotarySw, "rotary-sw", hardware.DefaultRotarySw, "Rotary push switch line offset")
	flag.StringVar(&adcDevice, "adc-device", hardware.DefaultAdcDevice, "IIO device for the button ladder")
	flag.IntVar(&adcChannel, "adc-channel", hardware.DefaultAdcChannel, "IIO voltage channel for the button ladder")

	flag.Parse()

	// Create standard logger with appropriate format
	var stdLogger *log.Logger
	if os.Getenv("INVOCATION_ID") != "" {
		// Running under systemd, use minimal format
		stdLogger = log.New(os.Stdout, "", 0)
	} else {
		// Running interactively, use timestamps
		stdLogger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}

	l := logger.NewLogger(stdLogger, logger.LogLevel(serviceLogLevel))

	l.Infof("Starting stereo service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redis := messaging.NewRedisClient(redisHost, redisPort, l, messaging.Callbacks{})
	queue := input.NewQueue(l)
	system := core.NewStereoSystem(redis, queue, l)

	if err := system.Start(ctx); err != nil {
		l.Fatalf("Failed to start system: %v", err)
	}

	// Input pipeline: ladder polling plus rotary edges, all feeding the queue.
	classifier := input.NewClassifier(l)
	synth := input.NewLadderSynthesizer(hardware.Monotonic, queue.Push, l)
	decoder := input.NewRotaryDecoder(hardware.Monotonic, queue.Push, l)

	lines, err := hardware.OpenRotaryLines(gpioChip, rotaryClk, rotaryDt, rotarySw, decoder.HandleEdge, l)
	if err != nil {
		l.Fatalf("Failed to open rotary encoder lines: %v", err)
	}
	defer lines.Close()

	source := hardware.NewIIOAnalogSource(adcDevice, adcChannel)
	monitor := input.NewMonitor(source, classifier, synth, decoder, l)
	go monitor.Run(ctx)

	l.Infof("System started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	l.Infof("Received signal %v, shutting down...", sig)
	cancel()
	system.Shutdown()
	l.Infof("Shutdown complete")
}
