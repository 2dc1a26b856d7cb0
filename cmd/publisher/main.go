//go:build !no_serial
// +build !no_serial

package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tarm/serial"
	"github.com/urfave/cli/v2"
)

var serialOpts struct {
	Port string
	Baud int
	Sim  bool
}

func app() *cli.App {
	return newApp(produce,
		&cli.StringFlag{
			Name:        "port",
			Usage:       "serial port for arduino",
			Value:       "/dev/ttyUSB0",
			EnvVars:     []string{"SERIAL_PORT"},
			Destination: &serialOpts.Port,
		},
		&cli.IntFlag{
			Name:        "baud",
			Usage:       "serial baud rate",
			Value:       9600,
			EnvVars:     []string{"SERIAL_BAUD"},
			Destination: &serialOpts.Baud,
		},
		&cli.BoolFlag{
			Name:        "sim",
			Usage:       "simulate the sensor instead of reading serial",
			Value:       true,
			EnvVars:     []string{"SIMULATE"},
			Destination: &serialOpts.Sim,
		},
	)
}

func produce(ctx context.Context, logger zerolog.Logger, publish func(string)) error {
	if serialOpts.Sim {
		return simulate(ctx, logger, publish)
	}

	s, err := serial.OpenPort(&serial.Config{Name: serialOpts.Port, Baud: serialOpts.Baud})
	if err != nil {
		return fmt.Errorf("open serial %s: %w", serialOpts.Port, err)
	}
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	logger.Info().Str("port", serialOpts.Port).Int("baud", serialOpts.Baud).Msg("reading soil sensor")

	scanner := bufio.NewScanner(s)
	for scanner.Scan() {
		if line := readingFromLine(scanner.Text()); line != "" {
			publish(line)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("serial read: %w", err)
	}
	return nil
}

// readingFromLine extracts the value from a sensor line. The sketch prints
// either the bare value or "label,value".
func readingFromLine(line string) string {
	line = strings.TrimSpace(line)
	if i := strings.LastIndexByte(line, ','); i >= 0 {
		line = strings.TrimSpace(line[i+1:])
	}
	return line
}
