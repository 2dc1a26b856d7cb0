//go:build no_serial
// +build no_serial

package main

import "github.com/urfave/cli/v2"

func app() *cli.App {
	return newApp(simulate)
}
