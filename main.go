package main

import "github.com/SVG-campus/KRAKEN-VOLUME/internal/cli"

func main() {
	cli.Execute()
}
