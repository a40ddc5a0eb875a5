package main

import "github.com/ogulcanaydogan/GPU-Broker/internal/cli"

func main() {
	cli.Execute()
}
