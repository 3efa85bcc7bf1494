package main

import (
	"avgx-index/internal/cli"
)

func main() {
	cli.Execute()
}
