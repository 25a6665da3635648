package main

import "autolender/internal/cli"

func main() {
	cli.Execute()
}
