package main

import "barwatch/internal/cli"

func main() {
	cli.Execute()
}
