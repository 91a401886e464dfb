package main

import "landingzone/internal/cli"

func main() {
	cli.Execute()
}
