package main

import "miszen/cmd/zenctl/command"

func main() {
	command.Execute()
}
