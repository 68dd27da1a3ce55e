package main

import "gitlab.com/circuit-breaker/engine/server/commands"

func main() {
	commands.Execute()
}
