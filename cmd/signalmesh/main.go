package main

import (
	"github.com/signalmesh/signalmesh/commands"

	_ "github.com/signalmesh/signalmesh/llm/providers"
)

func main() {
	commands.Execute()
}
