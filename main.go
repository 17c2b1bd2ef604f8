package main

import (
	"github.com/activebook/gturn/cmd"
)

func main() {
	cmd.Execute()
}
