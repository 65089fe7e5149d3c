package main

import (
	"github.com/protosim/protosim/cmd"
)

func main() {
	cmd.Execute()
}
