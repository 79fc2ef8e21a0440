package main

import (
	"github.com/luma/coolsocket/cmd"
)

func main() {
	cmd.Execute()
}
