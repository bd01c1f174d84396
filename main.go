package main

import "github.com/audiolibrelab/devswitch/cmd"

func main() {
	cmd.Execute()
}
