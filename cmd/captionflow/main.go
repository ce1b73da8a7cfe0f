package main

import "github.com/illmade-knight/captionflow/cmd"

func main() {
	cmd.Execute()
}
