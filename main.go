package main

import "github.com/evlink-io/bluelink/cmd"

func main() {
	cmd.Execute()
}
