package main

import "github.com/flocklabs/flock/cmd"

func main() {
	cmd.Execute()
}
