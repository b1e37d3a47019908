package main

import "github.com/orbitplan/orbitapi/cmd"

func main() {
	cmd.Execute()
}
