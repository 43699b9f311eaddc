package main

import "github.com/javi11/ingestord/cmd/ingestord/cmd"

func main() {
	cmd.Execute()
}
