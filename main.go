package main

import "github.com/AvaProtocol/userop-relay/cmd"

func main() {
	cmd.Execute()
}
