package main

import "github.com/AvaProtocol/ethuo/cmd"

func main() {
	cmd.Execute()
}
