package main

import "github.com/nfrund/quickchat/cmd/quickchat/cmd"

func main() {
	cmd.Execute()
}
