package main

import "github.com/openclaw/openclaw/cmd"

func main() {
	cmd.Execute()
}
