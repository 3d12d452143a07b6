package main

import "github.com/julienstroheker/devicestream/gateway/cmd"

func main() {
	cmd.Execute()
}
