package main

import "github.com/julienstroheker/devicestream/device/cmd"

func main() {
	cmd.Execute()
}
