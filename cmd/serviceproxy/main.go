package main

import "github.com/julienstroheker/devicestream/service/cmd"

func main() {
	cmd.Execute()
}
